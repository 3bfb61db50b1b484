package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"gigescrow/core/types"
)

const (
	TypeOrderCreated           = "order.created"
	TypeOrderExecutionStarted  = "order.execution_started"
	TypeOrderApproved          = "order.approved"
	TypeOrderFeePaid           = "order.fee_paid"
	TypeOrderCanceled          = "order.canceled"
	TypeOrderJudged            = "order.judged"
	TypeOrderContractorUpdated = "order.contractor_updated"
	TypePaymentTokenAdded      = "payment_token.added"
	TypePaymentTokenRemoved    = "payment_token.removed"
	TypeFeePercentUpdated      = "fee.percent_updated"
	TypeFeeReceiverUpdated     = "fee.receiver_updated"
	TypeCustodyWithdrawn       = "custody.emergency_withdrawn"
	TypeSystemPaused           = "system.paused"
	TypeSystemResumed          = "system.resumed"
	TypeRoleGranted            = "access.role_granted"
	TypeRoleRevoked            = "access.role_revoked"
)

// OrderCreated is emitted when a customer registers a new order.
type OrderCreated struct {
	OrderID         uint64
	Customer        common.Address
	Currency        common.Address
	Title           string
	DescriptionLink string
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

func (e OrderCreated) Event() *types.Event {
	return &types.Event{Type: TypeOrderCreated, Attributes: map[string]string{
		"orderId":         formatID(e.OrderID),
		"customer":        e.Customer.Hex(),
		"currency":        e.Currency.Hex(),
		"title":           e.Title,
		"descriptionLink": e.DescriptionLink,
	}}
}

// OrderExecutionStarted is emitted once funds are in custody and the contractor
// is assigned. Refund is the native overpayment returned to the customer.
type OrderExecutionStarted struct {
	OrderID    uint64
	Customer   common.Address
	Contractor common.Address
	Currency   common.Address
	Price      *big.Int
	Deadline   int64
	Refund     *big.Int
}

func (OrderExecutionStarted) EventType() string { return TypeOrderExecutionStarted }

func (e OrderExecutionStarted) Event() *types.Event {
	return &types.Event{Type: TypeOrderExecutionStarted, Attributes: map[string]string{
		"orderId":    formatID(e.OrderID),
		"customer":   e.Customer.Hex(),
		"contractor": e.Contractor.Hex(),
		"currency":   e.Currency.Hex(),
		"price":      formatAmount(e.Price),
		"deadline":   strconv.FormatInt(e.Deadline, 10),
		"refund":     formatAmount(e.Refund),
	}}
}

// OrderApproved is emitted when the customer releases the escrow.
type OrderApproved struct {
	OrderID          uint64
	Contractor       common.Address
	ContractorAmount *big.Int
}

func (OrderApproved) EventType() string { return TypeOrderApproved }

func (e OrderApproved) Event() *types.Event {
	return &types.Event{Type: TypeOrderApproved, Attributes: map[string]string{
		"orderId":          formatID(e.OrderID),
		"contractor":       e.Contractor.Hex(),
		"contractorAmount": formatAmount(e.ContractorAmount),
	}}
}

// OrderFeePaid is emitted when a settlement pays the platform fee.
type OrderFeePaid struct {
	OrderID     uint64
	FeeReceiver common.Address
	Currency    common.Address
	Fee         *big.Int
}

func (OrderFeePaid) EventType() string { return TypeOrderFeePaid }

func (e OrderFeePaid) Event() *types.Event {
	return &types.Event{Type: TypeOrderFeePaid, Attributes: map[string]string{
		"orderId":     formatID(e.OrderID),
		"feeReceiver": e.FeeReceiver.Hex(),
		"currency":    e.Currency.Hex(),
		"fee":         formatAmount(e.Fee),
	}}
}

// OrderCanceled is emitted when the customer withdraws an unassigned order.
type OrderCanceled struct {
	OrderID  uint64
	Customer common.Address
}

func (OrderCanceled) EventType() string { return TypeOrderCanceled }

func (e OrderCanceled) Event() *types.Event {
	return &types.Event{Type: TypeOrderCanceled, Attributes: map[string]string{
		"orderId":  formatID(e.OrderID),
		"customer": e.Customer.Hex(),
	}}
}

// OrderJudged is emitted when an adjudicator splits the escrow. Dust is the
// rounding remainder retained in custody.
type OrderJudged struct {
	OrderID          uint64
	Contractor       common.Address
	Customer         common.Address
	ContractorAmount *big.Int
	CustomerAmount   *big.Int
	Fee              *big.Int
	Dust             *big.Int
}

func (OrderJudged) EventType() string { return TypeOrderJudged }

func (e OrderJudged) Event() *types.Event {
	return &types.Event{Type: TypeOrderJudged, Attributes: map[string]string{
		"orderId":          formatID(e.OrderID),
		"contractor":       e.Contractor.Hex(),
		"customer":         e.Customer.Hex(),
		"contractorAmount": formatAmount(e.ContractorAmount),
		"customerAmount":   formatAmount(e.CustomerAmount),
		"fee":              formatAmount(e.Fee),
		"dust":             formatAmount(e.Dust),
	}}
}

// OrderContractorUpdated is emitted when an adjudicator reassigns the
// contractor of an in-progress order.
type OrderContractorUpdated struct {
	OrderID            uint64
	PreviousContractor common.Address
	Contractor         common.Address
}

func (OrderContractorUpdated) EventType() string { return TypeOrderContractorUpdated }

func (e OrderContractorUpdated) Event() *types.Event {
	return &types.Event{Type: TypeOrderContractorUpdated, Attributes: map[string]string{
		"orderId":            formatID(e.OrderID),
		"previousContractor": e.PreviousContractor.Hex(),
		"contractor":         e.Contractor.Hex(),
	}}
}

// PaymentTokenChanged covers allowlist additions and removals.
type PaymentTokenChanged struct {
	Currency common.Address
	Removed  bool
}

func (e PaymentTokenChanged) EventType() string {
	if e.Removed {
		return TypePaymentTokenRemoved
	}
	return TypePaymentTokenAdded
}

func (e PaymentTokenChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"currency": e.Currency.Hex(),
	}}
}

// FeePercentUpdated is emitted when the platform fee changes.
type FeePercentUpdated struct {
	FeePercent uint64
}

func (FeePercentUpdated) EventType() string { return TypeFeePercentUpdated }

func (e FeePercentUpdated) Event() *types.Event {
	return &types.Event{Type: TypeFeePercentUpdated, Attributes: map[string]string{
		"feePercent": strconv.FormatUint(e.FeePercent, 10),
	}}
}

// FeeReceiverUpdated is emitted when the fee destination changes.
type FeeReceiverUpdated struct {
	FeeReceiver common.Address
}

func (FeeReceiverUpdated) EventType() string { return TypeFeeReceiverUpdated }

func (e FeeReceiverUpdated) Event() *types.Event {
	return &types.Event{Type: TypeFeeReceiverUpdated, Attributes: map[string]string{
		"feeReceiver": e.FeeReceiver.Hex(),
	}}
}

// CustodyEmergencyWithdrawn records an out-of-band custody release.
type CustodyEmergencyWithdrawn struct {
	Currency common.Address
	To       common.Address
	Amount   *big.Int
}

func (CustodyEmergencyWithdrawn) EventType() string { return TypeCustodyWithdrawn }

func (e CustodyEmergencyWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeCustodyWithdrawn, Attributes: map[string]string{
		"currency": e.Currency.Hex(),
		"to":       e.To.Hex(),
		"amount":   formatAmount(e.Amount),
	}}
}

// SystemSwitched covers pause and resume.
type SystemSwitched struct {
	Actor  common.Address
	Paused bool
}

func (e SystemSwitched) EventType() string {
	if e.Paused {
		return TypeSystemPaused
	}
	return TypeSystemResumed
}

func (e SystemSwitched) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"actor": e.Actor.Hex(),
	}}
}

// RoleChanged covers role grants and revocations.
type RoleChanged struct {
	Identity common.Address
	Role     string
	Revoked  bool
}

func (e RoleChanged) EventType() string {
	if e.Revoked {
		return TypeRoleRevoked
	}
	return TypeRoleGranted
}

func (e RoleChanged) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"identity": e.Identity.Hex(),
		"role":     e.Role,
	}}
}
