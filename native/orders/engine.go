package orders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"

	"gigescrow/core/events"
)

var errNilTransfer = errors.New("orders: asset transfer not configured")

type entry struct {
	mu    sync.Mutex
	order *Order
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithContractorIndexMigration moves an order id from the previous to the new
// contractor's active index when the contractor is reassigned. Without it the
// previous contractor keeps the id and the new contractor never gains it.
func WithContractorIndexMigration() Option {
	return func(e *Engine) { e.migrateContractorIndex = true }
}

// WithFeeConfig sets the initial fee configuration.
func WithFeeConfig(cfg FeeConfig) Option {
	return func(e *Engine) { e.fee = cfg }
}

// WithPaymentTokens seeds the allowlist with tokens besides the native
// currency.
func WithPaymentTokens(tokens ...common.Address) Option {
	return func(e *Engine) {
		for _, token := range tokens {
			e.allowlist.add(token)
		}
	}
}

// Engine is the order registry. It is the only mutator of orders, the active
// order indices, the allowlist, the fee configuration and retained dust.
// Callers are expected to perform authorization before invoking it.
type Engine struct {
	transfer AssetTransfer
	emitter  events.Emitter
	nowFn    func() int64

	migrateContractorIndex bool

	mu     sync.RWMutex
	orders map[uint64]*entry
	lastID uint64

	// createMu serialises id assignment.
	createMu sync.Mutex
	// adminMu serialises allowlist changes against each other and against
	// order creation. It is always taken before createMu.
	adminMu   sync.Mutex
	allowlist *Allowlist

	feeMu sync.RWMutex
	fee   FeeConfig

	dustMu sync.Mutex
	dust   map[common.Address]*big.Int

	customers   *partyIndex
	contractors *partyIndex
}

// NewEngine creates an engine that moves funds through transfer.
func NewEngine(transfer AssetTransfer, opts ...Option) *Engine {
	e := &Engine{
		transfer:    transfer,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		orders:      make(map[uint64]*entry),
		allowlist:   NewAllowlist(),
		dust:        make(map[common.Address]*big.Int),
		customers:   newPartyIndex(),
		contractors: newPartyIndex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetNowFunc overrides the time source used for deadline validation.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) begin(ctx context.Context) (TransferBatch, error) {
	if e.transfer == nil {
		return nil, errNilTransfer
	}
	return e.transfer.Begin(ctx)
}

func (e *Engine) lookup(id uint64) (*entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.orders[id]
	return ent, ok
}

// blankText reports whether s has no visible content once normalised. The
// stored value is always the caller's original text.
func blankText(s string) bool {
	return strings.TrimSpace(norm.NFKC.String(s)) == ""
}

// CreateOrder registers a new order for customer, payable in currency.
func (e *Engine) CreateOrder(ctx context.Context, customer, currency common.Address, title, descriptionLink string) (*Order, error) {
	const op = "create"
	if customer == (common.Address{}) {
		return nil, fieldError(op, 0, "customer", customer.Hex(), "non-zero", ErrInvalidArgument)
	}
	if blankText(title) {
		return nil, fieldError(op, 0, "title", "", "non-empty", ErrInvalidArgument)
	}
	if blankText(descriptionLink) {
		return nil, fieldError(op, 0, "descriptionLink", "", "non-empty", ErrInvalidArgument)
	}

	// Held through the commit so a token removal cannot interleave.
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	if !e.allowlist.Contains(currency) {
		return nil, fieldError(op, 0, "currency", currency.Hex(), "", ErrUnsupportedCurrency)
	}
	e.createMu.Lock()
	defer e.createMu.Unlock()

	id := e.LastOrderID() + 1
	order := &Order{
		ID:              id,
		Customer:        customer,
		Currency:        currency,
		Price:           big.NewInt(0),
		Title:           title,
		DescriptionLink: descriptionLink,
		Status:          StatusCreated,
	}

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, 0, err)
	}
	defer batch.Rollback()
	w := newWriter(batch)
	w.order(order)
	w.putRLP(lastIDKey, id)
	w.put(indexKey(customerIndexPrefix, customer, id), []byte{1})
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	e.mu.Lock()
	e.orders[id] = &entry{order: order}
	e.lastID = id
	e.mu.Unlock()
	e.customers.add(customer, id)

	e.emit(events.OrderCreated{
		OrderID:         id,
		Customer:        customer,
		Currency:        currency,
		Title:           title,
		DescriptionLink: descriptionLink,
	})
	return order.Clone(), nil
}

// StartOrderExecution assigns the contractor, fixes the price and deadline and
// moves the payment into custody. For the native currency attached is the
// value sent with the call; anything above price is refunded. Token orders
// must not attach native value and are funded by pulling price from the
// customer.
func (e *Engine) StartOrderExecution(ctx context.Context, caller common.Address, id uint64, contractor common.Address, deadline int64, price, attached *big.Int) (*Order, error) {
	const op = "start"
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError(op, id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	current := ent.order

	if caller != current.Customer {
		return nil, fieldError(op, id, "caller", caller.Hex(), current.Customer.Hex(), ErrUnauthorized)
	}
	if current.Status != StatusCreated {
		return nil, fieldError(op, id, "contractor", current.Contractor.Hex(), "", ErrAlreadyAssigned)
	}
	if contractor == (common.Address{}) {
		return nil, fieldError(op, id, "contractor", contractor.Hex(), "non-zero", ErrInvalidArgument)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fieldError(op, id, "price", formatAmount(price), "positive", ErrInvalidArgument)
	}
	if !Settleable(price) {
		return nil, fieldError(op, id, "price", price.String(), "settleable", ErrInvalidArgument)
	}
	if now := e.now(); deadline <= now {
		return nil, fieldError(op, id, "deadline", strconv.FormatInt(deadline, 10), "after "+strconv.FormatInt(now, 10), ErrInvalidArgument)
	}
	if attached == nil {
		attached = new(big.Int)
	}
	if attached.Sign() < 0 {
		return nil, fieldError(op, id, "attached", attached.String(), "non-negative", ErrInvalidArgument)
	}

	refund := new(big.Int)
	if current.Currency == NativeCurrency {
		if attached.Cmp(price) < 0 {
			return nil, fieldError(op, id, "attached", attached.String(), price.String(), ErrInsufficientPayment)
		}
		refund.Sub(attached, price)
	} else if attached.Sign() != 0 {
		return nil, fieldError(op, id, "attached", attached.String(), "0", ErrUnexpectedPayment)
	}

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, id, err)
	}
	defer batch.Rollback()
	if current.Currency == NativeCurrency {
		if err := batch.Pull(NativeCurrency, caller, attached); err != nil {
			return nil, opError(op, id, err)
		}
		if refund.Sign() > 0 {
			if err := batch.Push(NativeCurrency, caller, refund); err != nil {
				return nil, opError(op, id, fmt.Errorf("%w: refund: %w", ErrTransferFailed, err))
			}
		}
	} else if err := batch.Pull(current.Currency, caller, price); err != nil {
		return nil, opError(op, id, err)
	}

	next := current.Clone()
	next.Contractor = contractor
	next.Price = new(big.Int).Set(price)
	next.Deadline = deadline
	next.Status = StatusInProgress

	w := newWriter(batch)
	w.order(next)
	w.put(indexKey(contractorIdxPrefix, contractor, id), []byte{1})
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	ent.order = next
	e.contractors.add(contractor, id)
	e.emit(events.OrderExecutionStarted{
		OrderID:    id,
		Customer:   next.Customer,
		Contractor: contractor,
		Currency:   next.Currency,
		Price:      cloneBigInt(price),
		Deadline:   deadline,
		Refund:     refund,
	})
	return next.Clone(), nil
}

// ApproveOrder releases the escrow to the contractor, less the platform fee.
func (e *Engine) ApproveOrder(ctx context.Context, caller common.Address, id uint64) (*Order, error) {
	const op = "approve"
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError(op, id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	current := ent.order
	if caller != current.Customer {
		return nil, fieldError(op, id, "caller", caller.Hex(), current.Customer.Hex(), ErrUnauthorized)
	}
	if current.Status != StatusInProgress {
		return nil, fieldError(op, id, "status", current.Status.String(), StatusInProgress.String(), ErrNotInProgress)
	}

	fee := e.FeeConfig()
	settlement, err := SettleFull(current.Price, fee.Percent)
	if err != nil {
		return nil, opError(op, id, err)
	}

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, id, err)
	}
	defer batch.Rollback()
	if err := pushLeg(batch, current.Currency, current.Contractor, settlement.Contractor, "contractor"); err != nil {
		return nil, opError(op, id, err)
	}
	if err := pushLeg(batch, current.Currency, fee.Receiver, settlement.Fee, "fee"); err != nil {
		return nil, opError(op, id, err)
	}

	next := current.Clone()
	next.Status = StatusCompleted
	w := newWriter(batch)
	w.order(next)
	w.delete(indexKey(customerIndexPrefix, next.Customer, id))
	w.delete(indexKey(contractorIdxPrefix, next.Contractor, id))
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	ent.order = next
	e.customers.remove(next.Customer, id)
	e.contractors.remove(next.Contractor, id)
	if settlement.Fee.Sign() > 0 {
		e.emit(events.OrderFeePaid{OrderID: id, FeeReceiver: fee.Receiver, Currency: next.Currency, Fee: settlement.Fee})
	}
	e.emit(events.OrderApproved{OrderID: id, Contractor: next.Contractor, ContractorAmount: settlement.Contractor})
	return next.Clone(), nil
}

// CancelOrderByCustomer withdraws an order before a contractor was assigned.
// No funds move because none were collected.
func (e *Engine) CancelOrderByCustomer(ctx context.Context, caller common.Address, id uint64) (*Order, error) {
	const op = "cancel"
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError(op, id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	current := ent.order
	if caller != current.Customer {
		return nil, fieldError(op, id, "caller", caller.Hex(), current.Customer.Hex(), ErrUnauthorized)
	}
	if current.Status != StatusCreated {
		return nil, fieldError(op, id, "status", current.Status.String(), StatusCreated.String(), ErrCancelationForbidden)
	}

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, id, err)
	}
	defer batch.Rollback()
	next := current.Clone()
	next.Status = StatusCanceledByCustomer
	w := newWriter(batch)
	w.order(next)
	w.delete(indexKey(customerIndexPrefix, next.Customer, id))
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	ent.order = next
	e.customers.remove(next.Customer, id)
	e.emit(events.OrderCanceled{OrderID: id, Customer: next.Customer})
	return next.Clone(), nil
}

// JudgeOrder resolves a dispute by splitting the escrow after fees between
// contractor and customer. The percentages must sum to Precision. Rounding
// dust stays in custody and is added to the currency's retained total.
func (e *Engine) JudgeOrder(ctx context.Context, id uint64, contractorPercent, customerPercent uint64) (*Order, error) {
	const op = "judge"
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError(op, id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	current := ent.order
	if current.Status != StatusInProgress {
		return nil, fieldError(op, id, "status", current.Status.String(), StatusInProgress.String(), ErrNotInProgress)
	}

	fee := e.FeeConfig()
	settlement, err := SettleSplit(current.Price, fee.Percent, contractorPercent, customerPercent)
	if err != nil {
		return nil, opError(op, id, err)
	}

	e.dustMu.Lock()
	defer e.dustMu.Unlock()

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, id, err)
	}
	defer batch.Rollback()
	if err := pushLeg(batch, current.Currency, current.Contractor, settlement.Contractor, "contractor"); err != nil {
		return nil, opError(op, id, err)
	}
	if err := pushLeg(batch, current.Currency, current.Customer, settlement.Customer, "customer"); err != nil {
		return nil, opError(op, id, err)
	}
	if err := pushLeg(batch, current.Currency, fee.Receiver, settlement.Fee, "fee"); err != nil {
		return nil, opError(op, id, err)
	}

	next := current.Clone()
	next.Status = StatusJudged
	w := newWriter(batch)
	w.order(next)
	w.delete(indexKey(customerIndexPrefix, next.Customer, id))
	w.delete(indexKey(contractorIdxPrefix, next.Contractor, id))
	var dustTotal *big.Int
	if settlement.Dust.Sign() > 0 {
		dustTotal = new(big.Int).Add(cloneBigInt(e.dust[next.Currency]), settlement.Dust)
		w.putRLP(dustKey(next.Currency), dustTotal)
	}
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	ent.order = next
	if dustTotal != nil {
		e.dust[next.Currency] = dustTotal
	}
	e.customers.remove(next.Customer, id)
	e.contractors.remove(next.Contractor, id)
	if settlement.Fee.Sign() > 0 {
		e.emit(events.OrderFeePaid{OrderID: id, FeeReceiver: fee.Receiver, Currency: next.Currency, Fee: settlement.Fee})
	}
	e.emit(events.OrderJudged{
		OrderID:          id,
		Contractor:       next.Contractor,
		Customer:         next.Customer,
		ContractorAmount: settlement.Contractor,
		CustomerAmount:   settlement.Customer,
		Fee:              settlement.Fee,
		Dust:             settlement.Dust,
	})
	return next.Clone(), nil
}

// UpdateOrderContractor reassigns the contractor of an in-progress order.
func (e *Engine) UpdateOrderContractor(ctx context.Context, id uint64, contractor common.Address) (*Order, error) {
	const op = "update-contractor"
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError(op, id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	current := ent.order
	if current.Status != StatusInProgress {
		return nil, fieldError(op, id, "status", current.Status.String(), StatusInProgress.String(), ErrNotInProgress)
	}
	if contractor == (common.Address{}) {
		return nil, fieldError(op, id, "contractor", contractor.Hex(), "non-zero", ErrInvalidArgument)
	}

	batch, err := e.begin(ctx)
	if err != nil {
		return nil, opError(op, id, err)
	}
	defer batch.Rollback()
	previous := current.Contractor
	next := current.Clone()
	next.Contractor = contractor
	w := newWriter(batch)
	w.order(next)
	if e.migrateContractorIndex && previous != contractor {
		w.delete(indexKey(contractorIdxPrefix, previous, id))
		w.put(indexKey(contractorIdxPrefix, contractor, id), []byte{1})
	}
	if err := e.commit(batch, w); err != nil {
		return nil, opError(op, id, err)
	}

	ent.order = next
	if e.migrateContractorIndex && previous != contractor {
		e.contractors.remove(previous, id)
		e.contractors.add(contractor, id)
	}
	e.emit(events.OrderContractorUpdated{OrderID: id, PreviousContractor: previous, Contractor: contractor})
	return next.Clone(), nil
}

// AddPaymentToken accepts currency for new orders.
func (e *Engine) AddPaymentToken(ctx context.Context, currency common.Address) error {
	const op = "add-payment-token"
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	if e.allowlist.Contains(currency) {
		return fieldError(op, 0, "currency", currency.Hex(), "", ErrAlreadyPresent)
	}
	if err := e.commitRecord(ctx, tokenKey(currency), []byte{1}); err != nil {
		return opError(op, 0, err)
	}
	e.allowlist.add(currency)
	e.emit(events.PaymentTokenChanged{Currency: currency})
	return nil
}

// RemovePaymentToken stops accepting currency for new orders. Existing orders
// in that currency are unaffected. The native currency cannot be removed.
func (e *Engine) RemovePaymentToken(ctx context.Context, currency common.Address) error {
	const op = "remove-payment-token"
	if currency == NativeCurrency {
		return fieldError(op, 0, "currency", currency.Hex(), "", ErrNativeCurrencyLocked)
	}
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	if !e.allowlist.Contains(currency) {
		return fieldError(op, 0, "currency", currency.Hex(), "", ErrNotPresent)
	}
	if err := e.commitRecord(ctx, tokenKey(currency), []byte{0}); err != nil {
		return opError(op, 0, err)
	}
	e.allowlist.remove(currency)
	e.emit(events.PaymentTokenChanged{Currency: currency, Removed: true})
	return nil
}

// SetFeePercent updates the platform fee. A positive fee requires a configured
// fee receiver.
func (e *Engine) SetFeePercent(ctx context.Context, percent uint64) error {
	const op = "set-fee-percent"
	if percent >= Precision {
		return fieldError(op, 0, "feePercent", strconv.FormatUint(percent, 10), "below "+strconv.FormatUint(Precision, 10), ErrInvalidArgument)
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	if percent > 0 && e.fee.Receiver == (common.Address{}) {
		return fieldError(op, 0, "feeReceiver", e.fee.Receiver.Hex(), "configured", ErrInvalidArgument)
	}
	next := FeeConfig{Percent: percent, Receiver: e.fee.Receiver}
	if err := e.commitFee(ctx, next); err != nil {
		return opError(op, 0, err)
	}
	e.fee = next
	e.emit(events.FeePercentUpdated{FeePercent: percent})
	return nil
}

// SetFeeReceiver updates the fee destination.
func (e *Engine) SetFeeReceiver(ctx context.Context, receiver common.Address) error {
	const op = "set-fee-receiver"
	if receiver == (common.Address{}) {
		return fieldError(op, 0, "feeReceiver", receiver.Hex(), "non-zero", ErrInvalidArgument)
	}
	e.feeMu.Lock()
	defer e.feeMu.Unlock()
	next := FeeConfig{Percent: e.fee.Percent, Receiver: receiver}
	if err := e.commitFee(ctx, next); err != nil {
		return opError(op, 0, err)
	}
	e.fee = next
	e.emit(events.FeeReceiverUpdated{FeeReceiver: receiver})
	return nil
}

// EmergencyWithdraw pushes amount of currency out of custody without touching
// order accounting. It can drain funds that back in-progress orders and is
// meant for incident response only.
func (e *Engine) EmergencyWithdraw(ctx context.Context, currency, to common.Address, amount *big.Int) error {
	const op = "emergency-withdraw"
	if to == (common.Address{}) {
		return fieldError(op, 0, "to", to.Hex(), "non-zero", ErrInvalidArgument)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fieldError(op, 0, "amount", formatAmount(amount), "positive", ErrInvalidArgument)
	}
	batch, err := e.begin(ctx)
	if err != nil {
		return opError(op, 0, err)
	}
	defer batch.Rollback()
	if err := batch.Push(currency, to, amount); err != nil {
		return opError(op, 0, fmt.Errorf("%w: %w", ErrTransferFailed, err))
	}
	if err := batch.Commit(); err != nil {
		return opError(op, 0, err)
	}
	e.emit(events.CustodyEmergencyWithdrawn{Currency: currency, To: to, Amount: cloneBigInt(amount)})
	return nil
}

// PaymentTokens lists the accepted currencies.
func (e *Engine) PaymentTokens() []common.Address {
	return e.allowlist.List()
}

// IsPaymentToken reports whether currency is accepted for new orders.
func (e *Engine) IsPaymentToken(currency common.Address) bool {
	return e.allowlist.Contains(currency)
}

// CustomerOrders returns the active order ids of customer in ascending order.
func (e *Engine) CustomerOrders(customer common.Address) []uint64 {
	return e.customers.list(customer)
}

// ContractorOrders returns the active order ids of contractor in ascending
// order.
func (e *Engine) ContractorOrders(contractor common.Address) []uint64 {
	return e.contractors.list(contractor)
}

// Order returns a copy of the order with the given id.
func (e *Engine) Order(id uint64) (*Order, error) {
	ent, ok := e.lookup(id)
	if !ok {
		return nil, fieldError("get", id, "id", strconv.FormatUint(id, 10), "", ErrNotFound)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.order.Clone(), nil
}

// LastOrderID returns the highest id assigned so far.
func (e *Engine) LastOrderID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastID
}

// FeeConfig returns the current fee configuration.
func (e *Engine) FeeConfig() FeeConfig {
	e.feeMu.RLock()
	defer e.feeMu.RUnlock()
	return e.fee
}

// RetainedDust returns the split-settlement remainder kept in custody for
// currency.
func (e *Engine) RetainedDust(currency common.Address) *big.Int {
	e.dustMu.Lock()
	defer e.dustMu.Unlock()
	return cloneBigInt(e.dust[currency])
}

// Escrowed returns the sum of prices of in-progress orders in currency. It is
// the amount custody must hold to settle every open order.
func (e *Engine) Escrowed(currency common.Address) *big.Int {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.orders))
	for _, ent := range e.orders {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()
	total := new(big.Int)
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.order.Status == StatusInProgress && ent.order.Currency == currency {
			total.Add(total, ent.order.Price)
		}
		ent.mu.Unlock()
	}
	return total
}

// Currencies returns every currency the engine has a stake in: the allowlist,
// currencies of recorded orders and currencies holding retained dust. The
// result is sorted by address.
func (e *Engine) Currencies() []common.Address {
	set := make(map[common.Address]struct{})
	for _, token := range e.allowlist.List() {
		set[token] = struct{}{}
	}
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.orders))
	for _, ent := range e.orders {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()
	for _, ent := range entries {
		ent.mu.Lock()
		set[ent.order.Currency] = struct{}{}
		ent.mu.Unlock()
	}
	e.dustMu.Lock()
	for currency := range e.dust {
		set[currency] = struct{}{}
	}
	e.dustMu.Unlock()
	out := make([]common.Address, 0, len(set))
	for currency := range set {
		out = append(out, currency)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (e *Engine) commit(batch TransferBatch, w *writer) error {
	if w.err != nil {
		return fmt.Errorf("orders: encode records: %w", w.err)
	}
	return batch.Commit()
}

func (e *Engine) commitRecord(ctx context.Context, key string, value []byte) error {
	batch, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback()
	w := newWriter(batch)
	w.put(key, value)
	return e.commit(batch, w)
}

func (e *Engine) commitFee(ctx context.Context, cfg FeeConfig) error {
	batch, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback()
	w := newWriter(batch)
	w.putRLP(feeConfigKey, storedFee{Percent: cfg.Percent, Receiver: cfg.Receiver})
	return e.commit(batch, w)
}

func pushLeg(batch TransferBatch, currency, to common.Address, amount *big.Int, leg string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := batch.Push(currency, to, amount); err != nil {
		return fmt.Errorf("%w: %s leg: %w", ErrTransferFailed, leg, err)
	}
	return nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
