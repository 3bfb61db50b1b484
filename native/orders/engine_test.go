package orders

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"gigescrow/core/events"
	"gigescrow/native/access"
	"gigescrow/native/bank"
	nativecommon "gigescrow/native/common"
	"gigescrow/storage"
)

var (
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	customer    = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	contractor  = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	outsider    = common.HexToAddress("0x0000000000000000000000000000000000000c03")
	newWorker   = common.HexToAddress("0x0000000000000000000000000000000000000c04")
	feeReceiver = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	judgeAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000007070")
)

const (
	testNow      int64 = 1_700_000_000
	testDeadline       = testNow + 86_400
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *storage.MemDB
	ledger   *bank.Ledger
	engine   *Engine
	recorder *events.Recorder
	ctrl     *Controller
	sw       *nativecommon.Switch
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	ledger, err := bank.NewLedger(db, vaultAddr)
	require.NoError(t, err)
	base := []Option{
		WithFeeConfig(FeeConfig{Percent: 500, Receiver: feeReceiver}),
		WithPaymentTokens(tokenAddr),
	}
	engine := NewEngine(NewLedgerTransfer(ledger), append(base, opts...)...)
	engine.SetNowFunc(func() int64 { return testNow })
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)

	roles, err := access.NewRegistry(nil)
	require.NoError(t, err)
	_, err = roles.Grant(adminAddr, access.RoleAdmin)
	require.NoError(t, err)
	_, err = roles.Grant(judgeAddr, access.RoleAdjudicator)
	require.NoError(t, err)
	sw := nativecommon.NewSwitch(nil)

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		ledger:   ledger,
		engine:   engine,
		recorder: recorder,
		ctrl:     NewController(engine, roles, sw),
		sw:       sw,
	}
}

func (f *fixture) fund(currency, account common.Address, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.ledger.Credit(f.ctx, currency, account, big.NewInt(amount)))
	if currency != NativeCurrency {
		require.NoError(f.t, f.ledger.Approve(f.ctx, currency, account, big.NewInt(amount)))
	}
}

func (f *fixture) balance(currency, account common.Address) string {
	f.t.Helper()
	amount, err := f.ledger.Balance(currency, account)
	require.NoError(f.t, err)
	return amount.String()
}

func (f *fixture) create(currency common.Address) *Order {
	f.t.Helper()
	order, err := f.engine.CreateOrder(f.ctx, customer, currency, "Logo design", "ipfs://brief")
	require.NoError(f.t, err)
	return order
}

// started returns an in-progress native order priced at 100.
func (f *fixture) started() *Order {
	f.t.Helper()
	f.fund(NativeCurrency, customer, 100)
	order := f.create(NativeCurrency)
	started, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(100), big.NewInt(100))
	require.NoError(f.t, err)
	return started
}

func TestCreateOrderAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	first := f.create(NativeCurrency)
	second := f.create(tokenAddr)

	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)
	require.Equal(t, StatusCreated, second.Status)
	require.Zero(t, second.Price.Sign())
	require.Equal(t, common.Address{}, second.Contractor)
	require.Equal(t, []uint64{1, 2}, f.engine.CustomerOrders(customer))
	require.Equal(t, uint64(2), f.engine.LastOrderID())
	require.Equal(t, []string{events.TypeOrderCreated, events.TypeOrderCreated}, f.recorder.Types())
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	unknown := common.HexToAddress("0xdead")

	_, err := f.engine.CreateOrder(f.ctx, customer, unknown, "title", "link")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
	require.Zero(t, f.engine.LastOrderID())

	_, err = f.engine.CreateOrder(f.ctx, customer, NativeCurrency, "   ", "link")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.CreateOrder(f.ctx, customer, NativeCurrency, "title", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.CreateOrder(f.ctx, customer, NativeCurrency, "title", "\u3000\t")
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Zero(t, f.engine.LastOrderID())
	require.Empty(t, f.recorder.Events())

	order := f.create(NativeCurrency)
	require.Equal(t, uint64(1), order.ID)
}

func TestStartNativeRefundsOverpayment(t *testing.T) {
	f := newFixture(t)
	f.fund(NativeCurrency, customer, 150)
	order := f.create(NativeCurrency)
	f.recorder.Reset()

	started, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(100), big.NewInt(120))
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)
	require.Equal(t, contractor, started.Contractor)
	require.Equal(t, "100", started.Price.String())
	require.Equal(t, testDeadline, started.Deadline)

	require.Equal(t, "50", f.balance(NativeCurrency, customer))
	require.Equal(t, "100", f.balance(NativeCurrency, vaultAddr))
	require.Equal(t, []uint64{order.ID}, f.engine.ContractorOrders(contractor))

	evts := f.recorder.Events()
	require.Len(t, evts, 1)
	startedEvt, ok := evts[0].(events.OrderExecutionStarted)
	require.True(t, ok)
	require.Equal(t, "20", startedEvt.Refund.String())
}

func TestStartNativeExactAndDoublePayment(t *testing.T) {
	cases := []struct {
		name     string
		attached int64
		refund   string
	}{
		{"exact", 100, "0"},
		{"double", 200, "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(NativeCurrency, customer, 500)
			order := f.create(NativeCurrency)
			f.recorder.Reset()

			_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(100), big.NewInt(tc.attached))
			require.NoError(t, err)
			require.Equal(t, "400", f.balance(NativeCurrency, customer))
			require.Equal(t, "100", f.balance(NativeCurrency, vaultAddr))
			require.Equal(t, "100", f.engine.Escrowed(NativeCurrency).String())

			startedEvt, ok := f.recorder.Events()[0].(events.OrderExecutionStarted)
			require.True(t, ok)
			require.Equal(t, tc.refund, startedEvt.Refund.String())
		})
	}
}

func TestStartRejectsUnsettleablePrice(t *testing.T) {
	f := newFixture(t)
	huge := new(big.Int).Lsh(big.NewInt(1), 250)
	require.NoError(t, f.ledger.Credit(f.ctx, NativeCurrency, customer, huge))
	order := f.create(NativeCurrency)
	f.recorder.Reset()

	_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, huge, huge)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Equal(t, huge.String(), f.balance(NativeCurrency, customer))
	require.Equal(t, "0", f.balance(NativeCurrency, vaultAddr))
	require.Empty(t, f.recorder.Events())

	current, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, current.Status)
	require.Empty(t, f.engine.ContractorOrders(contractor))
}

func TestStartTokenPullsPrice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(f.ctx, tokenAddr, customer, big.NewInt(500)))
	order := f.create(tokenAddr)

	_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(200), nil)
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)
	current, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, current.Status)

	_, err = f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(200), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnexpectedPayment)
	require.ErrorIs(t, err, ErrPaymentMismatch)

	require.NoError(t, f.ledger.Approve(f.ctx, tokenAddr, customer, big.NewInt(200)))
	_, err = f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(200), big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, "300", f.balance(tokenAddr, customer))
	require.Equal(t, "200", f.balance(tokenAddr, vaultAddr))
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(NativeCurrency, customer, 1_000)
	order := f.create(NativeCurrency)

	cases := []struct {
		name       string
		caller     common.Address
		id         uint64
		contractor common.Address
		deadline   int64
		price      *big.Int
		attached   *big.Int
		want       error
	}{
		{"unknown order", customer, 99, contractor, testDeadline, big.NewInt(10), big.NewInt(10), ErrNotFound},
		{"not customer", outsider, order.ID, contractor, testDeadline, big.NewInt(10), big.NewInt(10), ErrUnauthorized},
		{"zero contractor", customer, order.ID, common.Address{}, testDeadline, big.NewInt(10), big.NewInt(10), ErrInvalidArgument},
		{"zero price", customer, order.ID, contractor, testDeadline, big.NewInt(0), big.NewInt(0), ErrInvalidArgument},
		{"deadline now", customer, order.ID, contractor, testNow, big.NewInt(10), big.NewInt(10), ErrInvalidArgument},
		{"underpaid", customer, order.ID, contractor, testDeadline, big.NewInt(10), big.NewInt(9), ErrInsufficientPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.StartOrderExecution(f.ctx, tc.caller, tc.id, tc.contractor, tc.deadline, tc.price, tc.attached)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	require.Equal(t, "1000", f.balance(NativeCurrency, customer))

	_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(10), big.NewInt(10))
	require.NoError(t, err)
	_, err = f.engine.StartOrderExecution(f.ctx, customer, order.ID, newWorker, testDeadline, big.NewInt(10), big.NewInt(10))
	require.ErrorIs(t, err, ErrAlreadyAssigned)
	require.ErrorIs(t, err, ErrInvalidState)
	var orderErr *Error
	require.True(t, errors.As(err, &orderErr))
	require.Equal(t, contractor.Hex(), orderErr.Got)
	require.Equal(t, "990", f.balance(NativeCurrency, customer))
}

func TestApproveReleasesFundsWithFee(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	f.recorder.Reset()

	approved, err := f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, approved.Status)
	require.Equal(t, "95", f.balance(NativeCurrency, contractor))
	require.Equal(t, "5", f.balance(NativeCurrency, feeReceiver))
	require.Equal(t, "0", f.balance(NativeCurrency, vaultAddr))
	require.Empty(t, f.engine.CustomerOrders(customer))
	require.Empty(t, f.engine.ContractorOrders(contractor))
	require.Equal(t, []string{events.TypeOrderFeePaid, events.TypeOrderApproved}, f.recorder.Types())

	_, err = f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.ErrorIs(t, err, ErrNotInProgress)
	require.Equal(t, "95", f.balance(NativeCurrency, contractor))
	require.Equal(t, "5", f.balance(NativeCurrency, feeReceiver))
}

func TestApproveWithoutFeeSkipsFeeEvent(t *testing.T) {
	f := newFixture(t, WithFeeConfig(FeeConfig{Receiver: feeReceiver}))
	order := f.started()
	f.recorder.Reset()

	_, err := f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Equal(t, "100", f.balance(NativeCurrency, contractor))
	require.Equal(t, []string{events.TypeOrderApproved}, f.recorder.Types())
}

func TestApproveRequiresCustomerAndProgress(t *testing.T) {
	f := newFixture(t)
	created := f.create(NativeCurrency)
	_, err := f.engine.ApproveOrder(f.ctx, customer, created.ID)
	require.ErrorIs(t, err, ErrNotInProgress)
	_, err = f.engine.ApproveOrder(f.ctx, customer, 42)
	require.ErrorIs(t, err, ErrNotFound)

	order := f.started()
	_, err = f.engine.ApproveOrder(f.ctx, outsider, order.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotErrorIs(t, err, ErrInvalidState)

	current, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
}

func TestApproveFailsAtomicallyWhenDestinationRejects(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	require.NoError(t, f.ledger.SetBlocked(contractor, true))
	f.recorder.Reset()

	_, err := f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, bank.ErrDestinationBlocked)

	current, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
	require.Equal(t, "100", f.balance(NativeCurrency, vaultAddr))
	require.Equal(t, "0", f.balance(NativeCurrency, feeReceiver))
	require.Equal(t, []uint64{order.ID}, f.engine.ContractorOrders(contractor))
	require.Empty(t, f.recorder.Events())
}

func TestCancelOrderByCustomer(t *testing.T) {
	f := newFixture(t)
	order := f.create(NativeCurrency)

	_, err := f.engine.CancelOrderByCustomer(f.ctx, outsider, order.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NotErrorIs(t, err, ErrCancelationForbidden)
	_, err = f.engine.CancelOrderByCustomer(f.ctx, customer, 42)
	require.ErrorIs(t, err, ErrNotFound)

	canceled, err := f.engine.CancelOrderByCustomer(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceledByCustomer, canceled.Status)
	require.Empty(t, f.engine.CustomerOrders(customer))

	_, err = f.engine.CancelOrderByCustomer(f.ctx, customer, order.ID)
	require.ErrorIs(t, err, ErrCancelationForbidden)
	_, err = f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrAlreadyAssigned)

	started := f.started()
	_, err = f.engine.CancelOrderByCustomer(f.ctx, customer, started.ID)
	require.ErrorIs(t, err, ErrCancelationForbidden)

	// Terminal orders stay queryable.
	stored, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCanceledByCustomer, stored.Status)
}

func TestJudgeSplitsAndRetainsDust(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	f.recorder.Reset()

	judged, err := f.engine.JudgeOrder(f.ctx, order.ID, 5_000, 5_000)
	require.NoError(t, err)
	require.Equal(t, StatusJudged, judged.Status)
	require.Equal(t, "47", f.balance(NativeCurrency, contractor))
	require.Equal(t, "47", f.balance(NativeCurrency, customer))
	require.Equal(t, "5", f.balance(NativeCurrency, feeReceiver))
	require.Equal(t, "1", f.balance(NativeCurrency, vaultAddr))
	require.Equal(t, "1", f.engine.RetainedDust(NativeCurrency).String())
	require.Equal(t, []string{events.TypeOrderFeePaid, events.TypeOrderJudged}, f.recorder.Types())

	judgedEvt, ok := f.recorder.Events()[1].(events.OrderJudged)
	require.True(t, ok)
	require.Equal(t, "1", judgedEvt.Dust.String())

	_, err = f.engine.JudgeOrder(f.ctx, order.ID, 5_000, 5_000)
	require.ErrorIs(t, err, ErrNotInProgress)
	require.Equal(t, "47", f.balance(NativeCurrency, contractor))
}

func TestJudgeRejectsPercentagesWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	maxPct := ^uint64(0)
	for _, pct := range [][2]uint64{{0, 0}, {maxPct, maxPct}, {9_999, 0}, {5_000, 5_001}} {
		_, err := f.engine.JudgeOrder(f.ctx, order.ID, pct[0], pct[1])
		require.ErrorIs(t, err, ErrInvalidArgument)
	}
	current, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, current.Status)
	require.Equal(t, "100", f.balance(NativeCurrency, vaultAddr))
}

func TestJudgeSkipsZeroLegs(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	require.NoError(t, f.ledger.SetBlocked(contractor, true))

	_, err := f.engine.JudgeOrder(f.ctx, order.ID, 0, Precision)
	require.NoError(t, err)
	require.Equal(t, "95", f.balance(NativeCurrency, customer))
	require.Equal(t, "0", f.balance(NativeCurrency, contractor))
	require.Zero(t, f.engine.RetainedDust(NativeCurrency).Sign())
}

func TestJudgeRequiresProgress(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.JudgeOrder(f.ctx, 1, 5_000, 5_000)
	require.ErrorIs(t, err, ErrNotFound)
	order := f.create(NativeCurrency)
	_, err = f.engine.JudgeOrder(f.ctx, order.ID, 5_000, 5_000)
	require.ErrorIs(t, err, ErrNotInProgress)
}

func TestUpdateContractorKeepsIndexByDefault(t *testing.T) {
	f := newFixture(t)
	order := f.started()

	updated, err := f.engine.UpdateOrderContractor(f.ctx, order.ID, newWorker)
	require.NoError(t, err)
	require.Equal(t, newWorker, updated.Contractor)
	require.Equal(t, []uint64{order.ID}, f.engine.ContractorOrders(contractor))
	require.Empty(t, f.engine.ContractorOrders(newWorker))

	_, err = f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Equal(t, "95", f.balance(NativeCurrency, newWorker))
	require.Equal(t, []uint64{order.ID}, f.engine.ContractorOrders(contractor))
}

func TestUpdateContractorMigratesIndexWhenEnabled(t *testing.T) {
	f := newFixture(t, WithContractorIndexMigration())
	order := f.started()

	_, err := f.engine.UpdateOrderContractor(f.ctx, order.ID, newWorker)
	require.NoError(t, err)
	require.Empty(t, f.engine.ContractorOrders(contractor))
	require.Equal(t, []uint64{order.ID}, f.engine.ContractorOrders(newWorker))

	_, err = f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Empty(t, f.engine.ContractorOrders(newWorker))
}

func TestUpdateContractorValidation(t *testing.T) {
	f := newFixture(t)
	created := f.create(NativeCurrency)
	_, err := f.engine.UpdateOrderContractor(f.ctx, created.ID, newWorker)
	require.ErrorIs(t, err, ErrNotInProgress)
	_, err = f.engine.UpdateOrderContractor(f.ctx, 42, newWorker)
	require.ErrorIs(t, err, ErrNotFound)

	order := f.started()
	_, err = f.engine.UpdateOrderContractor(f.ctx, order.ID, common.Address{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPaymentTokenAdministration(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x0000000000000000000000000000000000009090")

	require.Equal(t, []common.Address{NativeCurrency, tokenAddr}, f.engine.PaymentTokens())
	require.ErrorIs(t, f.engine.AddPaymentToken(f.ctx, tokenAddr), ErrAlreadyPresent)
	require.NoError(t, f.engine.AddPaymentToken(f.ctx, other))
	require.True(t, f.engine.IsPaymentToken(other))

	require.NoError(t, f.engine.RemovePaymentToken(f.ctx, other))
	require.ErrorIs(t, f.engine.RemovePaymentToken(f.ctx, other), ErrNotPresent)

	err := f.engine.RemovePaymentToken(f.ctx, NativeCurrency)
	require.ErrorIs(t, err, ErrNativeCurrencyLocked)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.True(t, f.engine.IsPaymentToken(NativeCurrency))

	require.Equal(t, []string{events.TypePaymentTokenAdded, events.TypePaymentTokenRemoved}, f.recorder.Types())
}

func TestRemovedTokenKeepsExistingOrders(t *testing.T) {
	f := newFixture(t)
	f.fund(tokenAddr, customer, 100)
	order := f.create(tokenAddr)
	_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(100), nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.RemovePaymentToken(f.ctx, tokenAddr))
	_, err = f.engine.CreateOrder(f.ctx, customer, tokenAddr, "again", "link")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Equal(t, "95", f.balance(tokenAddr, contractor))
}

func TestFeeAdministration(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.SetFeePercent(f.ctx, Precision), ErrInvalidArgument)
	require.NoError(t, f.engine.SetFeePercent(f.ctx, Precision-1))
	require.ErrorIs(t, f.engine.SetFeeReceiver(f.ctx, common.Address{}), ErrInvalidArgument)
	require.NoError(t, f.engine.SetFeeReceiver(f.ctx, outsider))
	require.Equal(t, FeeConfig{Percent: Precision - 1, Receiver: outsider}, f.engine.FeeConfig())

	bare := newFixture(t, WithFeeConfig(FeeConfig{}))
	require.ErrorIs(t, bare.engine.SetFeePercent(bare.ctx, 100), ErrInvalidArgument)
}

func TestEmergencyWithdrawValidation(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.EmergencyWithdraw(f.ctx, NativeCurrency, common.Address{}, big.NewInt(1)), ErrInvalidArgument)
	require.ErrorIs(t, f.engine.EmergencyWithdraw(f.ctx, NativeCurrency, adminAddr, big.NewInt(0)), ErrInvalidArgument)
	require.ErrorIs(t, f.engine.EmergencyWithdraw(f.ctx, NativeCurrency, adminAddr, big.NewInt(1)), ErrTransferFailed)
}

func TestOrderQueryBounds(t *testing.T) {
	f := newFixture(t)
	f.create(NativeCurrency)
	_, err := f.engine.Order(0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Order(2)
	require.ErrorIs(t, err, ErrNotFound)

	order, err := f.engine.Order(1)
	require.NoError(t, err)
	order.Price.SetInt64(999)
	again, err := f.engine.Order(1)
	require.NoError(t, err)
	require.Zero(t, again.Price.Sign())
}

func TestEscrowedTracksInProgressOrders(t *testing.T) {
	f := newFixture(t)
	order := f.started()
	require.Equal(t, "100", f.engine.Escrowed(NativeCurrency).String())
	_, err := f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.NoError(t, err)
	require.Zero(t, f.engine.Escrowed(NativeCurrency).Sign())
}

func TestErrorMessageCarriesContext(t *testing.T) {
	f := newFixture(t)
	order := f.create(NativeCurrency)
	_, err := f.engine.ApproveOrder(f.ctx, customer, order.ID)
	require.EqualError(t, err, `orders: approve order 1: status got "CREATED" want "IN_PROGRESS": order not in progress`)
}

func TestCurrenciesIncludesRemovedTokensWithOrders(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, []common.Address{NativeCurrency, tokenAddr}, f.engine.Currencies())

	f.fund(tokenAddr, customer, 10)
	order := f.create(tokenAddr)
	_, err := f.engine.StartOrderExecution(f.ctx, customer, order.ID, contractor, testDeadline, big.NewInt(10), nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.RemovePaymentToken(f.ctx, tokenAddr))

	require.False(t, f.engine.IsPaymentToken(tokenAddr))
	require.Equal(t, []common.Address{NativeCurrency, tokenAddr}, f.engine.Currencies())
}

func TestCreateOrderStoresTextAsGiven(t *testing.T) {
	f := newFixture(t)
	title := "  Cafe\u0301 logo "
	link := "ipfs://brief\n"
	order, err := f.engine.CreateOrder(f.ctx, customer, NativeCurrency, title, link)
	require.NoError(t, err)
	require.Equal(t, title, order.Title)
	require.Equal(t, link, order.DescriptionLink)

	stored, err := f.engine.Order(order.ID)
	require.NoError(t, err)
	require.Equal(t, title, stored.Title)
	created, ok := f.recorder.Events()[0].(events.OrderCreated)
	require.True(t, ok)
	require.Equal(t, title, created.Title)
}

func TestCreateOrderRacingTokenRemoval(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		var (
			wg        sync.WaitGroup
			createErr error
			removeErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, createErr = f.engine.CreateOrder(f.ctx, customer, tokenAddr, "title", "link")
		}()
		go func() {
			defer wg.Done()
			removeErr = f.engine.RemovePaymentToken(f.ctx, tokenAddr)
		}()
		wg.Wait()
		require.NoError(t, removeErr)

		types := f.recorder.Types()
		if createErr != nil {
			require.ErrorIs(t, createErr, ErrUnsupportedCurrency)
			require.Equal(t, []string{events.TypePaymentTokenRemoved}, types)
			require.Zero(t, f.engine.LastOrderID())
			continue
		}
		// A successful create is ordered entirely before the removal.
		require.Equal(t, []string{events.TypeOrderCreated, events.TypePaymentTokenRemoved}, types)
	}
}
