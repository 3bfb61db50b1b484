package orders

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"gigescrow/native/bank"
)

func TestRestoreRebuildsEngineState(t *testing.T) {
	f := newFixture(t)
	extra := common.HexToAddress("0x0000000000000000000000000000000000008080")

	canceled := f.create(NativeCurrency)
	_, err := f.engine.CancelOrderByCustomer(f.ctx, customer, canceled.ID)
	require.NoError(t, err)
	judged := f.started()
	_, err = f.engine.JudgeOrder(f.ctx, judged.ID, 5_000, 5_000)
	require.NoError(t, err)
	open := f.started()
	pending := f.create(NativeCurrency)

	require.NoError(t, f.engine.AddPaymentToken(f.ctx, extra))
	require.NoError(t, f.engine.RemovePaymentToken(f.ctx, tokenAddr))
	require.NoError(t, f.engine.SetFeeReceiver(f.ctx, outsider))
	require.NoError(t, f.engine.SetFeePercent(f.ctx, 250))

	ledger, err := bank.NewLedger(f.db, vaultAddr)
	require.NoError(t, err)
	restored := NewEngine(NewLedgerTransfer(ledger), WithPaymentTokens(tokenAddr))
	require.NoError(t, restored.Restore(f.db))

	require.Equal(t, f.engine.LastOrderID(), restored.LastOrderID())
	for id := uint64(1); id <= f.engine.LastOrderID(); id++ {
		want, err := f.engine.Order(id)
		require.NoError(t, err)
		got, err := restored.Order(id)
		require.NoError(t, err)
		requireSameOrder(t, want, got)
	}
	require.Equal(t, []uint64{open.ID, pending.ID}, restored.CustomerOrders(customer))
	require.Equal(t, []uint64{open.ID}, restored.ContractorOrders(contractor))
	require.Equal(t, "1", restored.RetainedDust(NativeCurrency).String())
	require.Equal(t, FeeConfig{Percent: 250, Receiver: outsider}, restored.FeeConfig())
	require.True(t, restored.IsPaymentToken(extra))
	require.False(t, restored.IsPaymentToken(tokenAddr))

	restored.SetNowFunc(func() int64 { return testNow })
	next, err := restored.CreateOrder(f.ctx, customer, NativeCurrency, "next", "link")
	require.NoError(t, err)
	require.Equal(t, pending.ID+1, next.ID)

	_, err = restored.ApproveOrder(f.ctx, customer, open.ID)
	require.NoError(t, err)
	paid, err := ledger.Balance(NativeCurrency, contractor)
	require.NoError(t, err)
	// 47 from the judged order, 100 minus a 2.5% fee from the approved one.
	require.Equal(t, big.NewInt(47+98).String(), paid.String())
}

func TestOrderRecordRoundTrip(t *testing.T) {
	order := &Order{
		ID:              9,
		Customer:        customer,
		Contractor:      contractor,
		Currency:        tokenAddr,
		Price:           big.NewInt(12345),
		Deadline:        testDeadline,
		Title:           "Café menu",
		DescriptionLink: "https://example.org/brief",
		Status:          StatusJudged,
	}
	encoded, err := encodeOrder(order)
	require.NoError(t, err)
	decoded, err := decodeOrder(encoded)
	require.NoError(t, err)
	requireSameOrder(t, order, decoded)
}

func requireSameOrder(t *testing.T, want, got *Order) {
	t.Helper()
	require.Equal(t, want.Price.String(), got.Price.String())
	wantCopy, gotCopy := *want, *got
	wantCopy.Price, gotCopy.Price = nil, nil
	require.Equal(t, wantCopy, gotCopy)
}
