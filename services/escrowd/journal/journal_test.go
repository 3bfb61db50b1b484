package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gigescrow/core/events"
	"gigescrow/core/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

type countingCounter struct{ types []string }

func (c *countingCounter) RecordEvent(eventType string) { c.types = append(c.types, eventType) }

func TestAppendBuildsVerifiableChain(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)
	counter := &countingCounter{}
	j.SetCounter(counter)

	customer := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	j.Emit(events.OrderCanceled{OrderID: 1, Customer: customer})
	j.Emit(events.FeePercentUpdated{FeePercent: 250})
	_, err = j.Append(context.Background(), &types.Event{Type: "custom", Attributes: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)

	records, err := j.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, uint64(1), records[0].Seq)
	require.Empty(t, records[0].PrevHash)
	require.Equal(t, records[0].Hash, records[1].PrevHash)
	require.Equal(t, `{"a":"1","b":"2"}`, records[2].Attributes)
	require.Equal(t, []string{events.TypeOrderCanceled, events.TypeFeePercentUpdated, "custom"}, counter.types)

	wire, err := records[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "1", wire.Attributes["orderId"])
	require.Equal(t, customer.Hex(), wire.Attributes["customer"])

	require.NoError(t, j.Verify(context.Background()))

	after, err := j.List(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "custom", after[0].Type)
}

func TestVerifyDetectsTampering(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		j.Emit(events.FeePercentUpdated{FeePercent: uint64(i)})
	}
	require.NoError(t, db.Model(&Record{}).Where("seq = ?", 2).Update("attributes", `{"feePercent":"9999"}`).Error)
	require.ErrorIs(t, j.Verify(context.Background()), ErrChainBroken)
}

func TestNewResumesFromHead(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)
	j.Emit(events.FeePercentUpdated{FeePercent: 1})
	j.Emit(events.FeePercentUpdated{FeePercent: 2})
	seq, head := j.Head()

	reopened, err := New(db, nil)
	require.NoError(t, err)
	gotSeq, gotHead := reopened.Head()
	require.Equal(t, seq, gotSeq)
	require.Equal(t, head, gotHead)

	rec, err := reopened.Append(context.Background(), &types.Event{Type: "next"})
	require.NoError(t, err)
	require.Equal(t, uint64(3), rec.Seq)
	require.Equal(t, head, rec.PrevHash)
	require.NoError(t, reopened.Verify(context.Background()))
}

func TestEmitIgnoresEventsWithoutWireForm(t *testing.T) {
	j, err := New(setupTestDB(t), nil)
	require.NoError(t, err)
	j.Emit(bareEvent{})
	seq, _ := j.Head()
	require.Zero(t, seq)
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestAppendRejectsEmptyType(t *testing.T) {
	j, err := New(setupTestDB(t), nil)
	require.NoError(t, err)
	_, err = j.Append(context.Background(), &types.Event{})
	require.Error(t, err)
	_, err = j.Append(context.Background(), nil)
	require.Error(t, err)
}

func TestSubscribeReceivesAppends(t *testing.T) {
	j, err := New(setupTestDB(t), nil)
	require.NoError(t, err)
	feed, cancel := j.Subscribe()
	j.Emit(events.SystemSwitched{Paused: true})

	select {
	case rec := <-feed:
		require.Equal(t, events.TypeSystemPaused, rec.Type)
	case <-time.After(time.Second):
		t.Fatalf("expected record on subscription")
	}
	cancel()
	cancel()
	_, open := <-feed
	require.False(t, open)
}

func TestIdempotencyKeys(t *testing.T) {
	j, err := New(setupTestDB(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := j.Remembered(ctx, "k1", "0xabc")
	require.NoError(t, err)
	require.False(t, ok)

	entry := IdempotencyKey{Key: "k1", Caller: "0xabc", Method: "POST", Path: "/v1/orders", Status: 201, Response: `{"id":1}`}
	require.NoError(t, j.Remember(ctx, entry))
	require.NoError(t, j.Remember(ctx, entry))

	got, ok, err := j.Remembered(ctx, "k1", "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 201, got.Status)
	require.Equal(t, `{"id":1}`, got.Response)

	_, ok, err = j.Remembered(ctx, "k1", "0xdef")
	require.NoError(t, err)
	require.False(t, ok)

	entry.Path = "/v1/orders/1/approve"
	require.ErrorIs(t, j.Remember(ctx, entry), ErrIdempotencyConflict)
}

func TestOpenSqliteDSN(t *testing.T) {
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.True(t, db.Migrator().HasTable(&Record{}))
	_, err = Open("  ")
	require.Error(t, err)
}
