package orders

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gigescrow/native/bank"
)

// TransferBatch stages custody movements. Nothing is visible until Commit
// succeeds; Rollback discards staged work and is a no-op after Commit.
type TransferBatch interface {
	// Pull moves amount from the party into custody.
	Pull(currency, from common.Address, amount *big.Int) error
	// Push moves amount out of custody to the party.
	Push(currency, to common.Address, amount *big.Int) error
	Commit() error
	Rollback()
}

// AssetTransfer opens transfer batches against the custody ledger.
type AssetTransfer interface {
	Begin(ctx context.Context) (TransferBatch, error)
}

// RecordStager is implemented by batches that can persist engine records in
// the same atomic write as the transfers. Batches without it leave the engine
// memory-only.
type RecordStager interface {
	Stage(key, value []byte)
}

type ledgerTransfer struct {
	ledger *bank.Ledger
}

// NewLedgerTransfer adapts a bank ledger to AssetTransfer.
func NewLedgerTransfer(ledger *bank.Ledger) AssetTransfer {
	return ledgerTransfer{ledger: ledger}
}

func (t ledgerTransfer) Begin(ctx context.Context) (TransferBatch, error) {
	tx, err := t.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
