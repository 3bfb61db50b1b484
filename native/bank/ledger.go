package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gigescrow/storage"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInsufficientAllowance is returned when a token pull exceeds what the
	// owner approved for the custody vault.
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	// ErrDestinationBlocked is returned when a push targets an account that
	// refuses incoming transfers.
	ErrDestinationBlocked = errors.New("bank: destination rejects transfers")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("bank: invalid amount")
	// ErrTxClosed is returned when a finished transaction is reused.
	ErrTxClosed = errors.New("bank: transaction already closed")
)

// NativeCurrency identifies the platform currency. Pulls in the native
// currency model value attached to a call and need no allowance.
var NativeCurrency = common.Address{}

const (
	balanceKeyFormat   = "bank/bal/%x/%x"
	allowanceKeyFormat = "bank/alw/%x/%x"
	blockedKeyFormat   = "bank/blocked/%x"
	balancePrefix      = "bank/bal/"
)

// Ledger keeps per-currency balances in a key-value store and moves value in
// and out of a single custody vault. Every mutation goes through a Tx so
// balance changes land in one atomic storage batch.
type Ledger struct {
	db    storage.Database
	vault common.Address

	// mu serialises transactions; it is held from Begin until Commit or
	// Rollback.
	mu sync.Mutex

	blockedMu sync.RWMutex
	blocked   map[common.Address]struct{}
}

// NewLedger constructs a ledger over db that custodies funds at vault.
func NewLedger(db storage.Database, vault common.Address) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("bank: database required")
	}
	if vault == (common.Address{}) {
		return nil, fmt.Errorf("bank: custody vault address required")
	}
	l := &Ledger{db: db, vault: vault, blocked: make(map[common.Address]struct{})}
	if err := db.Iterate([]byte("bank/blocked/"), func(key, _ []byte) error {
		var addr common.Address
		raw := strings.TrimPrefix(string(key), "bank/blocked/")
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("bank: corrupt blocked key %q", key)
		}
		addr = common.HexToAddress(raw)
		l.blocked[addr] = struct{}{}
		return nil
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// Vault returns the custody account address.
func (l *Ledger) Vault() common.Address { return l.vault }

// Balance returns the balance of account in currency.
func (l *Ledger) Balance(currency, account common.Address) (*big.Int, error) {
	return l.read(balanceKey(currency, account))
}

// CustodyBalance returns the amount of currency held by the custody vault.
func (l *Ledger) CustodyBalance(currency common.Address) (*big.Int, error) {
	return l.Balance(currency, l.vault)
}

// Allowance returns how much of currency the owner has approved the custody
// vault to pull.
func (l *Ledger) Allowance(currency, owner common.Address) (*big.Int, error) {
	return l.read(allowanceKey(currency, owner))
}

// Credit mints amount into account. It backs the operator faucet and test
// fixtures.
func (l *Ledger) Credit(ctx context.Context, currency, account common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	tx, err := l.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.add(balanceKey(currency, account), amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Approve sets the allowance the owner grants the custody vault for currency.
func (l *Ledger) Approve(ctx context.Context, currency, owner common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if currency == NativeCurrency {
		return fmt.Errorf("bank: native currency does not use allowances")
	}
	tx, err := l.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	tx.set(allowanceKey(currency, owner), amount)
	return tx.Commit()
}

// SetBlocked marks account as refusing (or accepting again) incoming pushes.
func (l *Ledger) SetBlocked(account common.Address, blocked bool) error {
	key := []byte(fmt.Sprintf(blockedKeyFormat, account.Bytes()))
	batch := storage.NewBatch()
	if blocked {
		batch.Put(key, []byte{1})
	} else {
		batch.Delete(key)
	}
	if err := l.db.Write(batch); err != nil {
		return err
	}
	l.blockedMu.Lock()
	defer l.blockedMu.Unlock()
	if blocked {
		l.blocked[account] = struct{}{}
	} else {
		delete(l.blocked, account)
	}
	return nil
}

// Holdings lists every non-zero balance of currency.
func (l *Ledger) Holdings(currency common.Address) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int)
	prefix := []byte(fmt.Sprintf("%s%x/", balancePrefix, currency.Bytes()))
	err := l.db.Iterate(prefix, func(key, value []byte) error {
		raw := strings.TrimPrefix(string(key), string(prefix))
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("bank: corrupt balance key %q", key)
		}
		amount := new(big.Int).SetBytes(value)
		if amount.Sign() > 0 {
			out[common.HexToAddress(raw)] = amount
		}
		return nil
	})
	return out, err
}

func (l *Ledger) isBlocked(account common.Address) bool {
	l.blockedMu.RLock()
	defer l.blockedMu.RUnlock()
	_, ok := l.blocked[account]
	return ok
}

func (l *Ledger) read(key string) (*big.Int, error) {
	data, err := l.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

// Begin opens a transaction. The ledger lock is held until the transaction is
// committed or rolled back, so callers must always finish it.
func (l *Ledger) Begin(ctx context.Context) (*Tx, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	return &Tx{
		ledger:  l,
		overlay: make(map[string]*big.Int),
		batch:   storage.NewBatch(),
	}, nil
}

// Tx buffers balance movements and arbitrary records until Commit writes them
// in one storage batch.
type Tx struct {
	ledger  *Ledger
	overlay map[string]*big.Int
	batch   *storage.Batch
	done    bool
}

// Pull moves amount of currency from the account into custody. Token pulls
// also consume the allowance granted to the vault.
func (tx *Tx) Pull(currency, from common.Address, amount *big.Int) error {
	if tx.done {
		return ErrTxClosed
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if currency != NativeCurrency {
		if err := tx.sub(allowanceKey(currency, from), amount, ErrInsufficientAllowance); err != nil {
			return err
		}
	}
	if err := tx.sub(balanceKey(currency, from), amount, ErrInsufficientFunds); err != nil {
		return err
	}
	return tx.add(balanceKey(currency, tx.ledger.vault), amount)
}

// Push moves amount of currency out of custody to the destination.
func (tx *Tx) Push(currency, to common.Address, amount *big.Int) error {
	if tx.done {
		return ErrTxClosed
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if tx.ledger.isBlocked(to) {
		return fmt.Errorf("%w: %s", ErrDestinationBlocked, to.Hex())
	}
	if err := tx.sub(balanceKey(currency, tx.ledger.vault), amount, ErrInsufficientFunds); err != nil {
		return err
	}
	return tx.add(balanceKey(currency, to), amount)
}

// Stage queues a raw record write that commits together with the transfers.
// A nil value deletes the key.
func (tx *Tx) Stage(key, value []byte) {
	if value == nil {
		tx.batch.Delete(key)
		return
	}
	tx.batch.Put(key, value)
}

// Commit writes all staged changes atomically and releases the ledger.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	defer tx.finish()
	for key, value := range tx.overlay {
		tx.batch.Put([]byte(key), value.Bytes())
	}
	if err := tx.ledger.db.Write(tx.batch); err != nil {
		return fmt.Errorf("bank: commit: %w", err)
	}
	return nil
}

// Rollback discards staged changes. It is safe to call after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.overlay = nil
	tx.batch = nil
	tx.ledger.mu.Unlock()
}

func (tx *Tx) get(key string) (*big.Int, error) {
	if v, ok := tx.overlay[key]; ok {
		return v, nil
	}
	return tx.ledger.read(key)
}

func (tx *Tx) set(key string, value *big.Int) {
	tx.overlay[key] = new(big.Int).Set(value)
}

func (tx *Tx) add(key string, amount *big.Int) error {
	current, err := tx.get(key)
	if err != nil {
		return err
	}
	tx.set(key, new(big.Int).Add(current, amount))
	return nil
}

func (tx *Tx) sub(key string, amount *big.Int, insufficient error) error {
	current, err := tx.get(key)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", insufficient, current, amount)
	}
	tx.set(key, new(big.Int).Sub(current, amount))
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func balanceKey(currency, account common.Address) string {
	return fmt.Sprintf(balanceKeyFormat, currency.Bytes(), account.Bytes())
}

func allowanceKey(currency, owner common.Address) string {
	return fmt.Sprintf(allowanceKeyFormat, currency.Bytes(), owner.Bytes())
}
