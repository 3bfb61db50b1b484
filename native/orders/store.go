package orders

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"gigescrow/storage"
)

const (
	orderKeyPrefix      = "orders/order/"
	orderKeyFormat      = "orders/order/%020d"
	lastIDKey           = "orders/meta/last-id"
	feeConfigKey        = "orders/config/fee"
	tokenKeyPrefix      = "orders/config/token/"
	dustKeyPrefix       = "orders/dust/"
	customerIndexPrefix = "orders/idx/customer/"
	contractorIdxPrefix = "orders/idx/contractor/"
)

type storedOrder struct {
	ID              uint64
	Customer        common.Address
	Contractor      common.Address
	Currency        common.Address
	Price           []byte
	Deadline        uint64
	Title           string
	DescriptionLink string
	Status          uint8
}

type storedFee struct {
	Percent  uint64
	Receiver common.Address
}

func orderKey(id uint64) string { return fmt.Sprintf(orderKeyFormat, id) }

func tokenKey(currency common.Address) string {
	return fmt.Sprintf("%s%x", tokenKeyPrefix, currency.Bytes())
}

func dustKey(currency common.Address) string {
	return fmt.Sprintf("%s%x", dustKeyPrefix, currency.Bytes())
}

func indexKey(prefix string, party common.Address, id uint64) string {
	return fmt.Sprintf("%s%x/%020d", prefix, party.Bytes(), id)
}

func encodeOrder(o *Order) ([]byte, error) {
	var deadline uint64
	if o.Deadline > 0 {
		deadline = uint64(o.Deadline)
	}
	return rlp.EncodeToBytes(storedOrder{
		ID:              o.ID,
		Customer:        o.Customer,
		Contractor:      o.Contractor,
		Currency:        o.Currency,
		Price:           cloneBigInt(o.Price).Bytes(),
		Deadline:        deadline,
		Title:           o.Title,
		DescriptionLink: o.DescriptionLink,
		Status:          uint8(o.Status),
	})
}

func decodeOrder(data []byte) (*Order, error) {
	var stored storedOrder
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	status := Status(stored.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("orders: stored order %d has unknown status %d", stored.ID, stored.Status)
	}
	return &Order{
		ID:              stored.ID,
		Customer:        stored.Customer,
		Contractor:      stored.Contractor,
		Currency:        stored.Currency,
		Price:           new(big.Int).SetBytes(stored.Price),
		Deadline:        int64(stored.Deadline),
		Title:           stored.Title,
		DescriptionLink: stored.DescriptionLink,
		Status:          status,
	}, nil
}

// writer stages records into a batch when the batch supports it.
type writer struct {
	stager RecordStager
	err    error
}

func newWriter(batch TransferBatch) *writer {
	stager, _ := batch.(RecordStager)
	return &writer{stager: stager}
}

func (w *writer) put(key string, value []byte) {
	if w.stager == nil || w.err != nil {
		return
	}
	w.stager.Stage([]byte(key), value)
}

func (w *writer) delete(key string) {
	if w.stager == nil || w.err != nil {
		return
	}
	w.stager.Stage([]byte(key), nil)
}

func (w *writer) putRLP(key string, v interface{}) {
	if w.stager == nil || w.err != nil {
		return
	}
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		w.err = err
		return
	}
	w.stager.Stage([]byte(key), encoded)
}

func (w *writer) order(o *Order) {
	if w.stager == nil || w.err != nil {
		return
	}
	encoded, err := encodeOrder(o)
	if err != nil {
		w.err = err
		return
	}
	w.stager.Stage([]byte(orderKey(o.ID)), encoded)
}

// Restore loads orders, indices, the allowlist, fee configuration and dust
// counters from db. It must run before the engine serves requests.
func (e *Engine) Restore(db storage.Database) error {
	if db == nil {
		return errors.New("orders: restore requires a database")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if data, err := db.Get([]byte(lastIDKey)); err == nil {
		var last uint64
		if err := rlp.DecodeBytes(data, &last); err != nil {
			return fmt.Errorf("orders: decode last id: %w", err)
		}
		e.lastID = last
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := db.Iterate([]byte(orderKeyPrefix), func(_, value []byte) error {
		order, err := decodeOrder(value)
		if err != nil {
			return err
		}
		e.orders[order.ID] = &entry{order: order}
		if order.ID > e.lastID {
			e.lastID = order.ID
		}
		return nil
	}); err != nil {
		return fmt.Errorf("orders: restore orders: %w", err)
	}

	if data, err := db.Get([]byte(feeConfigKey)); err == nil {
		var stored storedFee
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return fmt.Errorf("orders: decode fee config: %w", err)
		}
		e.feeMu.Lock()
		e.fee = FeeConfig{Percent: stored.Percent, Receiver: stored.Receiver}
		e.feeMu.Unlock()
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if err := db.Iterate([]byte(tokenKeyPrefix), func(key, value []byte) error {
		currency, err := addressSuffix(key, tokenKeyPrefix)
		if err != nil {
			return err
		}
		if len(value) == 1 && value[0] == 1 {
			e.allowlist.add(currency)
		} else {
			e.allowlist.remove(currency)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("orders: restore allowlist: %w", err)
	}

	if err := db.Iterate([]byte(dustKeyPrefix), func(key, value []byte) error {
		currency, err := addressSuffix(key, dustKeyPrefix)
		if err != nil {
			return err
		}
		total := new(big.Int)
		if err := rlp.DecodeBytes(value, total); err != nil {
			return err
		}
		e.dustMu.Lock()
		e.dust[currency] = total
		e.dustMu.Unlock()
		return nil
	}); err != nil {
		return fmt.Errorf("orders: restore dust: %w", err)
	}

	for _, idx := range []struct {
		prefix string
		index  *partyIndex
	}{
		{customerIndexPrefix, e.customers},
		{contractorIdxPrefix, e.contractors},
	} {
		index := idx.index
		prefix := idx.prefix
		if err := db.Iterate([]byte(prefix), func(key, _ []byte) error {
			rest := strings.TrimPrefix(string(key), prefix)
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
				return fmt.Errorf("orders: corrupt index key %q", key)
			}
			var id uint64
			if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
				return fmt.Errorf("orders: corrupt index key %q: %w", key, err)
			}
			index.add(common.HexToAddress(parts[0]), id)
			return nil
		}); err != nil {
			return fmt.Errorf("orders: restore index: %w", err)
		}
	}
	return nil
}

func addressSuffix(key []byte, prefix string) (common.Address, error) {
	raw := strings.TrimPrefix(string(key), prefix)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("orders: corrupt key %q", key)
	}
	return common.HexToAddress(raw), nil
}
