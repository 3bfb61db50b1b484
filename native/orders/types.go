package orders

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Precision is the fixed-point base for fee and split percentages: 10000
// represents 100%.
const Precision uint64 = 10_000

// NativeCurrency is the sentinel for the platform's native currency. It is a
// permanent member of the payment allowlist.
var NativeCurrency = common.Address{}

// Status enumerates the lifecycle states of an order.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInProgress
	StatusCompleted
	StatusCanceledByCustomer
	StatusJudged
)

// String renders the status in the upper-case form used by the API.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCanceledByCustomer:
		return "CANCELED_BY_CUSTOMER"
	case StatusJudged:
		return "JUDGED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s <= StatusJudged }

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceledByCustomer || s == StatusJudged
}

// Order is a paid engagement between a customer and a contractor.
type Order struct {
	ID              uint64
	Customer        common.Address
	Contractor      common.Address
	Currency        common.Address
	Price           *big.Int
	Deadline        int64
	Title           string
	DescriptionLink string
	Status          Status
}

// Clone returns a deep copy so callers cannot mutate engine state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneBigInt(o.Price)
	return &clone
}

// FeeConfig is the platform fee applied to settlements.
type FeeConfig struct {
	Percent  uint64
	Receiver common.Address
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
