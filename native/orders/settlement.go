package orders

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Settlement is the disbursement plan for a terminal order. Amounts that are
// zero are not transferred.
type Settlement struct {
	Contractor *big.Int
	Customer   *big.Int
	Fee        *big.Int
	Dust       *big.Int
}

// Total returns the sum of every leg including dust. It always equals the
// order price.
func (s Settlement) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{s.Contractor, s.Customer, s.Fee, s.Dust} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

var precision = uint256.NewInt(Precision)

// SettleFull computes the release of price to the contractor with the platform
// fee withheld.
func SettleFull(price *big.Int, feePercent uint64) (Settlement, error) {
	p, fee, err := feeOf(price, feePercent)
	if err != nil {
		return Settlement{}, err
	}
	contractor := new(uint256.Int).Sub(p, fee)
	return Settlement{
		Contractor: contractor.ToBig(),
		Customer:   new(big.Int),
		Fee:        fee.ToBig(),
		Dust:       new(big.Int),
	}, nil
}

// SettleSplit divides price after fees between contractor and customer by the
// given percentages, which must add up to Precision. Floor division leaves a
// remainder that is reported as dust.
func SettleSplit(price *big.Int, feePercent, contractorPercent, customerPercent uint64) (Settlement, error) {
	if contractorPercent > Precision || customerPercent > Precision || contractorPercent+customerPercent != Precision {
		return Settlement{}, fmt.Errorf("%w: split %d + %d must equal %d", ErrInvalidArgument, contractorPercent, customerPercent, Precision)
	}
	p, fee, err := feeOf(price, feePercent)
	if err != nil {
		return Settlement{}, err
	}
	distributable := new(uint256.Int).Sub(p, fee)
	contractor, err := portion(distributable, contractorPercent)
	if err != nil {
		return Settlement{}, err
	}
	customer, err := portion(distributable, customerPercent)
	if err != nil {
		return Settlement{}, err
	}
	dust := new(uint256.Int).Sub(distributable, contractor)
	dust.Sub(dust, customer)
	return Settlement{
		Contractor: contractor.ToBig(),
		Customer:   customer.ToBig(),
		Fee:        fee.ToBig(),
		Dust:       dust.ToBig(),
	}, nil
}

// Settleable reports whether price can be scaled by Precision within 256 bits,
// which every settlement of it requires.
func Settleable(price *big.Int) bool {
	if price == nil || price.Sign() < 0 {
		return false
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return false
	}
	_, overflow = new(uint256.Int).MulOverflow(p, precision)
	return !overflow
}

// FeeFor returns price*feePercent/Precision.
func FeeFor(price *big.Int, feePercent uint64) (*big.Int, error) {
	_, fee, err := feeOf(price, feePercent)
	if err != nil {
		return nil, err
	}
	return fee.ToBig(), nil
}

func feeOf(price *big.Int, feePercent uint64) (*uint256.Int, *uint256.Int, error) {
	if price == nil || price.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: price must be non-negative", ErrInvalidArgument)
	}
	if feePercent >= Precision {
		return nil, nil, fmt.Errorf("%w: fee percent %d must be below %d", ErrInvalidArgument, feePercent, Precision)
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return nil, nil, fmt.Errorf("%w: price exceeds 256 bits", ErrInvalidArgument)
	}
	if feePercent == 0 {
		return p, new(uint256.Int), nil
	}
	fee, err := portion(p, feePercent)
	if err != nil {
		return nil, nil, err
	}
	return p, fee, nil
}

func portion(amount *uint256.Int, percent uint64) (*uint256.Int, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(percent))
	if overflow {
		return nil, fmt.Errorf("%w: amount %s overflows at %d/%d", ErrInvalidArgument, amount.Dec(), percent, Precision)
	}
	return scaled.Div(scaled, precision), nil
}
