package orders

import (
	"errors"
	"math/big"
	"testing"
)

func TestSettleFullVectors(t *testing.T) {
	cases := []struct {
		name       string
		price      int64
		fee        uint64
		contractor string
		feeAmount  string
	}{
		{"five percent", 100, 500, "95", "5"},
		{"zero fee", 100, 0, "100", "0"},
		{"fee rounds down", 19, 500, "19", "0"},
		{"max fee", 10_000, Precision - 1, "1", "9999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := SettleFull(big.NewInt(tc.price), tc.fee)
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if s.Contractor.String() != tc.contractor || s.Fee.String() != tc.feeAmount {
				t.Fatalf("got contractor %s fee %s", s.Contractor, s.Fee)
			}
			if s.Total().Int64() != tc.price {
				t.Fatalf("total %s != price %d", s.Total(), tc.price)
			}
		})
	}
}

func TestSettleSplitProducesDust(t *testing.T) {
	s, err := SettleSplit(big.NewInt(100), 500, 5_000, 5_000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.Contractor.String() != "47" || s.Customer.String() != "47" || s.Fee.String() != "5" || s.Dust.String() != "1" {
		t.Fatalf("unexpected split %+v", s)
	}
	paid := new(big.Int).Add(s.Contractor, s.Customer)
	paid.Add(paid, s.Fee)
	if paid.Int64() != 99 {
		t.Fatalf("expected 99 disbursed, got %s", paid)
	}
	if s.Total().Int64() != 100 {
		t.Fatalf("total must equal price, got %s", s.Total())
	}
}

func TestSettleSplitOneSided(t *testing.T) {
	s, err := SettleSplit(big.NewInt(1_000), 0, Precision, 0)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.Contractor.String() != "1000" || s.Customer.Sign() != 0 || s.Dust.Sign() != 0 {
		t.Fatalf("unexpected split %+v", s)
	}
}

func TestSettleSplitRejectsBadPercentages(t *testing.T) {
	maxPct := ^uint64(0)
	cases := []struct {
		name               string
		contractor, client uint64
	}{
		{"zero zero", 0, 0},
		{"max max", maxPct, maxPct},
		{"short", 4_000, 5_000},
		{"over", 6_000, 5_000},
		{"wraps", maxPct, Precision + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SettleSplit(big.NewInt(100), 0, tc.contractor, tc.client)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestSettleRejectsOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := SettleFull(huge, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
	almost := new(big.Int).Sub(huge, big.NewInt(1))
	if _, err := SettleFull(almost, 500); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected multiplication overflow, got %v", err)
	}
	if _, err := SettleFull(big.NewInt(1), Precision); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected fee percent rejection, got %v", err)
	}
}

func TestSettleableBound(t *testing.T) {
	limit := new(big.Int).Lsh(big.NewInt(1), 256)
	limit.Sub(limit, big.NewInt(1))
	limit.Div(limit, big.NewInt(int64(Precision)))
	if !Settleable(limit) {
		t.Fatalf("expected %s to be settleable", limit)
	}
	over := new(big.Int).Add(limit, big.NewInt(1))
	if Settleable(over) {
		t.Fatalf("expected %s to overflow", over)
	}
	if Settleable(new(big.Int).Lsh(big.NewInt(1), 250)) {
		t.Fatal("expected 2^250 to overflow")
	}
	if Settleable(big.NewInt(-1)) || Settleable(nil) {
		t.Fatal("expected negative and nil prices to be rejected")
	}
	// Anything Settleable accepts must settle at any fee and split.
	if _, err := SettleSplit(limit, Precision-1, 1, Precision-1); err != nil {
		t.Fatalf("settle at bound: %v", err)
	}
}
