package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestOrderJudgedWireAttributes(t *testing.T) {
	evt := OrderJudged{
		OrderID:          7,
		Contractor:       common.HexToAddress("0x02"),
		Customer:         common.HexToAddress("0x01"),
		ContractorAmount: big.NewInt(47),
		CustomerAmount:   big.NewInt(47),
		Fee:              big.NewInt(5),
		Dust:             big.NewInt(1),
	}
	wire := ToWire(evt)
	if wire == nil {
		t.Fatalf("expected wire event")
	}
	if wire.Type != TypeOrderJudged {
		t.Fatalf("unexpected type %s", wire.Type)
	}
	want := map[string]string{
		"orderId":          "7",
		"contractorAmount": "47",
		"customerAmount":   "47",
		"fee":              "5",
		"dust":             "1",
		"contractor":       common.HexToAddress("0x02").Hex(),
	}
	for key, value := range want {
		if got := wire.Attributes[key]; got != value {
			t.Fatalf("attribute %s: got %q want %q", key, got, value)
		}
	}
	if wire.Attr("orderId") != "7" || wire.Attr("missing") != "" {
		t.Fatalf("unexpected Attr lookup on %v", wire.Attributes)
	}
}

func TestToggleEventTypes(t *testing.T) {
	cases := []struct {
		evt  Event
		want string
	}{
		{PaymentTokenChanged{}, TypePaymentTokenAdded},
		{PaymentTokenChanged{Removed: true}, TypePaymentTokenRemoved},
		{SystemSwitched{Paused: true}, TypeSystemPaused},
		{SystemSwitched{}, TypeSystemResumed},
		{RoleChanged{Role: "admin"}, TypeRoleGranted},
		{RoleChanged{Role: "admin", Revoked: true}, TypeRoleRevoked},
	}
	for _, tc := range cases {
		if got := tc.evt.EventType(); got != tc.want {
			t.Fatalf("got %s want %s", got, tc.want)
		}
		if wire := ToWire(tc.evt); wire == nil || wire.Type != tc.want {
			t.Fatalf("wire type mismatch for %s", tc.want)
		}
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	var a, b Recorder
	fan := NewFanout(&a, nil, &b)
	fan.Emit(OrderCanceled{OrderID: 1})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
	if got := a.Types(); got[0] != TypeOrderCanceled {
		t.Fatalf("unexpected type %v", got)
	}
}
