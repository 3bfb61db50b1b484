package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"gigescrow/native/orders"
	"gigescrow/services/escrowd/journal"
)

const maxBodyBytes = 1 << 20

// NativeAlias may be used wherever a currency is expected.
const NativeAlias = "native"

type orderView struct {
	ID              uint64 `json:"id"`
	Customer        string `json:"customer"`
	Contractor      string `json:"contractor"`
	Currency        string `json:"currency"`
	Price           string `json:"price"`
	Deadline        int64  `json:"deadline"`
	Title           string `json:"title"`
	DescriptionLink string `json:"descriptionLink"`
	Status          string `json:"status"`
}

func newOrderView(o *orders.Order) orderView {
	price := "0"
	if o.Price != nil {
		price = o.Price.String()
	}
	return orderView{
		ID:              o.ID,
		Customer:        o.Customer.Hex(),
		Contractor:      o.Contractor.Hex(),
		Currency:        o.Currency.Hex(),
		Price:           price,
		Deadline:        o.Deadline,
		Title:           o.Title,
		DescriptionLink: o.DescriptionLink,
		Status:          o.Status.String(),
	}
}

type statusView struct {
	Running     bool     `json:"running"`
	LastOrderID uint64   `json:"lastOrderId"`
	Caller      string   `json:"caller"`
	Roles       []string `json:"roles"`
}

type feeView struct {
	Percent  uint64 `json:"percent"`
	Receiver string `json:"receiver"`
}

type custodyView struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Escrowed string `json:"escrowed"`
	Dust     string `json:"dust"`
}

type balanceView struct {
	Currency  string `json:"currency"`
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

type recordView struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
	PrevHash   string            `json:"prevHash"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func newRecordView(rec journal.Record) (recordView, error) {
	wire, err := rec.Decode()
	if err != nil {
		return recordView{}, err
	}
	return recordView{
		Seq:        rec.Seq,
		ID:         rec.ID,
		Type:       wire.Type,
		Attributes: wire.Attributes,
		Hash:       rec.Hash,
		PrevHash:   rec.PrevHash,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", orders.ErrInvalidArgument, err)
	}
	return nil
}

func invalid(field, raw string) error {
	return fmt.Errorf("%w: %s %q", orders.ErrInvalidArgument, field, raw)
}

// parseAddress accepts hex addresses, including the zero address. Zero
// identities are rejected by the engine with richer context.
func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalid(field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseCurrency(raw string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(raw), NativeAlias) {
		return orders.NativeCurrency, nil
	}
	return parseAddress("currency", raw)
}

// parseAmount decodes a base-10 integer. Empty input yields zero.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, invalid(field, raw)
	}
	return value, nil
}

func parseOrderID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, invalid("order id", raw)
	}
	return id, nil
}
