package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type createOrderRequest struct {
	Currency        string `json:"currency"`
	Title           string `json:"title"`
	DescriptionLink string `json:"descriptionLink"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.CreateOrder(r.Context(), caller, currency, req.Title, req.DescriptionLink)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.engine.Order(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

type startOrderRequest struct {
	Contractor string `json:"contractor"`
	Deadline   int64  `json:"deadline"`
	Price      string `json:"price"`
	// Attached is the native amount sent along with the call.
	Attached string `json:"attached"`
}

func (s *Server) handleStartOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req startOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	contractor, err := parseAddress("contractor", req.Contractor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	attached, err := parseAmount("attached", req.Attached)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.StartOrderExecution(r.Context(), caller, id, contractor, req.Deadline, price, attached)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleApproveOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.ApproveOrder(r.Context(), caller, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.CancelOrderByCustomer(r.Context(), caller, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

type judgeOrderRequest struct {
	ContractorPercent uint64 `json:"contractorPercent"`
	CustomerPercent   uint64 `json:"customerPercent"`
}

func (s *Server) handleJudgeOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req judgeOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.JudgeOrder(r.Context(), caller, id, req.ContractorPercent, req.CustomerPercent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

type updateContractorRequest struct {
	Contractor string `json:"contractor"`
}

func (s *Server) handleUpdateContractor(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	id, err := parseOrderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req updateContractorRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	contractor, err := parseAddress("contractor", req.Contractor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	order, err := s.controller.UpdateOrderContractor(r.Context(), caller, id, contractor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handlePartyOrders(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var ids []uint64
	switch role := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role"))); role {
	case "", "customer":
		ids = s.engine.CustomerOrders(party)
	case "contractor":
		ids = s.engine.ContractorOrders(party)
	default:
		s.fail(w, r, invalid("role", role))
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": party.Hex(), "orders": ids})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.engine.PaymentTokens()
	out := make([]string, len(tokens))
	for i, token := range tokens {
		out[i] = token.Hex()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.FeeConfig()
	writeJSON(w, http.StatusOK, feeView{Percent: cfg.Percent, Receiver: cfg.Receiver.Hex()})
}

func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.ledger.CustodyBalance(currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, custodyView{
		Currency: currency.Hex(),
		Balance:  balance.String(),
		Escrowed: s.engine.Escrowed(currency).String(),
		Dust:     s.engine.RetainedDust(currency).String(),
	})
}
