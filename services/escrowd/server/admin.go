package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type currencyRequest struct {
	Currency string `json:"currency"`
}

func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req currencyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.AddPaymentToken(r.Context(), caller, currency); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"currency": currency.Hex()})
}

func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	currency, err := parseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.RemovePaymentToken(r.Context(), caller, currency); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"currency": currency.Hex()})
}

type feePercentRequest struct {
	Percent uint64 `json:"percent"`
}

func (s *Server) handleSetFeePercent(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req feePercentRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.SetFeePercent(r.Context(), caller, req.Percent); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetFee(w, r)
}

type feeReceiverRequest struct {
	Receiver string `json:"receiver"`
}

func (s *Server) handleSetFeeReceiver(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req feeReceiverRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	receiver, err := parseAddress("receiver", req.Receiver)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.SetFeeReceiver(r.Context(), caller, receiver); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleGetFee(w, r)
}

type withdrawRequest struct {
	Currency string `json:"currency"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.EmergencyWithdraw(r.Context(), caller, currency, to, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawRequest{Currency: currency.Hex(), To: to.Hex(), Amount: amount.String()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	if err := s.controller.Pause(caller); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	if err := s.controller.Resume(caller); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handleListRole(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	role, err := roleParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	members := []string{}
	if s.roles != nil {
		for _, member := range s.roles.Members(role) {
			members = append(members, member.Hex())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": string(role), "members": members})
}

type roleRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	role, err := roleParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	identity, err := parseAddress("identity", req.Identity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.GrantRole(caller, identity, role); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(role), "identity": identity.Hex()})
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	role, err := roleParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	identity, err := parseAddress("identity", chi.URLParam(r, "address"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.controller.RevokeRole(caller, identity, role); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(role), "identity": identity.Hex()})
}
