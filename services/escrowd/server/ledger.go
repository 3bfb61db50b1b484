package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gigescrow/native/bank"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.ledger.Balance(currency, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	allowance, err := s.ledger.Allowance(currency, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{
		Currency:  currency.Hex(),
		Account:   account.Hex(),
		Balance:   balance.String(),
		Allowance: allowance.String(),
	})
}

type creditRequest struct {
	Currency string `json:"currency"`
	Account  string `json:"account"`
	Amount   string `json:"amount"`
}

// handleCredit mints funds into an account. It is an operator faucet for
// environments where the ledger is not fed by an external system.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req creditRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.Credit(r.Context(), currency, account, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.ledger.Balance(currency, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Currency: currency.Hex(), Account: account.Hex(), Balance: balance.String()})
}

type approveRequest struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// handleApprove sets the caller's token allowance toward the custody vault.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, _ := Caller(r.Context())
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	currency, err := parseCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if currency == bank.NativeCurrency {
		s.fail(w, r, invalid("currency", "native currency does not use allowances"))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.Approve(r.Context(), currency, caller, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Currency: currency.Hex(), Account: caller.Hex(), Allowance: amount.String()})
}

type blockedRequest struct {
	Account string `json:"account"`
	Blocked bool   `json:"blocked"`
}

func (s *Server) handleSetBlocked(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	var req blockedRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.SetBlocked(account, req.Blocked); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
