package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/talpay/internal/domain"
)

// ─── Ledger DTOs ────────────────────────────────────────────────────────────

type mintRequest struct {
	To           string `json:"to" validate:"required"`
	Amount       int64  `json:"amount"`
	Denomination string `json:"denomination" validate:"omitempty,oneof=native payroll"`
}

type burnRequest struct {
	Amount       int64  `json:"amount"`
	Denomination string `json:"denomination" validate:"omitempty,oneof=native payroll"`
}

type transferRequest struct {
	To     string `json:"to" validate:"required"`
	Amount int64  `json:"amount"`
}

type rateRequest struct {
	Rate int64 `json:"rate"`
}

type rateResponse struct {
	Rate int64 `json:"rate"`
}

func denomination(s string) domain.Denomination {
	if s == "" {
		return domain.Payroll
	}
	return domain.Denomination(s)
}

// ─── Ledger Handlers ────────────────────────────────────────────────────────

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetTokenBalance(domain.Identity(chi.URLParam(r, "identity"))))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetTokenTransactions(domain.Identity(chi.URLParam(r, "identity")))))
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rateResponse{Rate: s.svc.GetTalPayToIcpRate()})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := s.svc.SetTalPayToIcpRate(r.Context(), caller, req.Rate); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, rateResponse{Rate: s.svc.GetTalPayToIcpRate()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	tx, err := s.svc.MintTalPayTokens(r.Context(), caller, domain.Identity(req.To), req.Amount, denomination(req.Denomination))
	writeTx(w, r, tx, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req burnRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	tx, err := s.svc.BurnTokens(r.Context(), caller, req.Amount, denomination(req.Denomination))
	writeTx(w, r, tx, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	tx, err := s.svc.TransferTalPay(r.Context(), caller, domain.Identity(req.To), req.Amount)
	writeTx(w, r, tx, err)
}

func (s *Server) handleConvertToPayroll(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	tx, err := s.svc.ConvertIcpToTalPay(r.Context(), caller, req.Amount)
	writeTx(w, r, tx, err)
}

func (s *Server) handleConvertToNative(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	tx, err := s.svc.ConvertTalPayToIcp(r.Context(), caller, req.Amount)
	writeTx(w, r, tx, err)
}

func writeTx(w http.ResponseWriter, r *http.Request, tx domain.TokenTransaction, err error) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, tx)
}
