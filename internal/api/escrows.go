package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/talpay/internal/app/escrow"
)

// ─── Escrow DTOs ────────────────────────────────────────────────────────────

type createEscrowRequest struct {
	Title             string   `json:"title" validate:"required"`
	TotalAmount       int64    `json:"total_amount"`
	EmployeeCount     int      `json:"employee_count"`
	ReleaseDate       int64    `json:"release_date"`
	RequiredApprovals int      `json:"required_approvals"`
	Payees            []string `json:"payees,omitempty" validate:"omitempty,dive,required"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type releaseResult struct {
	EscrowID string   `json:"escrow_id"`
	Payments []string `json:"payments"`
}

// ─── Escrow Handlers ────────────────────────────────────────────────────────

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetEscrowContracts()))
}

func (s *Server) handleOverdueEscrows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.OverdueEscrows(time.Now())))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.GetEscrowContract(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleEscrowPayments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetEscrowPayments(chi.URLParam(r, "id"))))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetPaymentRecords()))
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createEscrowRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	c, err := s.svc.CreateEscrowContract(r.Context(), caller, escrow.NewContract{
		Title:             req.Title,
		TotalAmount:       req.TotalAmount,
		EmployeeCount:     req.EmployeeCount,
		ReleaseDate:       req.ReleaseDate,
		RequiredApprovals: req.RequiredApprovals,
		Payees:            req.Payees,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, c)
}

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	c, err := s.svc.FundEscrowWithTalPay(r.Context(), caller, chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) handleApproveEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	c, err := s.svc.ApproveEscrowRelease(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ids, err := s.svc.ReleaseEscrowFunds(r.Context(), caller, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, releaseResult{EscrowID: id, Payments: list(ids)})
}

func (s *Server) handleCancelEscrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	c, err := s.svc.CancelEscrowContract(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}
