package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/talpay/internal/app/registry"
	"github.com/tutu-network/talpay/internal/domain"
)

// ─── Employee DTOs ──────────────────────────────────────────────────────────
// Numeric rules (salary sign) are left to the registry so the error kind
// stays InvalidAmount.

type addEmployeeRequest struct {
	Identity  string `json:"identity" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Position  string `json:"position"`
	Salary    int64  `json:"salary"`
	WalletRef string `json:"wallet_ref"`
	Status    string `json:"status" validate:"omitempty,oneof=active inactive pending"`
}

type updateEmployeeRequest struct {
	Name      *string `json:"name,omitempty"`
	Position  *string `json:"position,omitempty"`
	Salary    *int64  `json:"salary,omitempty"`
	WalletRef *string `json:"wallet_ref,omitempty"`
	Status    *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive pending"`
}

func (u updateEmployeeRequest) patch() domain.EmployeePatch {
	p := domain.EmployeePatch{
		Name:      u.Name,
		Position:  u.Position,
		Salary:    u.Salary,
		WalletRef: u.WalletRef,
	}
	if u.Status != nil {
		st := domain.EmployeeStatus(*u.Status)
		p.Status = &st
	}
	return p
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive pending"`
}

// ─── Employee Handlers ──────────────────────────────────────────────────────

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetEmployees()))
}

func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetEmployee(chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAddEmployee(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req addEmployeeRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	e, err := s.svc.AddEmployee(r.Context(), caller, registry.NewEmployee{
		Identity:  domain.Identity(req.Identity),
		Name:      req.Name,
		Position:  req.Position,
		Salary:    req.Salary,
		WalletRef: req.WalletRef,
		Status:    domain.EmployeeStatus(req.Status),
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEmployee(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req updateEmployeeRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	e, err := s.svc.UpdateEmployee(r.Context(), caller, chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, e)
}

func (s *Server) handleSetEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	e, err := s.svc.SetEmployeeStatus(r.Context(), caller, chi.URLParam(r, "id"), domain.EmployeeStatus(req.Status))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	e, err := s.svc.DeleteEmployee(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, e)
}

func (s *Server) handleEmployeePayments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.GetEmployeePayments(chi.URLParam(r, "id"))))
}

// ─── Admin Handlers ─────────────────────────────────────────────────────────

type adminRequest struct {
	Identity string `json:"identity" validate:"required"`
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, list(s.svc.ListAdmins()))
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if err := s.decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := s.svc.AddAdmin(r.Context(), caller, domain.Identity(req.Identity)); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, s.svc.ListAdmins())
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.svc.RemoveAdmin(r.Context(), caller, domain.Identity(chi.URLParam(r, "identity"))); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, s.svc.ListAdmins())
}

// ─── Caller / Stats ─────────────────────────────────────────────────────────

type whoAmI struct {
	Identity domain.Identity      `json:"identity"`
	Admin    bool                 `json:"admin"`
	Account  domain.LedgerAccount `json:"account"`
	Employee *domain.Employee     `json:"employee,omitempty"`
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	me := whoAmI{
		Identity: caller,
		Admin:    s.svc.IsAdmin(caller),
		Account:  s.svc.GetTokenBalance(caller),
	}
	if e, err := s.svc.GetEmployeeByIdentity(caller); err == nil {
		me.Employee = &e
	}
	writeJSON(w, http.StatusOK, me)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetSystemStats())
}
