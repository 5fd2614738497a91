// Package payroll is the service boundary of the settlement engine. Every
// exported method is one operation: it takes the caller identity, runs the
// capability check once, and delegates to the owning component.
package payroll

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/app/access"
	"github.com/tutu-network/talpay/internal/app/escrow"
	"github.com/tutu-network/talpay/internal/app/ledger"
	"github.com/tutu-network/talpay/internal/app/payout"
	"github.com/tutu-network/talpay/internal/app/registry"
	"github.com/tutu-network/talpay/internal/app/stats"
	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// Config wires the components.
type Config struct {
	DefaultRate int64
	SplitPolicy payout.SplitPolicy
	Admins      []domain.Identity // bootstrap set
}

// Service owns one instance of every component.
type Service struct {
	store domain.Store

	Admins    *access.Admins
	Ledger    *ledger.Ledger
	Employees *registry.Registry
	Payouts   *payout.Distributor
	Escrows   *escrow.Engine
	Stats     *stats.Aggregator
}

// New builds the component graph over store (nil = memory only).
func New(cfg Config, store domain.Store, tracer *observability.Tracer) *Service {
	l := ledger.New(ledger.Config{DefaultRate: cfg.DefaultRate}, store)
	reg := registry.New(store)
	dist := payout.New(payout.Config{Policy: cfg.SplitPolicy}, l, reg, tracer)
	eng := escrow.New(l, dist, store, tracer)
	return &Service{
		store:     store,
		Admins:    access.New(store),
		Ledger:    l,
		Employees: reg,
		Payouts:   dist,
		Escrows:   eng,
		Stats:     stats.New(reg, eng, dist, l),
	}
}

// Open restores committed state and bootstraps the configured admins.
func Open(ctx context.Context, cfg Config, store domain.Store, tracer *observability.Tracer) (*Service, error) {
	s := New(cfg, store, tracer)
	if store != nil {
		snap, err := store.Load(ctx)
		if err != nil {
			return nil, domain.Internal("load state", err)
		}
		s.Restore(snap)
		logger.InfoCtx(ctx, "state restored",
			zap.Int("accounts", len(snap.Accounts)),
			zap.Int("employees", len(snap.Employees)),
			zap.Int("escrows", len(snap.Escrows)),
			zap.Int("payments", len(snap.Payments)))
	}
	if err := s.Admins.Bootstrap(ctx, cfg.Admins...); err != nil {
		return nil, err
	}
	return s, nil
}

// Restore hands each component its slice of snap.
func (s *Service) Restore(snap *domain.Snapshot) {
	s.Admins.Restore(snap)
	s.Ledger.Restore(snap)
	s.Employees.Restore(snap)
	s.Payouts.Restore(snap)
	s.Escrows.Restore(snap)
}

// Ping reports whether the backing store is reachable. Memory-only
// services always are.
func (s *Service) Ping() error {
	if p, ok := s.store.(interface{ Ping() error }); ok {
		return p.Ping()
	}
	return nil
}

// SetClock overrides every component's time source (tests).
func (s *Service) SetClock(now func() time.Time) {
	s.Ledger.SetClock(now)
	s.Employees.SetClock(now)
	s.Payouts.SetClock(now)
	s.Escrows.SetClock(now)
	s.Stats.SetClock(now)
}

// ─── Admin Management ───────────────────────────────────────────────────────

// AddAdmin grants admin rights to id. Admin only.
func (s *Service) AddAdmin(ctx context.Context, caller, id domain.Identity) error {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return err
	}
	return s.Admins.Add(ctx, id)
}

// RemoveAdmin revokes id's admin rights. The last admin cannot be removed.
func (s *Service) RemoveAdmin(ctx context.Context, caller, id domain.Identity) error {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return err
	}
	return s.Admins.Remove(ctx, id)
}

// ListAdmins returns the admin set, sorted.
func (s *Service) ListAdmins() []domain.Identity { return s.Admins.List() }

// IsAdmin reports whether id is an admin.
func (s *Service) IsAdmin(id domain.Identity) bool { return s.Admins.IsAdmin(id) }

// ─── Employees ──────────────────────────────────────────────────────────────

// AddEmployee registers a new employee. Admin only.
func (s *Service) AddEmployee(ctx context.Context, caller domain.Identity, in registry.NewEmployee) (domain.Employee, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.Employee{}, err
	}
	return s.Employees.Add(ctx, in)
}

// UpdateEmployee applies the non-nil fields of p. Admin only.
func (s *Service) UpdateEmployee(ctx context.Context, caller domain.Identity, id string, p domain.EmployeePatch) (domain.Employee, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.Employee{}, err
	}
	return s.Employees.Update(ctx, id, p)
}

// SetEmployeeStatus moves an employee to status. Admin only.
func (s *Service) SetEmployeeStatus(ctx context.Context, caller domain.Identity, id string, status domain.EmployeeStatus) (domain.Employee, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.Employee{}, err
	}
	if !status.Valid() {
		return domain.Employee{}, domain.Errorf(domain.KindInvalidInput, "unknown employee status %q", status)
	}
	return s.Employees.SetStatus(ctx, id, status)
}

// DeleteEmployee deactivates the record; employees are never hard-deleted.
func (s *Service) DeleteEmployee(ctx context.Context, caller domain.Identity, id string) (domain.Employee, error) {
	return s.SetEmployeeStatus(ctx, caller, id, domain.EmployeeInactive)
}

// GetEmployees returns every employee record.
func (s *Service) GetEmployees() []domain.Employee { return s.Employees.List() }

// GetEmployee returns the employee with id.
func (s *Service) GetEmployee(id string) (domain.Employee, error) { return s.Employees.Get(id) }

// GetEmployeeByIdentity returns the employee record owned by id.
func (s *Service) GetEmployeeByIdentity(id domain.Identity) (domain.Employee, error) {
	return s.Employees.ByIdentity(id)
}

// ─── Escrow Lifecycle ───────────────────────────────────────────────────────

// CreateEscrowContract opens a Pending contract with caller as creator. Admin only.
func (s *Service) CreateEscrowContract(ctx context.Context, caller domain.Identity, in escrow.NewContract) (domain.EscrowContract, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.EscrowContract{}, err
	}
	return s.Escrows.Create(ctx, caller, in)
}

// FundEscrowContract moves amount from the caller's payroll balance into
// the contract.
func (s *Service) FundEscrowContract(ctx context.Context, caller domain.Identity, id string, amount int64) (domain.EscrowContract, error) {
	return s.Escrows.Fund(ctx, caller, id, amount)
}

// FundEscrowWithTalPay is FundEscrowContract under its ledger-facing name.
func (s *Service) FundEscrowWithTalPay(ctx context.Context, caller domain.Identity, id string, amount int64) (domain.EscrowContract, error) {
	return s.FundEscrowContract(ctx, caller, id, amount)
}

// ApproveEscrowRelease records caller's approval on an Active contract. Admin only.
func (s *Service) ApproveEscrowRelease(ctx context.Context, caller domain.Identity, id string) (domain.EscrowContract, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.EscrowContract{}, err
	}
	return s.Escrows.Approve(ctx, caller, id)
}

// ReleaseEscrowFunds returns the created payment record ids.
func (s *Service) ReleaseEscrowFunds(ctx context.Context, caller domain.Identity, id string) ([]string, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return nil, err
	}
	records, err := s.Escrows.Release(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

// CancelEscrowContract is open to the contract's creator and to admins.
func (s *Service) CancelEscrowContract(ctx context.Context, caller domain.Identity, id string) (domain.EscrowContract, error) {
	c, err := s.Escrows.Get(id)
	if err != nil {
		return domain.EscrowContract{}, err
	}
	if caller != c.Creator {
		if err := s.Admins.RequireAdmin(caller); err != nil {
			return domain.EscrowContract{}, err
		}
	}
	return s.Escrows.Cancel(ctx, id)
}

// GetEscrowContracts returns every contract.
func (s *Service) GetEscrowContracts() []domain.EscrowContract { return s.Escrows.List() }

// GetEscrowContract returns the contract with id.
func (s *Service) GetEscrowContract(id string) (domain.EscrowContract, error) {
	return s.Escrows.Get(id)
}

// OverdueEscrows lists open contracts past their release date.
func (s *Service) OverdueEscrows(now time.Time) []domain.EscrowContract {
	return s.Escrows.Overdue(now)
}

// NextEscrowRelease returns the open contract with the earliest release date.
func (s *Service) NextEscrowRelease() (id string, at time.Time, ok bool) {
	return s.Escrows.NextRelease()
}

// ─── Payments ───────────────────────────────────────────────────────────────

// GetPaymentRecords returns every payment record, oldest first.
func (s *Service) GetPaymentRecords() []domain.PaymentRecord { return s.Payouts.Payments() }

// GetEmployeePayments returns the payments received by an employee.
func (s *Service) GetEmployeePayments(employeeID string) []domain.PaymentRecord {
	return s.Payouts.ByEmployee(employeeID)
}

// GetEscrowPayments returns the payments made from an escrow.
func (s *Service) GetEscrowPayments(escrowID string) []domain.PaymentRecord {
	return s.Payouts.ByEscrow(escrowID)
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// MintTalPayTokens creates units in to's account. Admin only.
func (s *Service) MintTalPayTokens(ctx context.Context, caller, to domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return domain.TokenTransaction{}, err
	}
	if d == "" {
		d = domain.Payroll
	}
	return s.Ledger.Mint(ctx, to, amount, d)
}

// BurnTokens destroys units from the caller's own account.
func (s *Service) BurnTokens(ctx context.Context, caller domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if d == "" {
		d = domain.Payroll
	}
	return s.Ledger.Burn(ctx, caller, amount, d)
}

// ConvertIcpToTalPay swaps the caller's native units into payroll units at the current rate.
func (s *Service) ConvertIcpToTalPay(ctx context.Context, caller domain.Identity, nativeAmount int64) (domain.TokenTransaction, error) {
	return s.Ledger.ConvertNativeToPayroll(ctx, caller, nativeAmount)
}

// ConvertTalPayToIcp swaps the caller's payroll units into native units, truncating.
func (s *Service) ConvertTalPayToIcp(ctx context.Context, caller domain.Identity, payrollAmount int64) (domain.TokenTransaction, error) {
	return s.Ledger.ConvertPayrollToNative(ctx, caller, payrollAmount)
}

// TransferTalPay moves payroll units from the caller to another account.
func (s *Service) TransferTalPay(ctx context.Context, caller, to domain.Identity, amount int64) (domain.TokenTransaction, error) {
	return s.Ledger.Transfer(ctx, caller, to, amount)
}

// GetTokenBalance returns id's balances. Unknown identities read as zero.
func (s *Service) GetTokenBalance(id domain.Identity) domain.LedgerAccount { return s.Ledger.Balance(id) }

// GetTokenTransactions returns the audit trail involving id.
func (s *Service) GetTokenTransactions(id domain.Identity) []domain.TokenTransaction {
	return s.Ledger.Transactions(id)
}

// GetTalPayToIcpRate returns payroll units per native unit.
func (s *Service) GetTalPayToIcpRate() int64 { return s.Ledger.Rate() }

// SetTalPayToIcpRate replaces the exchange rate. Admin only.
func (s *Service) SetTalPayToIcpRate(ctx context.Context, caller domain.Identity, rate int64) error {
	if err := s.Admins.RequireAdmin(caller); err != nil {
		return err
	}
	return s.Ledger.SetRate(ctx, rate)
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// GetSystemStats aggregates counts and circulation across components.
func (s *Service) GetSystemStats() domain.SystemStats { return s.Stats.Compute() }
