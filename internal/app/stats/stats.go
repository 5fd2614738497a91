// Package stats aggregates read-only system figures from the components
// that own the state. It keeps nothing of its own.
package stats

import (
	"time"

	"github.com/tutu-network/talpay/internal/domain"
)

// Employees is the registry view stats needs.
type Employees interface {
	CountByStatus() map[domain.EmployeeStatus]int
}

// Escrows is the escrow engine view stats needs.
type Escrows interface {
	CountByStatus() map[domain.EscrowStatus]int
	Overdue(now time.Time) []domain.EscrowContract
}

// Payments is the distributor view stats needs.
type Payments interface {
	Count() int
}

// Balances is the ledger view stats needs.
type Balances interface {
	Circulation() (payroll, native int64)
	TransactionCount() int
}

// Aggregator computes SystemStats on demand.
type Aggregator struct {
	employees Employees
	escrows   Escrows
	payments  Payments
	balances  Balances
	now       func() time.Time
}

// New creates an aggregator.
func New(emp Employees, esc Escrows, pay Payments, bal Balances) *Aggregator {
	return &Aggregator{employees: emp, escrows: esc, payments: pay, balances: bal, now: time.Now}
}

// SetClock overrides the time source (tests).
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Compute reads every component once. Each figure is consistent on its own;
// the set is not a cross-component snapshot.
func (a *Aggregator) Compute() domain.SystemStats {
	byEmp := a.employees.CountByStatus()
	byEsc := a.escrows.CountByStatus()
	payroll, native := a.balances.Circulation()

	s := domain.SystemStats{
		ActiveEmployees:         byEmp[domain.EmployeeActive],
		EmployeesByStatus:       byEmp,
		ActiveEscrowContracts:   byEsc[domain.EscrowActive],
		EscrowsByStatus:         byEsc,
		OverdueEscrows:          len(a.escrows.Overdue(a.now())),
		TotalPayments:           a.payments.Count(),
		TotalTransactions:       a.balances.TransactionCount(),
		TotalPayrollCirculation: payroll,
		TotalNativeCirculation:  native,
	}
	for _, n := range byEmp {
		s.TotalEmployees += n
	}
	for _, n := range byEsc {
		s.TotalEscrowContracts += n
	}
	return s
}
