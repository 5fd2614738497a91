// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring and depends on nothing.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ─── Identity ───────────────────────────────────────────────────────────────

// Identity is an opaque principal reference. Equality is exact.
type Identity string

const escrowAccountPrefix = "escrow:"

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool { return strings.TrimSpace(string(i)) == "" }

// String returns the raw principal text.
func (i Identity) String() string { return string(i) }

// EscrowAccount returns the ledger account that holds funds for an escrow.
func EscrowAccount(escrowID string) Identity {
	return Identity(escrowAccountPrefix + escrowID)
}

// IsEscrowAccount reports whether the identity is an escrow-held account.
// Callers can never act as one.
func (i Identity) IsEscrowAccount() bool {
	return strings.HasPrefix(string(i), escrowAccountPrefix)
}

// ─── Employee Types ─────────────────────────────────────────────────────────

// EmployeeStatus is the lifecycle state of an employee record.
type EmployeeStatus string

const (
	EmployeeActive   EmployeeStatus = "active"
	EmployeeInactive EmployeeStatus = "inactive"
	EmployeePending  EmployeeStatus = "pending"
)

// Valid reports whether s is a known status.
func (s EmployeeStatus) Valid() bool {
	switch s {
	case EmployeeActive, EmployeeInactive, EmployeePending:
		return true
	}
	return false
}

// Employee is a payroll recipient owned by the registry.
type Employee struct {
	ID        string         `json:"id"`
	Identity  Identity       `json:"identity"`
	Name      string         `json:"name"`
	Position  string         `json:"position"`
	Salary    int64          `json:"salary"`
	WalletRef string         `json:"wallet_ref"`
	Status    EmployeeStatus `json:"status"`
	JoinDate  int64          `json:"join_date"`
}

// EmployeePatch is a partial update. Nil fields are left untouched.
type EmployeePatch struct {
	Name      *string         `json:"name,omitempty"`
	Position  *string         `json:"position,omitempty"`
	Salary    *int64          `json:"salary,omitempty"`
	WalletRef *string         `json:"wallet_ref,omitempty"`
	Status    *EmployeeStatus `json:"status,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p EmployeePatch) Empty() bool {
	return p.Name == nil && p.Position == nil && p.Salary == nil &&
		p.WalletRef == nil && p.Status == nil
}

// Validate checks every present field.
func (p EmployeePatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Errorf(KindInvalidInput, "name must not be empty")
	}
	if p.Salary != nil && *p.Salary < 0 {
		return Errorf(KindInvalidAmount, "salary must not be negative")
	}
	if p.Status != nil && !p.Status.Valid() {
		return Errorf(KindInvalidInput, "unknown employee status %q", *p.Status)
	}
	return nil
}

// Apply returns a copy of e with the present fields replaced.
func (p EmployeePatch) Apply(e Employee) Employee {
	if p.Name != nil {
		e.Name = strings.TrimSpace(*p.Name)
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Salary != nil {
		e.Salary = *p.Salary
	}
	if p.WalletRef != nil {
		e.WalletRef = *p.WalletRef
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	return e
}

// ─── Payment Types ──────────────────────────────────────────────────────────

// PaymentStatus is the state of a single payout.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
)

// PaymentRecord is one employee's share of a released escrow.
type PaymentRecord struct {
	ID              string        `json:"id"`
	EmployeeID      string        `json:"employee_id"`
	Amount          int64         `json:"amount"`
	Timestamp       int64         `json:"timestamp"`
	EscrowID        string        `json:"escrow_id"`
	TransactionHash string        `json:"transaction_hash"`
	Status          PaymentStatus `json:"status"`
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// SystemStats is a read-only aggregate over committed state.
type SystemStats struct {
	TotalEmployees          int                    `json:"total_employees"`
	ActiveEmployees         int                    `json:"active_employees"`
	EmployeesByStatus       map[EmployeeStatus]int `json:"employees_by_status"`
	TotalEscrowContracts    int                    `json:"total_escrow_contracts"`
	ActiveEscrowContracts   int                    `json:"active_escrow_contracts"`
	EscrowsByStatus         map[EscrowStatus]int   `json:"escrows_by_status"`
	OverdueEscrows          int                    `json:"overdue_escrows"`
	TotalPayments           int                    `json:"total_payments"`
	TotalTransactions       int                    `json:"total_transactions"`
	TotalPayrollCirculation int64                  `json:"total_payroll_circulation"`
	TotalNativeCirculation  int64                  `json:"total_native_circulation"`
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// Timestamp converts t to nanoseconds since epoch, the single time unit
// used for every stored timestamp.
func Timestamp(t time.Time) int64 { return t.UnixNano() }

// SHA256Hex computes SHA-256 hash and returns hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
