package domain

import "fmt"

// ─── Ledger Types ───────────────────────────────────────────────────────────
// Two balances per account: the native unit and the payroll unit.
// Both are non-negative integers in minor units at all times.

// Denomination selects which balance an operation touches.
type Denomination string

const (
	Native  Denomination = "native"
	Payroll Denomination = "payroll"
)

// Valid reports whether d is a known denomination.
func (d Denomination) Valid() bool { return d == Native || d == Payroll }

// DefaultRate is the number of payroll units per native unit.
const DefaultRate int64 = 100

// LedgerAccount holds both balances of one identity.
type LedgerAccount struct {
	Identity       Identity `json:"identity"`
	NativeBalance  int64    `json:"native_balance"`
	PayrollBalance int64    `json:"payroll_balance"`
}

// Balance returns the balance in denomination d.
func (a LedgerAccount) Balance(d Denomination) int64 {
	if d == Native {
		return a.NativeBalance
	}
	return a.PayrollBalance
}

// Credit adds amount to denomination d, refusing int64 overflow.
func (a *LedgerAccount) Credit(d Denomination, amount int64) error {
	cur := a.Balance(d)
	if amount > 0 && cur > maxInt64-amount {
		return Errorf(KindInvalidAmount, "credit of %d overflows %s balance of %s", amount, d, a.Identity)
	}
	a.set(d, cur+amount)
	return nil
}

// Debit removes amount from denomination d.
func (a *LedgerAccount) Debit(d Denomination, amount int64) error {
	cur := a.Balance(d)
	if cur < amount {
		return Errorf(KindInsufficientFunds, "%s %s balance %d is below %d", a.Identity, d, cur, amount)
	}
	a.set(d, cur-amount)
	return nil
}

func (a *LedgerAccount) set(d Denomination, v int64) {
	if d == Native {
		a.NativeBalance = v
	} else {
		a.PayrollBalance = v
	}
}

const maxInt64 = int64(^uint64(0) >> 1)

// TransactionType represents the business reason for a ledger operation.
type TransactionType string

const (
	TxMint                TransactionType = "Mint"
	TxBurn                TransactionType = "Burn"
	TxTransfer            TransactionType = "Transfer"
	TxConvert             TransactionType = "Convert"
	TxFundEscrow          TransactionType = "FundEscrow"
	TxPayrollDistribution TransactionType = "PayrollDistribution"
)

// TxStatus is the outcome of a ledger operation.
type TxStatus string

const (
	TxPending   TxStatus = "Pending"
	TxCompleted TxStatus = "Completed"
	TxFailed    TxStatus = "Failed"
)

// TokenTransaction is an append-only audit record. From and To are empty
// when the operation has no counterparty on that side.
type TokenTransaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	From      Identity        `json:"from,omitempty"`
	To        Identity        `json:"to,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Status    TxStatus        `json:"status"`
	Metadata  string          `json:"metadata,omitempty"`
}

// Involves reports whether the transaction touches identity id.
func (t TokenTransaction) Involves(id Identity) bool {
	return t.From == id || t.To == id
}

// ConvertMetadata describes a conversion for the audit trail.
func ConvertMetadata(from, to Denomination, in, out, rate int64) string {
	return fmt.Sprintf("%s->%s in=%d out=%d rate=%d", from, to, in, out, rate)
}
