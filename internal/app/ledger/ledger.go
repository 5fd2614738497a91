// Package ledger owns the two per-account balances (native and payroll
// units) and the append-only transaction audit trail.
//
// Concurrency is per account: every mutation runs inside a Batch that locks
// exactly the accounts it touches. The global exchange rate is a single
// value read atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

const maxInt64 = int64(^uint64(0) >> 1)

var errBatchDone = errors.New("batch already committed")

func errNotLocked(id domain.Identity) error {
	return fmt.Errorf("account %q is not part of this batch", id)
}

func errBadRate(rate int64) error {
	return fmt.Errorf("exchange rate %d is not positive", rate)
}

// Config controls ledger behavior.
type Config struct {
	DefaultRate int64 // payroll units per native unit (default 100)
}

// DefaultConfig returns ledger defaults.
func DefaultConfig() Config {
	return Config{DefaultRate: domain.DefaultRate}
}

type entry struct {
	mu   sync.Mutex
	id   domain.Identity
	acct domain.LedgerAccount
}

// Ledger is the authoritative store of balances.
type Ledger struct {
	store domain.Store
	now   func() time.Time

	mu       sync.Mutex // guards the accounts map, not the entries
	accounts map[domain.Identity]*entry

	logMu   sync.RWMutex
	log     []domain.TokenTransaction
	byIdent map[domain.Identity][]int

	rate   atomic.Int64
	rateMu sync.Mutex // serializes SetRate writes
}

// New creates a ledger writing through store. A nil store keeps state in
// memory only.
func New(cfg Config, store domain.Store) *Ledger {
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = domain.DefaultRate
	}
	l := &Ledger{
		store:    store,
		now:      time.Now,
		accounts: make(map[domain.Identity]*entry),
		byIdent:  make(map[domain.Identity][]int),
	}
	l.rate.Store(cfg.DefaultRate)
	return l
}

// SetClock overrides the time source (tests).
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Restore loads committed state. Call once before serving requests.
func (l *Ledger) Restore(snap *domain.Snapshot) {
	l.mu.Lock()
	for _, a := range snap.Accounts {
		l.accounts[a.Identity] = &entry{id: a.Identity, acct: a}
	}
	l.mu.Unlock()
	l.appendLog(snap.Transactions...)
	if snap.Rate > 0 {
		l.rate.Store(snap.Rate)
	}
	l.publishCirculation()
}

func (l *Ledger) entryFor(id domain.Identity) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.accounts[id]
	if !ok {
		e = &entry{id: id, acct: domain.LedgerAccount{Identity: id}}
		l.accounts[id] = e
	}
	return e
}

// ─── Operations ─────────────────────────────────────────────────────────────

// Mint creates amount of denomination d in account to.
func (l *Ledger) Mint(ctx context.Context, to domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if err := checkAccount(to); err != nil {
		return domain.TokenTransaction{}, err
	}
	if !d.Valid() {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidInput, "unknown denomination %q", d)
	}
	return l.single(ctx, "mint", []domain.Identity{to}, func(b *Batch) (domain.TokenTransaction, error) {
		return b.Mint(to, amount, d)
	})
}

// Burn destroys amount of denomination d held by from.
func (l *Ledger) Burn(ctx context.Context, from domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if err := checkAccount(from); err != nil {
		return domain.TokenTransaction{}, err
	}
	if !d.Valid() {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidInput, "unknown denomination %q", d)
	}
	return l.single(ctx, "burn", []domain.Identity{from}, func(b *Batch) (domain.TokenTransaction, error) {
		return b.Burn(from, amount, d)
	})
}

// Transfer moves payroll units between two user accounts.
func (l *Ledger) Transfer(ctx context.Context, from, to domain.Identity, amount int64) (domain.TokenTransaction, error) {
	if err := checkAccount(from); err != nil {
		return domain.TokenTransaction{}, err
	}
	if err := checkAccount(to); err != nil {
		return domain.TokenTransaction{}, err
	}
	return l.single(ctx, "transfer", []domain.Identity{from, to}, func(b *Batch) (domain.TokenTransaction, error) {
		return b.Transfer(domain.TxTransfer, from, to, amount, "")
	})
}

// ConvertNativeToPayroll debits nativeAmount and credits nativeAmount*rate.
func (l *Ledger) ConvertNativeToPayroll(ctx context.Context, id domain.Identity, nativeAmount int64) (domain.TokenTransaction, error) {
	return l.convert(ctx, id, domain.Native, nativeAmount)
}

// ConvertPayrollToNative debits payrollAmount and credits payrollAmount/rate,
// truncated toward zero, so a round trip can lose up to rate-1 units.
func (l *Ledger) ConvertPayrollToNative(ctx context.Context, id domain.Identity, payrollAmount int64) (domain.TokenTransaction, error) {
	return l.convert(ctx, id, domain.Payroll, payrollAmount)
}

func (l *Ledger) convert(ctx context.Context, id domain.Identity, src domain.Denomination, amount int64) (domain.TokenTransaction, error) {
	if err := checkAccount(id); err != nil {
		return domain.TokenTransaction{}, err
	}
	return l.single(ctx, "convert", []domain.Identity{id}, func(b *Batch) (domain.TokenTransaction, error) {
		return b.Convert(id, src, amount, l.Rate())
	})
}

// single runs one staged mutation and commits it. The circulation gauges
// are read after the account locks are released.
func (l *Ledger) single(ctx context.Context, op string, ids []domain.Identity, fn func(*Batch) (domain.TokenTransaction, error)) (domain.TokenTransaction, error) {
	b := l.Begin(ids...)
	defer b.Close(ctx)

	tx, err := fn(b)
	if err == nil {
		err = b.Commit(ctx, op, nil, nil)
	}
	b.Close(ctx)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	l.publishCirculation()
	return tx, nil
}

// ─── Rate ───────────────────────────────────────────────────────────────────

// Rate returns payroll units per native unit.
func (l *Ledger) Rate() int64 { return l.rate.Load() }

// SetRate replaces the exchange rate. Authorization is the caller's job.
func (l *Ledger) SetRate(ctx context.Context, rate int64) error {
	if rate <= 0 {
		return domain.Errorf(domain.KindInvalidAmount, "rate must be a positive integer, got %d", rate)
	}
	l.rateMu.Lock()
	defer l.rateMu.Unlock()
	if err := domain.Commit(ctx, l.store, "set rate", &domain.Changeset{Rate: rate}); err != nil {
		return err
	}
	old := l.rate.Swap(rate)
	logger.InfoCtx(ctx, "exchange rate changed", zap.Int64("from", old), zap.Int64("to", rate))
	return nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Balance returns the committed balances of id. Unknown identities have
// zero balances.
func (l *Ledger) Balance(id domain.Identity) domain.LedgerAccount {
	l.mu.Lock()
	e, ok := l.accounts[id]
	l.mu.Unlock()
	if !ok {
		return domain.LedgerAccount{Identity: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct
}

// Transactions returns every audit record involving id, oldest first.
func (l *Ledger) Transactions(id domain.Identity) []domain.TokenTransaction {
	l.logMu.RLock()
	defer l.logMu.RUnlock()
	idx := l.byIdent[id]
	out := make([]domain.TokenTransaction, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.log[i])
	}
	return out
}

// TransactionCount returns the size of the audit trail.
func (l *Ledger) TransactionCount() int {
	l.logMu.RLock()
	defer l.logMu.RUnlock()
	return len(l.log)
}

// Circulation returns the sums of all payroll and native balances.
// Each account is read under its own lock; a concurrent transfer is
// either fully counted or not at all.
func (l *Ledger) Circulation() (payroll, native int64) {
	l.mu.Lock()
	entries := make([]*entry, 0, len(l.accounts))
	for _, e := range l.accounts {
		entries = append(entries, e)
	}
	l.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		payroll += e.acct.PayrollBalance
		native += e.acct.NativeBalance
		e.mu.Unlock()
	}
	return payroll, native
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (l *Ledger) newTx(typ domain.TransactionType, amount int64, from, to domain.Identity, meta string) domain.TokenTransaction {
	return domain.TokenTransaction{
		ID:        uuid.NewString(),
		Type:      typ,
		Amount:    amount,
		From:      from,
		To:        to,
		Timestamp: domain.Timestamp(l.now()),
		Status:    domain.TxPending,
		Metadata:  meta,
	}
}

func (l *Ledger) appendLog(txs ...domain.TokenTransaction) {
	if len(txs) == 0 {
		return
	}
	l.logMu.Lock()
	defer l.logMu.Unlock()
	for _, tx := range txs {
		i := len(l.log)
		l.log = append(l.log, tx)
		if tx.From != "" {
			l.byIdent[tx.From] = append(l.byIdent[tx.From], i)
		}
		if tx.To != "" && tx.To != tx.From {
			l.byIdent[tx.To] = append(l.byIdent[tx.To], i)
		}
	}
}

// recordFailures persists Failed audit records. Balances are untouched, so
// a store fault here is logged and the records are still kept in memory.
func (l *Ledger) recordFailures(ctx context.Context, txs []domain.TokenTransaction) {
	failed := make([]domain.TokenTransaction, len(txs))
	for i, tx := range txs {
		tx.Status = domain.TxFailed
		failed[i] = tx
		observability.LedgerTransactions.WithLabelValues(string(tx.Type), string(domain.TxFailed)).Inc()
	}
	if err := domain.Commit(ctx, l.store, "record failed transactions", &domain.Changeset{Transactions: failed}); err != nil {
		logger.ErrorCtx(ctx, err, zap.Int("records", len(failed)))
	}
	l.appendLog(failed...)
}

func (l *Ledger) publishCirculation() {
	payroll, native := l.Circulation()
	observability.PayrollCirculation.Set(float64(payroll))
	observability.NativeCirculation.Set(float64(native))
}

func checkAccount(id domain.Identity) error {
	if id.IsZero() {
		return domain.Errorf(domain.KindInvalidInput, "identity must not be empty")
	}
	if id.IsEscrowAccount() {
		return domain.Errorf(domain.KindUnauthorized, "escrow-held account %s cannot be used directly", id)
	}
	return nil
}
