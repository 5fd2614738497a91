package ledger

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/tutu-network/talpay/internal/domain"
	"github.com/tutu-network/talpay/internal/infra/logger"
	"github.com/tutu-network/talpay/internal/infra/observability"
)

// ─── Batch ──────────────────────────────────────────────────────────────────
// A Batch holds exclusive locks on a fixed set of accounts and stages
// balance changes against working copies. Nothing is visible to other
// callers until Commit writes the changes durably and publishes them.
// Locks are always taken in identity order, so two batches never deadlock.

// Batch is a staged, all-or-nothing set of ledger mutations.
type Batch struct {
	l       *Ledger
	locked  []*entry
	work    map[domain.Identity]*domain.LedgerAccount
	touched map[domain.Identity]bool
	txs     []domain.TokenTransaction
	failed  []domain.TokenTransaction
	done    bool
	closed  bool
}

// Begin locks ids (deduplicated) and returns a batch over them.
// The caller must Close the batch.
func (l *Ledger) Begin(ids ...domain.Identity) *Batch {
	uniq := make(map[domain.Identity]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]domain.Identity, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	b := &Batch{
		l:       l,
		work:    make(map[domain.Identity]*domain.LedgerAccount, len(sorted)),
		touched: make(map[domain.Identity]bool, len(sorted)),
	}
	for _, id := range sorted {
		e := l.entryFor(id)
		e.mu.Lock()
		acct := e.acct
		b.locked = append(b.locked, e)
		b.work[id] = &acct
	}
	return b
}

// Account returns the working copy of id as seen inside the batch.
func (b *Batch) Account(id domain.Identity) (domain.LedgerAccount, error) {
	a, err := b.account(id)
	if err != nil {
		return domain.LedgerAccount{}, err
	}
	return *a, nil
}

func (b *Batch) account(id domain.Identity) (*domain.LedgerAccount, error) {
	a, ok := b.work[id]
	if !ok {
		return nil, domain.Internal("ledger batch", errNotLocked(id))
	}
	return a, nil
}

// Transfer moves amount of payroll units from → to.
func (b *Batch) Transfer(typ domain.TransactionType, from, to domain.Identity, amount int64, meta string) (domain.TokenTransaction, error) {
	if amount <= 0 {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount, "transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidInput, "cannot transfer to the same account")
	}
	src, err := b.account(from)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	dst, err := b.account(to)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	tx := b.l.newTx(typ, amount, from, to, meta)

	before := *src
	if err := src.Debit(domain.Payroll, amount); err != nil {
		b.fail(tx)
		return domain.TokenTransaction{}, err
	}
	if err := dst.Credit(domain.Payroll, amount); err != nil {
		*src = before
		b.fail(tx)
		return domain.TokenTransaction{}, err
	}
	return b.stage(tx, from, to), nil
}

// Mint creates amount of denomination d in account to.
func (b *Batch) Mint(to domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if amount <= 0 {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount, "mint amount must be positive, got %d", amount)
	}
	dst, err := b.account(to)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	tx := b.l.newTx(domain.TxMint, amount, "", to, string(d))
	if err := dst.Credit(d, amount); err != nil {
		return domain.TokenTransaction{}, err
	}
	return b.stage(tx, to), nil
}

// Burn destroys amount of denomination d held by from.
func (b *Batch) Burn(from domain.Identity, amount int64, d domain.Denomination) (domain.TokenTransaction, error) {
	if amount <= 0 {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount, "burn amount must be positive, got %d", amount)
	}
	src, err := b.account(from)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	tx := b.l.newTx(domain.TxBurn, amount, from, "", string(d))
	if err := src.Debit(d, amount); err != nil {
		b.fail(tx)
		return domain.TokenTransaction{}, err
	}
	return b.stage(tx, from), nil
}

// Convert swaps amount of denomination src into the other denomination of
// the same account at rate. Payroll → native truncates toward zero.
func (b *Batch) Convert(id domain.Identity, src domain.Denomination, amount, rate int64) (domain.TokenTransaction, error) {
	if amount <= 0 {
		return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount, "conversion amount must be positive, got %d", amount)
	}
	if rate <= 0 {
		return domain.TokenTransaction{}, domain.Internal("convert", errBadRate(rate))
	}
	dst := domain.Payroll
	var out int64
	if src == domain.Native {
		if amount > maxInt64/rate {
			return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount, "conversion of %d at rate %d overflows", amount, rate)
		}
		out = amount * rate
	} else {
		dst = domain.Native
		out = amount / rate
		if out == 0 {
			return domain.TokenTransaction{}, domain.Errorf(domain.KindInvalidAmount,
				"%d payroll units convert to zero native units at rate %d", amount, rate)
		}
	}

	acct, err := b.account(id)
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	tx := b.l.newTx(domain.TxConvert, amount, id, id, domain.ConvertMetadata(src, dst, amount, out, rate))

	before := *acct
	if err := acct.Debit(src, amount); err != nil {
		b.fail(tx)
		return domain.TokenTransaction{}, err
	}
	if err := acct.Credit(dst, out); err != nil {
		*acct = before
		b.fail(tx)
		return domain.TokenTransaction{}, err
	}
	return b.stage(tx, id), nil
}

// Fail stages an explicit Failed audit record. It is written when the batch
// closes without committing.
func (b *Batch) Fail(typ domain.TransactionType, from, to domain.Identity, amount int64, meta string) {
	b.fail(b.l.newTx(typ, amount, from, to, meta))
}

// Changeset returns the durable rows the batch would write: touched
// accounts, completed transactions, then failed audit records.
func (b *Batch) Changeset() *domain.Changeset {
	cs := &domain.Changeset{}
	for _, e := range b.locked {
		if b.touched[e.id] {
			cs.Accounts = append(cs.Accounts, *b.work[e.id])
		}
	}
	cs.Transactions = append(cs.Transactions, b.txs...)
	cs.Transactions = append(cs.Transactions, b.failed...)
	return cs
}

// Commit writes the batch together with extra rows in one store
// transaction, then publishes the balances and the audit records.
// onApply runs after the publish, still under the account locks.
// On store failure nothing is published and every staged transaction is
// recorded as Failed when the batch closes.
func (b *Batch) Commit(ctx context.Context, op string, extra *domain.Changeset, onApply func()) error {
	if b.done {
		return domain.Internal(op, errBatchDone)
	}
	cs := b.Changeset()
	cs.Merge(extra)
	if err := domain.Commit(ctx, b.l.store, op, cs); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("op", op))
		b.failed = append(b.failed, b.txs...)
		b.txs = nil
		return err
	}
	audit := cs.Transactions[:len(b.txs)+len(b.failed)]
	b.failed = nil
	for _, e := range b.locked {
		if b.touched[e.id] {
			e.acct = *b.work[e.id]
		}
	}
	b.l.appendLog(audit...)
	for _, tx := range audit {
		observability.LedgerTransactions.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
	}
	b.done = true
	if onApply != nil {
		onApply()
	}
	return nil
}

// Close releases the account locks. A batch that never committed writes
// its Failed audit records first.
func (b *Batch) Close(ctx context.Context) {
	if b.closed {
		return
	}
	b.closed = true
	if !b.done && len(b.failed) > 0 {
		b.l.recordFailures(ctx, b.failed)
	}
	for i := len(b.locked) - 1; i >= 0; i-- {
		b.locked[i].mu.Unlock()
	}
}

func (b *Batch) stage(tx domain.TokenTransaction, ids ...domain.Identity) domain.TokenTransaction {
	tx.Status = domain.TxCompleted
	b.txs = append(b.txs, tx)
	for _, id := range ids {
		b.touched[id] = true
	}
	return tx
}

func (b *Batch) fail(tx domain.TokenTransaction) {
	tx.Status = domain.TxFailed
	b.failed = append(b.failed, tx)
}
