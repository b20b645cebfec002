package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	ledgererr "github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Operation names reported to MetricsPort.
const (
	OpPost    = "post"
	OpReverse = "reverse"
	OpClose   = "period_close"
)

// Engine posts source documents to the ledger and reverses them.
type Engine struct {
	repo             RepositoryPort
	audit            AuditPort
	metrics          MetricsPort
	logger           *slog.Logger
	fiscalStartMonth int
	now              func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithFiscalYearStart sets the first month of the fiscal year.
func WithFiscalYearStart(month int) EngineOption {
	return func(e *Engine) { e.fiscalStartMonth = month }
}

// WithMetrics attaches an operation counter.
func WithMetrics(m MetricsPort) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine constructs the posting engine.
func NewEngine(repo RepositoryPort, audit AuditPort, opts ...EngineOption) *Engine {
	e := &Engine{repo: repo, audit: audit, logger: slog.Default(), fiscalStartMonth: 1, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	Kind       documents.Kind
	DocumentID int64
	ReversedBy int64
	Reason     string
	// Date overrides the reversal date; the original entry date is used otherwise.
	Date *time.Time
}

// Post converts a draft (or previously reversed) document into a posted journal.
func (e *Engine) Post(ctx context.Context, kind documents.Kind, documentID, postedBy int64) (journals.JournalEntry, error) {
	entry, err := e.post(ctx, kind, documentID, postedBy)
	e.observe(OpPost, err)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	e.logger.Info("document posted",
		slog.String("document_type", string(kind)),
		slog.Int64("document_id", documentID),
		slog.Int64("journal_id", entry.ID),
		slog.String("number", entry.Number),
	)
	e.record(ctx, shared.AuditLog{
		ActorID:  postedBy,
		Action:   shared.AuditJournalPost,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta: map[string]any{
			"number":        entry.Number,
			"document_type": string(kind),
			"document_id":   documentID,
			"total":         entry.TotalDebit.StringFixed(2),
		},
	})
	return entry, nil
}

func (e *Engine) post(ctx context.Context, kind documents.Kind, documentID, postedBy int64) (journals.JournalEntry, error) {
	if _, err := documents.ParseKind(string(kind)); err != nil {
		return journals.JournalEntry{}, err
	}
	if documentID <= 0 {
		return journals.JournalEntry{}, fmt.Errorf("%w: document id required", shared.ErrValidation)
	}
	if postedBy <= 0 {
		return journals.JournalEntry{}, ledgererr.ErrActorRequired
	}
	ref := documents.Ref{Kind: kind, ID: documentID}
	var entry journals.JournalEntry
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status() == documents.StatusPosted {
			return fmt.Errorf("%w: %s", ledgererr.ErrAlreadyPosted, ref)
		}
		period, err := tx.LockPeriodByDate(ctx, doc.Date())
		if err != nil {
			return err
		}
		if err := periods.Evaluate(period, doc.Date()).Err(); err != nil {
			return err
		}
		plan, err := mappings.PlanFor(doc)
		if err != nil {
			return err
		}
		resolved, err := tx.ResolveMappings(ctx, plan.Slots())
		if err != nil {
			return err
		}
		lines, err := plan.Resolve(resolved)
		if err != nil {
			return err
		}
		entry, err = e.writeJournal(ctx, tx, journals.PostingInput{
			Date:        doc.Date(),
			Description: plan.Description,
			SourceType:  string(kind),
			SourceID:    documentID,
			PostedBy:    postedBy,
			Lines:       lines,
		})
		if err != nil {
			return err
		}
		return tx.MarkDocumentPosted(ctx, ref, entry.ID)
	})
	return entry, err
}

// Reverse books the mirror image of a document's journal and flags both as reversed.
func (e *Engine) Reverse(ctx context.Context, in ReverseInput) (journals.JournalEntry, error) {
	reversal, original, err := e.reverse(ctx, in)
	e.observe(OpReverse, err)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	e.logger.Info("document reversed",
		slog.String("document_type", string(in.Kind)),
		slog.Int64("document_id", in.DocumentID),
		slog.Int64("journal_id", original.ID),
		slog.Int64("reversal_journal_id", reversal.ID),
	)
	e.record(ctx, shared.AuditLog{
		ActorID:  in.ReversedBy,
		Action:   shared.AuditJournalReverse,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(original.ID, 10),
		Meta: map[string]any{
			"reversal_id":     reversal.ID,
			"reversal_number": reversal.Number,
			"document_type":   string(in.Kind),
			"document_id":     in.DocumentID,
			"reason":          in.Reason,
		},
	})
	return reversal, nil
}

func (e *Engine) reverse(ctx context.Context, in ReverseInput) (journals.JournalEntry, journals.JournalEntry, error) {
	if _, err := documents.ParseKind(string(in.Kind)); err != nil {
		return journals.JournalEntry{}, journals.JournalEntry{}, err
	}
	if in.DocumentID <= 0 {
		return journals.JournalEntry{}, journals.JournalEntry{}, fmt.Errorf("%w: document id required", shared.ErrValidation)
	}
	if in.ReversedBy <= 0 {
		return journals.JournalEntry{}, journals.JournalEntry{}, ledgererr.ErrActorRequired
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return journals.JournalEntry{}, journals.JournalEntry{}, ledgererr.ErrReasonRequired
	}
	ref := documents.Ref{Kind: in.Kind, ID: in.DocumentID}
	var reversal, original journals.JournalEntry
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status() != documents.StatusPosted {
			return fmt.Errorf("%w: %s is %s", ledgererr.ErrNotPosted, ref, doc.Status())
		}
		journalID := doc.JournalID()
		if journalID == nil {
			return fmt.Errorf("%w: %s is posted without journal", shared.ErrIntegrity, ref)
		}
		allocations, err := tx.CountDocumentAllocations(ctx, ref)
		if err != nil {
			return err
		}
		if allocations > 0 {
			return fmt.Errorf("%w: %s has %d allocation(s)", ledgererr.ErrHasAllocations, ref, allocations)
		}
		original, err = tx.GetJournalForUpdate(ctx, *journalID)
		if err != nil {
			return err
		}
		if original.Status == journals.JournalStatusReversed {
			return fmt.Errorf("%w: %s", ledgererr.ErrJournalReversed, original.Number)
		}
		date := original.Date
		if in.Date != nil {
			date = shared.DateOnly(*in.Date)
		}
		period, err := tx.LockPeriodByDate(ctx, date)
		if err != nil {
			return err
		}
		if err := periods.Evaluate(period, date).Err(); err != nil {
			return err
		}
		reversalOf := original.ID
		reversal, err = e.writeJournal(ctx, tx, journals.PostingInput{
			Date:        date,
			Description: journals.DefaultReversalDescription(original, in.Reason),
			SourceType:  original.SourceType,
			SourceID:    original.SourceID,
			ReversalOf:  &reversalOf,
			PostedBy:    in.ReversedBy,
			Lines:       journals.ReverseLines(original.Lines),
		})
		if err != nil {
			return err
		}
		now := e.now()
		if err := tx.MarkJournalReversed(ctx, original.ID, in.ReversedBy, now, in.Reason); err != nil {
			return err
		}
		original.Status = journals.JournalStatusReversed
		original.ReversedBy = &in.ReversedBy
		original.ReversedAt = &now
		original.ReversalReason = &in.Reason
		return tx.MarkDocumentReversed(ctx, ref)
	})
	return reversal, original, err
}

// writeJournal is the single atomic write path: it reconciles, validates,
// numbers and stores the entry and moves account balances.
func (e *Engine) writeJournal(ctx context.Context, tx TxRepository, in journals.PostingInput) (journals.JournalEntry, error) {
	lines, err := journals.Reconcile(in.Lines)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	in.Lines = lines
	if err := in.Validate(); err != nil {
		return journals.JournalEntry{}, err
	}

	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	deltas := make(map[int64]decimal.Decimal, len(ids))
	for _, line := range lines {
		acct, ok := locked[line.AccountID]
		if !ok {
			return journals.JournalEntry{}, fmt.Errorf("%w: id %d", ledgererr.ErrAccountNotFound, line.AccountID)
		}
		if err := accounts.AssertPostable(acct); err != nil {
			return journals.JournalEntry{}, err
		}
		deltas[acct.ID] = deltas[acct.ID].Add(accounts.BalanceDelta(acct, line.Debit, line.Credit))
	}

	fy := journals.FiscalYear(in.Date, e.fiscalStartMonth)
	seq, err := tx.NextJournalSequence(ctx, fy)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	debit, credit := journals.Totals(lines)
	entry := journals.JournalEntry{
		Number:      journals.FormatNumber(fy, seq),
		Sequence:    seq,
		FiscalYear:  fy,
		Date:        shared.DateOnly(in.Date),
		Description: in.Description,
		SourceType:  in.SourceType,
		SourceID:    in.SourceID,
		ReversalOf:  in.ReversalOf,
		TotalDebit:  debit,
		TotalCredit: credit,
		Status:      journals.JournalStatusPosted,
		PostedBy:    in.PostedBy,
		PostedAt:    e.now(),
	}
	for idx, line := range lines {
		entry.Lines = append(entry.Lines, journals.JournalLine{
			LineNo:      idx + 1,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	entry, err = tx.InsertJournal(ctx, entry)
	if err != nil {
		return journals.JournalEntry{}, err
	}
	for _, id := range ids {
		if deltas[id].IsZero() {
			continue
		}
		if err := tx.AdjustAccountBalance(ctx, id, deltas[id]); err != nil {
			return journals.JournalEntry{}, err
		}
	}
	return entry, nil
}

// closingEntry zeroes the period's revenue and expense movements into
// retained earnings. ok is false when there is nothing to close.
func (e *Engine) closingEntry(ctx context.Context, tx TxRepository, p periods.Period, actor int64) (journals.JournalEntry, bool, error) {
	movements, err := tx.SumNominalMovements(ctx, p.StartDate, p.EndDate)
	if err != nil {
		return journals.JournalEntry{}, false, err
	}
	var lines []journals.PostingLineInput
	net := decimal.Zero
	for _, mv := range movements {
		balance := mv.Debit.Sub(mv.Credit)
		switch {
		case balance.IsPositive():
			lines = append(lines, journals.PostingLineInput{AccountID: mv.AccountID, Debit: decimal.Zero, Credit: balance, Description: "Close to retained earnings"})
		case balance.IsNegative():
			lines = append(lines, journals.PostingLineInput{AccountID: mv.AccountID, Debit: balance.Neg(), Credit: decimal.Zero, Description: "Close to retained earnings"})
		default:
			continue
		}
		net = net.Add(balance)
	}
	if len(lines) == 0 {
		return journals.JournalEntry{}, false, nil
	}
	if !net.IsZero() {
		resolved, err := tx.ResolveMappings(ctx, []mappings.Slot{mappings.SlotRetainedEarnings})
		if err != nil {
			return journals.JournalEntry{}, false, err
		}
		reID, ok := resolved[mappings.SlotRetainedEarnings]
		if !ok {
			return journals.JournalEntry{}, false, fmt.Errorf("%w: %s", ledgererr.ErrMappingNotFound, mappings.SlotRetainedEarnings)
		}
		re := journals.PostingLineInput{AccountID: reID, Debit: decimal.Zero, Credit: decimal.Zero, Description: "Period result"}
		if net.IsPositive() {
			re.Debit = net
		} else {
			re.Credit = net.Neg()
		}
		lines = append(lines, re)
	}
	entry, err := e.writeJournal(ctx, tx, journals.PostingInput{
		Date:        p.EndDate,
		Description: fmt.Sprintf("Closing entry %s", p.Code()),
		SourceType:  journals.SourcePeriodClose,
		SourceID:    p.ID,
		PostedBy:    actor,
		Lines:       lines,
	})
	if err != nil {
		return journals.JournalEntry{}, false, err
	}
	return entry, true, nil
}

func (e *Engine) observe(op string, err error) {
	if e.metrics != nil {
		e.metrics.Observe(op, err)
	}
}

func (e *Engine) record(ctx context.Context, log shared.AuditLog) {
	if e.audit == nil {
		return
	}
	log.At = e.now()
	if err := e.audit.Record(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
