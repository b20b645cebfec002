package shared

import kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"

var (
	// ErrUnbalanced indicates debit != credit beyond the rounding tolerance.
	ErrUnbalanced = kinds.NewKindError(kinds.ErrIntegrity, "accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = kinds.NewKindError(kinds.ErrIntegrity, "accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a line with both, neither or negative amounts.
	ErrInvalidLine = kinds.NewKindError(kinds.ErrIntegrity, "accounting: journal line must carry exactly one positive side")
	// ErrPeriodClosed indicates the posting date falls in a period that is not open.
	ErrPeriodClosed = kinds.NewKindError(kinds.ErrStateConflict, "accounting: period is not open")
	// ErrPeriodNotFound indicates no period covers the date or id.
	ErrPeriodNotFound = kinds.NewKindError(kinds.ErrNotFound, "accounting: period not found")
	// ErrPeriodExists indicates a duplicate (year, month).
	ErrPeriodExists = kinds.NewKindError(kinds.ErrStateConflict, "accounting: period already exists")
	// ErrPeriodHasJournals blocks deleting a period that carries entries.
	ErrPeriodHasJournals = kinds.NewKindError(kinds.ErrStateConflict, "accounting: period has journal entries")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = kinds.NewKindError(kinds.ErrNotFound, "accounting: journal entry not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = kinds.NewKindError(kinds.ErrNotFound, "accounting: account not found")
	// ErrAccountNotPostable indicates a group or inactive account.
	ErrAccountNotPostable = kinds.NewKindError(kinds.ErrStateConflict, "accounting: account not postable")
	// ErrAlreadyPosted indicates the document already has ledger effect.
	ErrAlreadyPosted = kinds.NewKindError(kinds.ErrStateConflict, "accounting: document already posted")
	// ErrNotPosted indicates reversal of a document that is not posted.
	ErrNotPosted = kinds.NewKindError(kinds.ErrStateConflict, "accounting: document not posted")
	// ErrJournalReversed indicates the entry was already reversed.
	ErrJournalReversed = kinds.NewKindError(kinds.ErrStateConflict, "accounting: journal already reversed")
	// ErrHasAllocations blocks reversing a document with live AR allocations.
	ErrHasAllocations = kinds.NewKindError(kinds.ErrStateConflict, "accounting: document has ar allocations")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = kinds.NewKindError(kinds.ErrIntegrity, "accounting: account mapping not found")
	// ErrReasonRequired indicates a reversal without reason.
	ErrReasonRequired = kinds.NewKindError(kinds.ErrValidation, "accounting: reason required")
	// ErrActorRequired indicates an operation without acting user.
	ErrActorRequired = kinds.NewKindError(kinds.ErrValidation, "accounting: acting user required")
)
