package store

import "errors"

// Error kinds the store surfaces to callers. Summarizer/embedder
// failures are recovered locally and never reach this list; these are
// the propagation-policy "hard" kinds from the core's error design.
var (
	// ErrCorruptJournal is returned by Load when the message journal
	// cannot be parsed.
	ErrCorruptJournal = errors.New("store: corrupt journal or page file")

	// ErrBudgetImpossible is returned by HotReloadConfig when the
	// requested budgets leave no room for any lane messages.
	ErrBudgetImpossible = errors.New("store: budget configuration impossible")

	// ErrInvariantViolation is returned when the pairing invariant could
	// not be restored even after the flattening pass; the caller should
	// abort the current turn and keep the journal untouched.
	ErrInvariantViolation = errors.New("store: pairing invariant could not be restored")
)
