package shared

import "fmt"

// Period statuses reused outside accounting module.
const (
	PeriodStatusOpen     = "open"
	PeriodStatusClosed   = "closed"
	PeriodStatusArchived = "archived"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = NewKindError(ErrStateConflict, "period transition invalid")

// ValidatePeriodTransition checks transitions according to policy:
// open -> closed -> archived, plus closed -> open.
func ValidatePeriodTransition(current, target string) error {
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen || target == PeriodStatusArchived {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidPeriodTransition, current, target)
}
