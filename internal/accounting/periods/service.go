package periods

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Service is the read side of the period calendar.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, year int) ([]Period, error) {
	return s.repo.List(ctx, year)
}

func (s *Service) Get(ctx context.Context, id int64) (Period, error) {
	return s.repo.Get(ctx, id)
}

// CanPostOnDate reports whether a journal dated date would pass the gate right now.
func (s *Service) CanPostOnDate(ctx context.Context, date time.Time) (PostingCheck, error) {
	p, err := s.repo.FindByDate(ctx, date)
	if err != nil {
		if errors.Is(err, shared.ErrPeriodNotFound) {
			return Evaluate(nil, date), nil
		}
		return PostingCheck{}, err
	}
	return Evaluate(&p, date), nil
}
