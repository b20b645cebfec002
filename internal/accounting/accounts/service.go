package accounts

import "context"

// Service is the read side of the chart of accounts.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.List(ctx)
}

// Resolve returns the account or ErrAccountNotFound.
func (s *Service) Resolve(ctx context.Context, id int64) (Account, error) {
	return s.repo.Get(ctx, id)
}
