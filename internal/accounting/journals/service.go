package journals

import (
	"context"

	kinds "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service is the read side of the journal store. Writes go through the
// posting engine so they share its transaction.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filter Filter, page kinds.PageRequest) ([]JournalEntry, kinds.Pagination, error) {
	page = page.Normalize()
	entries, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, kinds.Pagination{}, err
	}
	return entries, kinds.NewPagination(page.Page, page.PerPage, total), nil
}

func (s *Service) Get(ctx context.Context, id int64) (JournalEntry, error) {
	return s.repo.Get(ctx, id)
}
