package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/intake"
)

const defaultListLimit = 100

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SaveRun persists the outcome of one analysis job: the new report rows, the
// file names that should not be analyzed again, and the token spend.
func (s *Service) SaveRun(ctx context.Context, rows []Row, processed []string, tokens int64, detail string) error {
	if len(rows) > 0 {
		if err := s.repo.InsertRows(ctx, rows); err != nil {
			return fmt.Errorf("insert report rows: %w", err)
		}
	}
	if len(processed) > 0 {
		if err := s.repo.MarkProcessed(ctx, processed); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
	}
	if tokens > 0 {
		if err := s.repo.AddTokenUsage(ctx, tokens, detail); err != nil {
			// Token accounting is informational; the report itself is saved.
			slog.Error("failed to record token usage", "error", err)
		}
	}
	slog.Info("analysis run saved", "rows", len(rows), "processed", len(processed), "tokens", tokens)
	return nil
}

func (s *Service) List(ctx context.Context, req ListRowsRequest) ([]Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	return s.repo.ListRows(ctx, analyzer.Category(req.Category), limit)
}

func (s *Service) Update(ctx context.Context, req UpdateRowRequest) (*Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row, err := s.repo.GetRow(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if req.Product != nil {
		row.Product = *req.Product
	}
	if req.Details != nil {
		row.Details = *req.Details
	}
	if req.Note != nil {
		row.Note = *req.Note
	}
	if err := s.repo.UpdateRow(ctx, row); err != nil {
		return nil, fmt.Errorf("update row: %w", err)
	}
	return row, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.GetRow(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteRow(ctx, id)
}

// Move reclassifies a row, e.g. when the model filed a damaged product under
// internal use.
func (s *Service) Move(ctx context.Context, req MoveRowRequest) (*Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	row, err := s.repo.GetRow(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	row.Category = analyzer.Category(req.Category)
	if err := s.repo.UpdateRow(ctx, row); err != nil {
		return nil, fmt.Errorf("move row: %w", err)
	}
	return row, nil
}

func (s *Service) ProcessedNames(ctx context.Context) (map[string]bool, error) {
	return s.repo.ProcessedNames(ctx)
}

func (s *Service) Stats(ctx context.Context, uploadDir string) (*Stats, error) {
	processed, err := s.repo.ProcessedNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("processed names: %w", err)
	}
	counts, err := s.repo.CountRowsByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	lastRun, err := s.repo.LastProcessedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	tokens, err := s.repo.TokensSince(ctx, midnight)
	if err != nil {
		return nil, fmt.Errorf("tokens today: %w", err)
	}

	total := intake.CountImages(uploadDir)
	stats := &Stats{
		ImagesTotal:     total,
		ImagesProcessed: len(processed),
		ImagesPending:   max(total-len(processed), 0),
		LastRun:         lastRun,
		TokensToday:     tokens,
		DamageRows:      counts[analyzer.CategoryDamage],
		InternalUseRows: counts[analyzer.CategoryInternalUse],
		ErrorRows:       counts[analyzer.CategoryError],
	}
	return stats, nil
}
