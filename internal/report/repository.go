package report

import (
	"context"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
)

type Repository interface {
	InsertRows(ctx context.Context, rows []Row) error
	ListRows(ctx context.Context, category analyzer.Category, limit int) ([]Row, error)
	GetRow(ctx context.Context, id int64) (*Row, error)
	UpdateRow(ctx context.Context, row *Row) error
	DeleteRow(ctx context.Context, id int64) error
	CountRowsByCategory(ctx context.Context) (map[analyzer.Category]int, error)

	MarkProcessed(ctx context.Context, names []string) error
	ProcessedNames(ctx context.Context) (map[string]bool, error)
	LastProcessedAt(ctx context.Context) (time.Time, error)

	AddTokenUsage(ctx context.Context, tokens int64, detail string) error
	TokensSince(ctx context.Context, since time.Time) (int64, error)
}
