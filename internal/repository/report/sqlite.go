package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/apperror"
	domain "github.com/pvcarvalho/avaria-api/internal/report"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertRows(ctx context.Context, rows []domain.Row) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert rows: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO report_rows (category, product, details, note, image_path)
		VALUES (?, ?, ?, ?, ?)`
	for i := range rows {
		res, err := tx.ExecContext(ctx, query,
			string(rows[i].Category), rows[i].Product, rows[i].Details,
			rows[i].Note, rows[i].ImagePath,
		)
		if err != nil {
			return fmt.Errorf("insert report row: %w", err)
		}
		rows[i].ID, _ = res.LastInsertId()
		rows[i].CreatedAt = time.Now().UTC()
	}
	return tx.Commit()
}

func (r *Repository) ListRows(ctx context.Context, category analyzer.Category, limit int) ([]domain.Row, error) {
	query := `SELECT id, category, product, details, note, image_path, created_at
		FROM report_rows WHERE 1=1`

	var args []any
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list report rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

func (r *Repository) GetRow(ctx context.Context, id int64) (*domain.Row, error) {
	const query = `SELECT id, category, product, details, note, image_path, created_at
		FROM report_rows WHERE id = ?`

	row, err := scanRow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, "report row not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get report row: %w", err)
	}
	return row, nil
}

func (r *Repository) UpdateRow(ctx context.Context, row *domain.Row) error {
	const query = `UPDATE report_rows SET category = ?, product = ?, details = ?, note = ?
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query,
		string(row.Category), row.Product, row.Details, row.Note, row.ID)
	if err != nil {
		return fmt.Errorf("update report row: %w", err)
	}
	return nil
}

func (r *Repository) DeleteRow(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM report_rows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report row: %w", err)
	}
	return nil
}

func (r *Repository) CountRowsByCategory(ctx context.Context) (map[analyzer.Category]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM report_rows GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count report rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[analyzer.Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan row count: %w", err)
		}
		counts[analyzer.Category(cat)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, names []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark processed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO processed_files (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET processed_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, query, name); err != nil {
			return fmt.Errorf("mark processed %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) ProcessedNames(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM processed_files`)
	if err != nil {
		return nil, fmt.Errorf("list processed files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan processed file: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

func (r *Repository) LastProcessedAt(ctx context.Context) (time.Time, error) {
	var ts sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT MAX(processed_at) FROM processed_files`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("last processed: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, ts.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last processed: %w", err)
	}
	return t, nil
}

func (r *Repository) AddTokenUsage(ctx context.Context, tokens int64, detail string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO token_usage (tokens, detail) VALUES (?, ?)`, tokens, detail)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

func (r *Repository) TokensSince(ctx context.Context, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(tokens) FROM token_usage WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum token usage: %w", err)
	}
	return total.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (*domain.Row, error) {
	var row domain.Row
	var category, createdStr string
	if err := s.Scan(&row.ID, &category, &row.Product, &row.Details,
		&row.Note, &row.ImagePath, &createdStr); err != nil {
		return nil, err
	}
	row.Category = analyzer.Category(category)
	row.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &row, nil
}
