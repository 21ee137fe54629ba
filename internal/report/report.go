package report

import (
	"time"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
)

// Row is one line of the damage report. Successful analyses produce damage or
// internal_use rows; failed or undecidable ones land in the error category so
// nothing is silently dropped.
type Row struct {
	ID        int64             `json:"id"`
	Category  analyzer.Category `json:"category"`
	Product   string            `json:"product"`
	Details   string            `json:"details"`
	Note      string            `json:"note"`
	ImagePath string            `json:"imagePath"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Stats summarizes the system for the dashboard.
type Stats struct {
	ImagesTotal     int       `json:"imagesTotal"`
	ImagesProcessed int       `json:"imagesProcessed"`
	ImagesPending   int       `json:"imagesPending"`
	LastRun         time.Time `json:"lastRun,omitzero"`
	TokensToday     int64     `json:"tokensToday"`
	DamageRows      int       `json:"damageRows"`
	InternalUseRows int       `json:"internalUseRows"`
	ErrorRows       int       `json:"errorRows"`
}
