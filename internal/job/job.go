// Package job runs image analysis over the pending uploads as a
// single background job, publishing progress through a shared tracker
// and persisting the outcome.
package job

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	TotalItems     int       `json:"totalItems"`
	ProcessedItems int       `json:"processedItems"`
	FailedItems    int       `json:"failedItems"`
	TokensUsed     int64     `json:"tokensUsed"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WorkItem is one image queued for analysis, with any message context
// mapped to it during intake.
type WorkItem struct {
	Name     string
	Path     string
	MIMEType string
	Context  string
}

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Update(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit int) ([]Job, error)
}
