package report

import (
	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/apperror"
)

type ListRowsRequest struct {
	Category string
	Limit    int
}

func (r ListRowsRequest) Validate() *apperror.AppError {
	if r.Category != "" && !analyzer.Category(r.Category).Valid() {
		return apperror.New(apperror.BadRequest, "unknown report category")
	}
	if r.Limit < 0 {
		return apperror.New(apperror.BadRequest, "limit must not be negative")
	}
	return nil
}

// UpdateRowRequest edits the free-text fields of a row. Nil pointers leave
// the field untouched.
type UpdateRowRequest struct {
	ID      int64   `json:"-"`
	Product *string `json:"product"`
	Details *string `json:"details"`
	Note    *string `json:"note"`
}

func (r UpdateRowRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid row id")
	}
	if r.Product == nil && r.Details == nil && r.Note == nil {
		return apperror.New(apperror.BadRequest, "no fields to update")
	}
	return nil
}

type MoveRowRequest struct {
	ID       int64  `json:"-"`
	Category string `json:"category"`
}

func (r MoveRowRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid row id")
	}
	if !analyzer.Category(r.Category).Valid() {
		return apperror.New(apperror.BadRequest, "unknown report category")
	}
	return nil
}
