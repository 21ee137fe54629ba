package analyzer

import (
	"context"
	"errors"
	"fmt"
)

// Category classifies a single analyzed image.
type Category string

const (
	CategoryDamage      Category = "damage"
	CategoryInternalUse Category = "internal_use"
	CategoryError       Category = "error"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDamage, CategoryInternalUse, CategoryError:
		return true
	}
	return false
}

// Item is one product extracted from an image or its message context. A
// single image can describe several products (e.g. a loss list in the chat).
type Item struct {
	Product string `json:"product"`
	Weight  string `json:"weight,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

// Result is the structured outcome of analyzing one work item.
type Result struct {
	Category   Category `json:"category"`
	Items      []Item   `json:"items"`
	Details    string   `json:"details,omitempty"`
	TokensUsed int64    `json:"-"`
}

// Request carries one image plus its optional chat context to a provider.
type Request struct {
	Name       string
	ImageBytes []byte
	MIMEType   string
	Context    string
}

// Analyzer is a remote image-understanding provider.
type Analyzer interface {
	Provider() string
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// ErrUnauthorized marks a systemic auth failure: the whole job must stop,
// retrying individual items cannot help.
var ErrUnauthorized = errors.New("analyzer: unauthorized")

// PermanentError wraps failures that retrying cannot fix, such as a corrupt
// or unsupported input file.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ClassifyHTTPStatus maps a provider HTTP status to the error taxonomy:
// auth failures are systemic, client errors are permanent, everything else
// (including rate limits) is transient and left as-is.
func ClassifyHTTPStatus(status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case status == 429:
		return err // transient: subject to the bounded retry
	case status >= 400 && status < 500:
		return Permanent(err)
	default:
		return err
	}
}
