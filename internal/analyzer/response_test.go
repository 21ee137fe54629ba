package analyzer

import (
	"errors"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantErr      bool
		wantCategory Category
		wantItems    int
	}{
		{
			name:         "plain json",
			raw:          `{"category":"damage","items":[{"product":"CILANTRO"}]}`,
			wantCategory: CategoryDamage,
			wantItems:    1,
		},
		{
			name: "json fence",
			raw: "```json\n" +
				`{"category":"internal_use","items":[{"product":"TRASH BAGS","barcode":"789"}]}` +
				"\n```",
			wantCategory: CategoryInternalUse,
			wantItems:    1,
		},
		{
			name: "bare fence",
			raw: "```\n" +
				`{"category":"damage","items":[{"product":"LETTUCE"},{"product":"CILANTRO"}]}` +
				"\n```",
			wantCategory: CategoryDamage,
			wantItems:    2,
		},
		{
			name:         "error category without items",
			raw:          `{"category":"error","details":"label unreadable"}`,
			wantCategory: CategoryError,
			wantItems:    0,
		},
		{
			name:    "unknown category",
			raw:     `{"category":"misc","items":[{"product":"X"}]}`,
			wantErr: true,
		},
		{
			name:    "success category without items",
			raw:     `{"category":"damage","items":[]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     "I could not analyze this image.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResponse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", res.Category, tt.wantCategory)
			}
			if len(res.Items) != tt.wantItems {
				t.Errorf("items = %d, want %d", len(res.Items), tt.wantItems)
			}
		})
	}
}

func TestPermanentError(t *testing.T) {
	base := errors.New("corrupt file")
	if !IsPermanent(Permanent(base)) {
		t.Error("Permanent(err) should be permanent")
	}
	if IsPermanent(base) {
		t.Error("plain error should not be permanent")
	}
	if !errors.Is(Permanent(base), base) {
		t.Error("Permanent should unwrap to the original error")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := errors.New("api error")

	if err := ClassifyHTTPStatus(401, base); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("401 should map to ErrUnauthorized, got %v", err)
	}
	if err := ClassifyHTTPStatus(403, base); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("403 should map to ErrUnauthorized, got %v", err)
	}
	if err := ClassifyHTTPStatus(429, base); IsPermanent(err) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("429 should stay transient, got %v", err)
	}
	if err := ClassifyHTTPStatus(400, base); !IsPermanent(err) {
		t.Errorf("400 should be permanent, got %v", err)
	}
	if err := ClassifyHTTPStatus(500, base); IsPermanent(err) || errors.Is(err, ErrUnauthorized) {
		t.Errorf("500 should stay transient, got %v", err)
	}
}
