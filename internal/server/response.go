package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/apperror"
	"github.com/pvcarvalho/avaria-api/internal/report"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

// writeServiceError maps service-layer errors to HTTP responses: AppErrors
// carry their own status, anything else is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apperror.AppError); ok {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeCSV(w http.ResponseWriter, rows []report.Row) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=report.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Category,Product,Details,Note,Image,CreatedAt")
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s\n",
			row.Category,
			csvEscape(row.Product),
			csvEscape(row.Details),
			csvEscape(row.Note),
			row.ImagePath,
			row.CreatedAt.Format(time.RFC3339),
		)
	}
}

// csvEscape quotes a field when it contains a separator. Products and notes
// come from model output and manual edits, both can contain commas.
func csvEscape(s string) string {
	for _, c := range s {
		if c == ',' || c == '"' || c == '\n' {
			quoted := make([]rune, 0, len(s)+2)
			quoted = append(quoted, '"')
			for _, r := range s {
				if r == '"' {
					quoted = append(quoted, '"')
				}
				quoted = append(quoted, r)
			}
			return string(append(quoted, '"'))
		}
	}
	return s
}
