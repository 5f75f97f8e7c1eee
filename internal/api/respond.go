package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

type errorDetail struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeErrorBody(w http.ResponseWriter, status int, kind, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Code: code, Message: message}})
}

// errorDetailFor maps an engine error to its HTTP status and body.
func errorDetailFor(err error) (int, errorDetail) {
	var perr *progression.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, errorDetail{Kind: "internal", Code: "internal", Message: "internal error"}
	}

	status := http.StatusInternalServerError
	switch perr.Kind {
	case progression.KindValidation:
		status = http.StatusBadRequest
	case progression.KindState:
		status = http.StatusForbidden
	case progression.KindConflict:
		status = http.StatusConflict
	case progression.KindNotFound:
		status = http.StatusNotFound
	}
	msg := perr.Message
	if msg == "" {
		msg = perr.Code
	}
	return status, errorDetail{Kind: string(perr.Kind), Code: perr.Code, Message: msg}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorDetailFor(err)
	if status >= 500 {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func notFoundError(message string) error {
	return &progression.Error{Kind: progression.KindNotFound, Code: progression.ErrNotFound.Code, Message: message}
}
