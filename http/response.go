package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details ...string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// decodeJSON reads a single JSON object into dst and validates it. The
// returned error is already mapped to a status code.
func decodeJSON(r *http.Request, v *validator.Validate, dst any) *requestError {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &requestError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		case errors.Is(err, io.EOF):
			return &requestError{status: http.StatusBadRequest, message: "request body is empty"}
		default:
			return &requestError{status: http.StatusBadRequest, message: "invalid JSON: " + err.Error()}
		}
	}
	if dec.More() {
		return &requestError{status: http.StatusBadRequest, message: "request body must contain a single JSON object"}
	}
	if err := v.Struct(dst); err != nil {
		return &requestError{status: http.StatusBadRequest, message: "validation failed", details: validationDetails(err)}
	}
	return nil
}

type requestError struct {
	status  int
	message string
	details []string
}

func (e *requestError) write(w http.ResponseWriter) {
	writeError(w, e.status, e.message, e.details...)
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return details
}
