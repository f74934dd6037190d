// Package httpx holds the response and request-body helpers shared by the
// user and task handlers.
package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// WriteError writes {"error": msg} with the given status code.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteText writes a plain-text body.
func WriteText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

// ServerError logs err, reports it to Sentry when a hub is attached to the
// request, and answers with a fixed message.
func ServerError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	slog.ErrorContext(r.Context(), msg, "error", err, "method", r.Method, "path", r.URL.Path)
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.CaptureException(err)
	}
	WriteError(w, status, msg)
}

// DecodeJSON decodes a size-limited JSON body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("invalid value for field %q", typeErr.Field)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// DecodeFields decodes a JSON object body keeping every submitted key, so the
// caller can check the key set before interpreting any value.
func DecodeFields(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := DecodeJSON(w, r, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return fields, nil
}

// DecodeKnown decodes a JSON object body into v using only the keys in
// allowed. Keys are matched exactly, so "Description" is dropped rather than
// filling the description field.
func DecodeKnown(w http.ResponseWriter, r *http.Request, allowed map[string]struct{}, v interface{}) error {
	fields, err := DecodeFields(w, r)
	if err != nil {
		return err
	}
	for k := range fields {
		if _, ok := allowed[k]; !ok {
			delete(fields, k)
		}
	}
	return Remarshal(fields, v)
}

// NullFields returns the keys of fields whose value is JSON null.
func NullFields(fields map[string]json.RawMessage) []string {
	var nulls []string
	for k, raw := range fields {
		if string(bytes.TrimSpace(raw)) == "null" {
			nulls = append(nulls, k)
		}
	}
	return nulls
}

// UnknownFields returns the keys of fields that are not in allowed.
func UnknownFields(fields map[string]json.RawMessage, allowed map[string]struct{}) []string {
	var unknown []string
	for k := range fields {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// Remarshal decodes an already-read field set into v.
func Remarshal(fields map[string]json.RawMessage, v interface{}) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("invalid value for field %q", typeErr.Field)
		}
		return err
	}
	return nil
}
