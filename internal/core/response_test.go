package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bulletin/internal/config"
	"bulletin/internal/types"
)

var errFake = errors.New("fake failure")

func testConfig() *config.Config {
	return &config.Config{Environment: "local"}
}

func TestJSONWritesBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Data(w, r, http.StatusCreated, map[string]string{"id": "nl-1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["id"] != "nl-1" {
		t.Errorf("data = %v", body.Data)
	}
}

func TestJSONMarshalFailure(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-marshal"))

	JSON(w, r, http.StatusOK, make(chan int))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	detail := decodeError(t, w)
	if detail.Code != string(types.ErrCodeInternalUnexpected) || detail.RequestID != "req-marshal" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestErrorMapsAppErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   types.ErrorCode
	}{
		{types.NewAppError(types.ErrCodeNotFoundNewsletter, "newsletter not found", nil), http.StatusNotFound, types.ErrCodeNotFoundNewsletter},
		{types.NewAppError(types.ErrCodeConflictCampaignRunning, "running", nil), http.StatusConflict, types.ErrCodeConflictCampaignRunning},
		{fmt.Errorf("publish: %w", types.NewAppError(types.ErrCodeServiceUnavailable, "open", nil)), http.StatusServiceUnavailable, types.ErrCodeServiceUnavailable},
		{types.NewAppError(types.ErrCodeValidationInvalidStatus, "bad", nil), http.StatusBadRequest, types.ErrCodeValidationInvalidStatus},
		{errFake, http.StatusInternalServerError, types.ErrCodeInternalUnexpected},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			Error(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if detail := decodeError(t, w); detail.Code != string(tt.code) {
				t.Errorf("code = %q, want %q", detail.Code, tt.code)
			}
		})
	}
}

func TestErrorHidesCauseAndLogsServerFailures(t *testing.T) {
	var buf bytes.Buffer
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithLogger(r.Context(), types.NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))))

	w := httptest.NewRecorder()
	Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "database error", errors.New("pq: password=hunter2")))

	if strings.Contains(w.Body.String(), "hunter2") {
		t.Errorf("cause leaked to client: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "request failed") {
		t.Error("server failure not logged")
	}
}

func TestErrorKeepsDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewAppError(types.ErrCodeValidationMissingField, "invalid", nil).
		WithDetails(map[string]any{"field": "batch_size"})
	Error(w, httptest.NewRequest(http.MethodGet, "/", nil), err)

	if detail := decodeError(t, w); detail.Details["field"] != "batch_size" {
		t.Errorf("details = %v", detail.Details)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		BatchSize int `json:"batch_size"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"batch_size": 5}`, ""},
		{"empty", ``, "must not be empty"},
		{"syntax", `{"batch_size":`, "JSON"},
		{"unknown field", `{"batch": 5}`, "unknown field"},
		{"wrong type", `{"batch_size": "five"}`, "invalid value"},
		{"two objects", `{"batch_size": 1}{"batch_size": 2}`, "single JSON object"},
		{"too large", `{"batch_size": 1` + strings.Repeat(" ", maxRequestBodySize) + `}`, "1MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst payload
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr == "" {
				if err != nil || dst.BatchSize != 5 {
					t.Fatalf("DecodeJSON = %v, dst %+v", err, dst)
				}
				return
			}
			if !types.HasCode(err, types.ErrCodeValidationInvalidJSON) {
				t.Fatalf("err = %v, want validation_invalid_json", err)
			}
			if !strings.Contains(err.(*types.AppError).Message, tt.wantErr) {
				t.Errorf("message = %q, want substring %q", err.(*types.AppError).Message, tt.wantErr)
			}
		})
	}
}
