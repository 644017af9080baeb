package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bulletin/internal/core"
	"bulletin/internal/resilience"
	"bulletin/internal/types"
)

type mockCampaignService struct {
	mock.Mock
}

func (m *mockCampaignService) Run(ctx context.Context, id string, ov types.DispatchOverrides) (*types.CampaignResult, error) {
	args := m.Called(ctx, id, ov)
	res, _ := args.Get(0).(*types.CampaignResult)
	return res, args.Error(1)
}

func (m *mockCampaignService) Newsletter(ctx context.Context, id string) (*types.Newsletter, error) {
	args := m.Called(ctx, id)
	nl, _ := args.Get(0).(*types.Newsletter)
	return nl, args.Error(1)
}

func (m *mockCampaignService) Summary(ctx context.Context, id string) (*types.CampaignSummary, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*types.CampaignSummary)
	return s, args.Error(1)
}

func (m *mockCampaignService) Deliveries(ctx context.Context, id string, status types.TrackingStatus) ([]types.TrackingRecord, error) {
	args := m.Called(ctx, id, status)
	recs, _ := args.Get(0).([]types.TrackingRecord)
	return recs, args.Error(1)
}

func newRouter(svc CampaignService) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", NewNewsletterHandler(svc, nil).RegisterRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHandlePublish_NoBody(t *testing.T) {
	svc := &mockCampaignService{}
	svc.On("Run", mock.Anything, "nl-1", types.DispatchOverrides{}).Return(&types.CampaignResult{
		NewsletterID:    "nl-1",
		Published:       true,
		SubscriberCount: 12,
		EmailsSent:      12,
	}, nil)

	rec := do(t, newRouter(svc), http.MethodPost, "/v1/newsletters/nl-1/publish", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got types.CampaignResult
	decodeData(t, rec, &got)
	assert.True(t, got.Published)
	assert.Equal(t, 12, got.EmailsSent)
	svc.AssertExpectations(t)
}

func TestHandlePublish_WithOverrides(t *testing.T) {
	svc := &mockCampaignService{}
	want := types.DispatchOverrides{BatchSize: 20, DelayBetweenBatchesMs: 500, MaxRetries: 2}
	svc.On("Run", mock.Anything, "nl-2", want).Return(&types.CampaignResult{NewsletterID: "nl-2"}, nil)

	rec := do(t, newRouter(svc), http.MethodPost, "/v1/newsletters/nl-2/publish",
		`{"batch_size":20,"delay_between_batches_ms":500,"max_retries":2}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestHandlePublish_InvalidOverrides(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"batch size too large", `{"batch_size":500}`, types.ErrCodeValidationBatchSize},
		{"too many retries", `{"max_retries":50}`, types.ErrCodeValidationMissingField},
		{"unknown field", `{"batchsize":5}`, types.ErrCodeValidationInvalidJSON},
		{"malformed", `{"batch_size":`, types.ErrCodeValidationInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCampaignService{}
			rec := do(t, newRouter(svc), http.MethodPost, "/v1/newsletters/nl-1/publish", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.code), errorCode(t, rec))
			svc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandlePublish_ErrorMapping(t *testing.T) {
	breakerOpen := types.NewAppError(types.ErrCodeServiceUnavailable, "content-store circuit open", resilience.ErrBreakerOpen)
	tests := []struct {
		name   string
		err    error
		status int
		code   types.ErrorCode
	}{
		{"not found", fmt.Errorf("publish newsletter: %w", types.NewAppError(types.ErrCodeNotFoundNewsletter, "newsletter not found", nil)), http.StatusNotFound, types.ErrCodeNotFoundNewsletter},
		{"breaker open", fmt.Errorf("list subscribers: %w", breakerOpen), http.StatusServiceUnavailable, types.ErrCodeServiceUnavailable},
		{"already running", types.NewAppError(types.ErrCodeConflictCampaignRunning, "campaign already running", nil), http.StatusConflict, types.ErrCodeConflictCampaignRunning},
		{"database", types.NewAppError(types.ErrCodeInternalDB, "database error", nil), http.StatusInternalServerError, types.ErrCodeInternalDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCampaignService{}
			svc.On("Run", mock.Anything, "nl-1", types.DispatchOverrides{}).Return(nil, tt.err)

			rec := do(t, newRouter(svc), http.MethodPost, "/v1/newsletters/nl-1/publish", "")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.code), errorCode(t, rec))
		})
	}
}

func TestHandleGet(t *testing.T) {
	svc := &mockCampaignService{}
	svc.On("Newsletter", mock.Anything, "nl-1").Return(&types.Newsletter{ID: "nl-1", Title: "Issue 1"}, nil)
	svc.On("Newsletter", mock.Anything, "missing").Return(nil,
		types.NewAppError(types.ErrCodeNotFoundNewsletter, "newsletter not found", nil))

	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/v1/newsletters/nl-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nl types.Newsletter
	decodeData(t, rec, &nl)
	assert.Equal(t, "Issue 1", nl.Title)

	rec = do(t, router, http.MethodGet, "/v1/newsletters/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSummary(t *testing.T) {
	svc := &mockCampaignService{}
	summary := types.NewCampaignSummary("nl-1", map[types.TrackingStatus]int{
		types.TrackingSent:    8,
		types.TrackingFailed:  1,
		types.TrackingBounced: 1,
	})
	svc.On("Summary", mock.Anything, "nl-1").Return(&summary, nil)

	rec := do(t, newRouter(svc), http.MethodGet, "/v1/newsletters/nl-1/delivery-summary", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got types.CampaignSummary
	decodeData(t, rec, &got)
	assert.Equal(t, 10, got.Total)
	assert.InDelta(t, 0.8, got.SuccessRate, 1e-9)
	assert.InDelta(t, 0.1, got.BounceRate, 1e-9)
}

func TestHandleDeliveries(t *testing.T) {
	svc := &mockCampaignService{}
	svc.On("Deliveries", mock.Anything, "nl-1", types.TrackingBounced).Return([]types.TrackingRecord{
		{ID: "r1", NewsletterID: "nl-1", RecipientEmail: "a@example.com", Status: types.TrackingBounced, Attempts: 1},
	}, nil)
	svc.On("Deliveries", mock.Anything, "nl-9", types.TrackingStatus("")).Return(nil, nil)
	svc.On("Deliveries", mock.Anything, "nl-1", types.TrackingStatus("lost")).Return(nil,
		types.NewAppError(types.ErrCodeValidationInvalidStatus, `unknown status "lost"`, nil))

	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/v1/newsletters/nl-1/deliveries?status=BOUNCED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list DeliveryList
	decodeData(t, rec, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "bounced", list.Status)
	assert.Equal(t, "a@example.com", list.Deliveries[0].RecipientEmail)

	rec = do(t, router, http.MethodGet, "/v1/newsletters/nl-9/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deliveries":[]`)

	rec = do(t, router, http.MethodGet, "/v1/newsletters/nl-1/deliveries?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidStatus), errorCode(t, rec))
}
