// Package handlers contains the HTTP handlers of the newsletter admin API.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"bulletin/internal/core"
	"bulletin/internal/types"
)

// CampaignService is the orchestrator surface used by the handlers.
// campaign.Orchestrator satisfies it.
type CampaignService interface {
	Run(ctx context.Context, newsletterID string, overrides types.DispatchOverrides) (*types.CampaignResult, error)
	Newsletter(ctx context.Context, id string) (*types.Newsletter, error)
	Summary(ctx context.Context, newsletterID string) (*types.CampaignSummary, error)
	Deliveries(ctx context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error)
}

// NewsletterHandler exposes publishing and delivery tracking.
type NewsletterHandler struct {
	service  CampaignService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewNewsletterHandler creates a NewsletterHandler. A nil logger uses
// slog.Default().
func NewNewsletterHandler(svc CampaignService, logger *slog.Logger) *NewsletterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsletterHandler{
		service:  svc,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes mounts the newsletter endpoints. Authentication and the
// admin check are applied by the /v1 group.
func (h *NewsletterHandler) RegisterRoutes(r chi.Router) {
	r.Route("/newsletters/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Post("/publish", h.HandlePublish)
		r.Get("/delivery-summary", h.HandleSummary)
		r.Get("/deliveries", h.HandleDeliveries)
	})
}

// DeliveryList is the body of GET /v1/newsletters/{id}/deliveries.
type DeliveryList struct {
	NewsletterID string                 `json:"newsletter_id"`
	Status       string                 `json:"status,omitempty"`
	Count        int                    `json:"count"`
	Deliveries   []types.TrackingRecord `json:"deliveries"`
}

// HandlePublish handles POST /v1/newsletters/{id}/publish. The body is
// optional; when present it carries DispatchOverrides. The response is sent
// after the whole campaign has run.
func (h *NewsletterHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := newsletterID(w, r)
	if !ok {
		return
	}

	var overrides types.DispatchOverrides
	if hasBody(r) {
		if err := core.DecodeJSON(w, r, &overrides); err != nil {
			if !isEmptyBody(err) {
				core.Error(w, r, err)
				return
			}
		}
		if err := h.validate.Struct(overrides); err != nil {
			core.Error(w, r, validationError(err))
			return
		}
	}

	result, err := h.service.Run(r.Context(), id, overrides)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("newsletter published via api",
		slog.String("newsletter_id", id),
		slog.Int("emails_sent", result.EmailsSent),
		slog.String("request_id", types.GetRequestID(r.Context())),
	)
	core.Data(w, r, http.StatusOK, result)
}

// HandleGet handles GET /v1/newsletters/{id}.
func (h *NewsletterHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := newsletterID(w, r)
	if !ok {
		return
	}
	nl, err := h.service.Newsletter(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, nl)
}

// HandleSummary handles GET /v1/newsletters/{id}/delivery-summary.
func (h *NewsletterHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := newsletterID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, summary)
}

// HandleDeliveries handles GET /v1/newsletters/{id}/deliveries?status=.
// An empty status lists every record.
func (h *NewsletterHandler) HandleDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := newsletterID(w, r)
	if !ok {
		return
	}
	status := types.TrackingStatus(strings.ToLower(r.URL.Query().Get("status")))

	recs, err := h.service.Deliveries(r.Context(), id, status)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if recs == nil {
		recs = []types.TrackingRecord{}
	}
	core.Data(w, r, http.StatusOK, DeliveryList{
		NewsletterID: id,
		Status:       string(status),
		Count:        len(recs),
		Deliveries:   recs,
	})
}

func newsletterID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "newsletter id is required", nil))
		return "", false
	}
	return id, true
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// isEmptyBody reports whether a decode failure only means the body was
// empty, which is allowed for publish.
func isEmptyBody(err error) bool {
	return errors.Is(err, io.EOF)
}

// validationError converts validator output into an AppError naming the
// offending fields.
func validationError(err error) *types.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationMissingField, "invalid dispatch options", err)
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag() + paramSuffix(fe.Param())
	}
	code := types.ErrCodeValidationMissingField
	if _, ok := fields["BatchSize"]; ok {
		code = types.ErrCodeValidationBatchSize
	}
	return types.NewAppError(code, "invalid dispatch options", err).
		WithDetails(map[string]any{"fields": fields})
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
