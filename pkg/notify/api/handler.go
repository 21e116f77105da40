package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/itttm127/speech-to-text/pkg/events"
	"github.com/itttm127/speech-to-text/pkg/notify"
	"github.com/itttm127/speech-to-text/pkg/urlvalidation"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Handler provides REST endpoints for sink management.
type Handler struct {
	repo      *notify.Repository
	publisher *events.Publisher
}

// NewHandler creates a new sink API handler.
func NewHandler(repo *notify.Repository, publisher *events.Publisher) *Handler {
	return &Handler{repo: repo, publisher: publisher}
}

// RegisterRoutes registers all sink API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sinks", h.Create)
	mux.HandleFunc("GET /api/v1/sinks", h.List)
	mux.HandleFunc("GET /api/v1/sinks/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/sinks/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/sinks/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/sinks/{id}/rotate-secret", h.RotateSecret)
	mux.HandleFunc("GET /api/v1/sinks/{id}/deliveries", h.ListDeliveries)
	mux.HandleFunc("GET /api/v1/sinks/{id}/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("POST /api/v1/sinks/{id}/dead-letters/{dlid}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("POST /api/v1/sinks/{id}/test", h.Test)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func toSinkResponse(s *notify.Sink, includeSecret bool) SinkResponse {
	resp := SinkResponse{
		ID:           s.ID,
		Name:         s.Name,
		URL:          s.URL,
		EventTypes:   []events.EventType(s.EventTypes),
		IsActive:     s.IsActive,
		Description:  s.Description,
		FailureCount: s.FailureCount,
		CircuitState: s.CircuitState,
		MaxRPS:       s.MaxRPS,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		ModifiedAt:   s.ModifiedAt.Format(time.RFC3339),
	}
	if includeSecret {
		resp.Secret = s.Secret
	}
	return resp
}

// Create handles POST /api/v1/sinks
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateSinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	if err := urlvalidation.ValidateWebhookURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sink URL: "+err.Error())
		return
	}

	secret, err := notify.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	maxRPS := req.MaxRPS
	if maxRPS <= 0 {
		maxRPS = 10
	}

	sink := &notify.Sink{
		Name:        req.Name,
		URL:         req.URL,
		Secret:      secret,
		EventTypes:  notify.EventTypesJSON(req.EventTypes),
		IsActive:    true,
		Description: req.Description,
		MaxRPS:      maxRPS,
	}

	if err := h.repo.CreateSink(r.Context(), sink); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create sink")
		return
	}

	writeJSON(w, http.StatusCreated, toSinkResponse(sink, true))
}

// List handles GET /api/v1/sinks
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sinks, err := h.repo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sinks")
		return
	}

	resp := make([]SinkResponse, 0, len(sinks))
	for i := range sinks {
		resp = append(resp, toSinkResponse(&sinks[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/sinks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sink, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, toSinkResponse(sink, false))
}

// Update handles PUT /api/v1/sinks/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")
	sink, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}

	var req UpdateSinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		sink.Name = *req.Name
	}
	if req.URL != nil {
		if err := urlvalidation.ValidateWebhookURL(*req.URL); err != nil {
			writeError(w, http.StatusBadRequest, "invalid sink URL: "+err.Error())
			return
		}
		sink.URL = *req.URL
	}
	if req.EventTypes != nil {
		sink.EventTypes = notify.EventTypesJSON(*req.EventTypes)
	}
	if req.IsActive != nil {
		sink.IsActive = *req.IsActive
	}
	if req.Description != nil {
		sink.Description = *req.Description
	}
	if req.MaxRPS != nil {
		sink.MaxRPS = *req.MaxRPS
	}

	if err := h.repo.Update(r.Context(), sink); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update sink")
		return
	}

	writeJSON(w, http.StatusOK, toSinkResponse(sink, false))
}

// Delete handles DELETE /api/v1/sinks/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete sink")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/v1/sinks/{id}/rotate-secret
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sink, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}

	secret, err := notify.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	sink.Secret = secret
	if err := h.repo.Update(r.Context(), sink); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update secret")
		return
	}

	writeJSON(w, http.StatusOK, toSinkResponse(sink, true))
}

// ListDeliveries handles GET /api/v1/sinks/{id}/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	attempts, err := h.repo.ListDeliveries(r.Context(), id, 50, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	resp := make([]DeliveryResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, DeliveryResponse{
			ID:            a.ID,
			EventID:       a.EventID,
			EventType:     a.EventType,
			ResponseCode:  a.ResponseCode,
			AttemptNumber: a.AttemptNumber,
			Status:        a.Status,
			Error:         a.Error,
			DurationMs:    a.DurationMs,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeadLetters handles GET /api/v1/sinks/{id}/dead-letters
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	letters, err := h.repo.ListDeadLetters(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, DeadLetterResponse{
			ID:        dl.ID,
			EventID:   dl.EventID,
			EventType: dl.EventType,
			LastError: dl.LastError,
			Attempts:  dl.Attempts,
			CreatedAt: dl.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayDeadLetter handles POST /api/v1/sinks/{id}/dead-letters/{dlid}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")
	dlid := r.PathValue("dlid")

	letters, err := h.repo.ListDeadLetters(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	var found *notify.DeadLetter
	for i := range letters {
		if letters[i].ID == dlid {
			found = &letters[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	// Re-publish the envelope to the event bus.
	var env events.Envelope
	if err := json.Unmarshal([]byte(found.Payload), &env); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt dead letter payload")
		return
	}

	if err := h.publisher.Emit(r.Context(), env.Type, env.SessionID, json.RawMessage(env.Data)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to re-publish event")
		return
	}

	if err := h.repo.MarkDeadLetterReplayed(r.Context(), dlid); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark dead letter replayed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Test handles POST /api/v1/sinks/{id}/test
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")

	// Verify the sink exists.
	_, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}

	testData := events.WebhookTestData{
		SinkID:  id,
		Message: "This is a test delivery from speechd",
	}

	if err := h.publisher.Emit(r.Context(), events.WebhookTest, "", testData); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish test event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test event published"})
}
