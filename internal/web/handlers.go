package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/panopticon-door/panopticon/internal/embedder"
	"github.com/panopticon-door/panopticon/internal/engine"
	"github.com/panopticon-door/panopticon/internal/identity"
	"github.com/panopticon-door/panopticon/internal/thumbs"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Handler bundles the engine with its optional collaborators.
type Handler struct {
	engine   *engine.Engine
	embedder *embedder.Client
	thumbs   *thumbs.Store
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps domain errors to HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrDimensionMismatch), errors.Is(err, identity.ErrInvalidName):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrAllocationExhausted):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// EnrollRequest is the JSON body for embedding-based enrollment.
type EnrollRequest struct {
	GivenName  string    `json:"given_name"`
	FamilyName string    `json:"family_name"`
	Embedding  []float32 `json:"embedding"`
}

// EnrollResponse reports the resolved identity.
type EnrollResponse struct {
	IdentityID string `json:"identity_id"`
	Created    bool   `json:"created"`
}

// Enroll registers an embedding under a name.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.GivenName == "" || req.FamilyName == "" {
		respondError(w, http.StatusBadRequest, "given_name and family_name are required")
		return
	}

	result, err := h.engine.Enroll(r.Context(), req.GivenName, req.FamilyName, req.Embedding)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, EnrollResponse{IdentityID: result.IdentityID, Created: result.Created})
}

// EnrollImage registers a face image under a name: the image goes to the
// embedding service, the resulting vector to the engine, and the image
// itself becomes the identity's thumbnail on first enrollment.
func (h *Handler) EnrollImage(w http.ResponseWriter, r *http.Request) {
	if h.embedder == nil {
		respondError(w, http.StatusServiceUnavailable, "embedding service not configured")
		return
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	givenName := r.FormValue("given_name")
	familyName := r.FormValue("family_name")
	if givenName == "" || familyName == "" {
		respondError(w, http.StatusBadRequest, "given_name and family_name are required")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	embedding, err := h.embedder.Embed(r.Context(), imageData)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	result, err := h.engine.Enroll(r.Context(), givenName, familyName, embedding)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	// First enrollment keeps the captured image as the thumbnail.
	if result.Created && h.thumbs != nil {
		if ref, err := h.thumbs.Save(imageData); err == nil {
			_ = h.engine.SetThumbnail(r.Context(), result.IdentityID, ref)
		}
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, EnrollResponse{IdentityID: result.IdentityID, Created: result.Created})
}

// VerifyRequest is the JSON body for verification.
type VerifyRequest struct {
	Embedding []float32 `json:"embedding"`
}

// VerifyResponse reports the verification outcome. IdentityID is null
// for an unregistered face; Distance is null when nobody is enrolled.
type VerifyResponse struct {
	IdentityID *string  `json:"identity_id"`
	Matched    bool     `json:"matched"`
	Distance   *float64 `json:"distance"`
	Refined    bool     `json:"refined"`
}

// Verify matches an embedding against the known identities.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := h.engine.Verify(r.Context(), req.Embedding)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := VerifyResponse{Matched: result.Matched, Refined: result.Refined}
	if result.Matched {
		resp.IdentityID = &result.IdentityID
	}
	if result.HasDistance {
		resp.Distance = &result.Distance
	}
	respondJSON(w, http.StatusOK, resp)
}

// IdentityResponse represents one identity in API responses.
type IdentityResponse struct {
	ID           string `json:"id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	ThumbnailRef string `json:"thumbnail_ref,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ListIdentities returns all registered identities.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	idents, err := h.engine.Identities(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}

	response := make([]IdentityResponse, len(idents))
	for i, ident := range idents {
		response[i] = IdentityResponse{
			ID:           ident.ID,
			GivenName:    ident.GivenName,
			FamilyName:   ident.FamilyName,
			ThumbnailRef: ident.ThumbnailRef,
			CreatedAt:    ident.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	respondJSON(w, http.StatusOK, response)
}

// IdentityCount returns the number of registered identities.
func (h *Handler) IdentityCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.IdentityCount(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

// SetThumbnail records an identity's thumbnail image, once.
func (h *Handler) SetThumbnail(w http.ResponseWriter, r *http.Request) {
	if h.thumbs == nil {
		respondError(w, http.StatusServiceUnavailable, "thumbnail storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	imageData, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil || len(imageData) == 0 {
		respondError(w, http.StatusBadRequest, "image body is required")
		return
	}

	ref, err := h.thumbs.Save(imageData)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.SetThumbnail(r.Context(), id, ref); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"thumbnail_ref": ref})
}

// Centroids returns the identity -> reference vector snapshot together
// with the engine version, for collaborator caches.
func (h *Handler) Centroids(w http.ResponseWriter, r *http.Request) {
	known, err := h.engine.FetchKnownCentroids(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"version":   h.engine.Version(),
		"centroids": known,
	})
}

// EventResponse represents one audit entry in API responses.
type EventResponse struct {
	EventID    int64   `json:"event_id"`
	IdentityID *string `json:"identity_id"`
	Kind       string  `json:"kind"`
	Detail     string  `json:"detail"`
	CreatedAt  string  `json:"created_at"`
}

// Events returns the audit trail newest-first, optionally limited.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	var events []database.StoredEvent
	var err error

	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, convErr := strconv.Atoi(limitParam)
		if convErr != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		events, err = h.engine.RecentEvents(r.Context(), limit)
	} else {
		events, err = h.engine.EventHistory(r.Context())
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}

	response := make([]EventResponse, len(events))
	for i, event := range events {
		resp := EventResponse{
			EventID:   event.EventID,
			Kind:      string(event.Kind),
			Detail:    event.Detail,
			CreatedAt: event.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if event.IdentityID != "" {
			id := event.IdentityID
			resp.IdentityID = &id
		}
		response[i] = resp
	}
	respondJSON(w, http.StatusOK, response)
}
