package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"festLogAPI/internal/resolve"
	"festLogAPI/middleware"
	"festLogAPI/services"
)

// PreferenceHandler exposes the preferred festival. Reading a festival via
// any other route never touches this value; PUT here is the one explicit
// write path.
type PreferenceHandler struct {
	resolver        *resolve.Resolver
	registryService *services.RegistryService
}

func NewPreferenceHandler(resolver *resolve.Resolver, registryService *services.RegistryService) *PreferenceHandler {
	return &PreferenceHandler{
		resolver:        resolver,
		registryService: registryService,
	}
}

func (h *PreferenceHandler) GetPreference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	preferred, err := h.resolver.Preferred(ctx, userKey)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not load your preference")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"preferred_festival_id": preferred})
}

type setPreferenceRequest struct {
	FestivalID string `json:"festival_id"`
}

func (h *PreferenceHandler) SetPreference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req setPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FestivalID == "" {
		respondWithError(w, http.StatusBadRequest, "festival_id is required")
		return
	}
	known, err := h.registryService.Known(ctx, req.FestivalID)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "The festival registry is unavailable right now. Please try again.")
		return
	}
	if !known {
		respondWithError(w, http.StatusNotFound, "Unknown festival")
		return
	}

	if err := h.resolver.SetPreferred(ctx, userKey, req.FestivalID); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not save your preference")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"preferred_festival_id": req.FestivalID})
}

// ResolveRoot answers "which festival should the home screen open":
// the preference when set, else the configured default.
func (h *PreferenceHandler) ResolveRoot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, _ := middleware.GetUserKey(ctx)
	preferred, err := h.resolver.Preferred(ctx, userKey)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not resolve a festival")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"festival_id": preferred})
}
