package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"festLogAPI/middleware"
	"festLogAPI/services"
)

type LogHandler struct {
	logService *services.LogService
	scope      *FestivalScope
}

func NewLogHandler(logService *services.LogService, scope *FestivalScope) *LogHandler {
	return &LogHandler{
		logService: logService,
		scope:      scope,
	}
}

func (h *LogHandler) auth(w http.ResponseWriter, r *http.Request) (string, bool) {
	userKey, ok := middleware.GetUserKey(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return "", false
	}
	return userKey, true
}

func (h *LogHandler) AddWantToTry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	item, err := h.logService.AddWantToTry(ctx, userKey, festivalID, mux.Vars(r)["drinkID"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	respondWithJSON(w, http.StatusCreated, item)
}

type markTriedRequest struct {
	At *time.Time `json:"at,omitempty"`
}

func (h *LogHandler) MarkTried(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	// Empty body means "tried just now"; backdating sends an explicit at.
	var req markTriedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}

	item, err := h.logService.MarkTried(ctx, userKey, festivalID, mux.Vars(r)["drinkID"], at)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, item)
}

type updateTriedRequest struct {
	OldAt time.Time `json:"old_at"`
	NewAt time.Time `json:"new_at"`
}

func (h *LogHandler) UpdateTried(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	var req updateTriedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OldAt.IsZero() || req.NewAt.IsZero() {
		respondWithError(w, http.StatusBadRequest, "Both old_at and new_at are required")
		return
	}

	drinkID := mux.Vars(r)["drinkID"]
	updated, err := h.logService.UpdateTriedAt(ctx, userKey, festivalID, drinkID, req.OldAt, req.NewAt)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	if !updated {
		respondWithError(w, http.StatusNotFound, "No matching try to update")
		return
	}

	item, _ := h.logService.GetFavorite(ctx, userKey, festivalID, drinkID)
	respondWithJSON(w, http.StatusOK, item)
}

func (h *LogHandler) RemoveTried(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	atParam := r.URL.Query().Get("at")
	if atParam == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'at' is required")
		return
	}
	at, err := time.Parse(time.RFC3339, atParam)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'at' must be an ISO-8601 timestamp")
		return
	}

	drinkID := mux.Vars(r)["drinkID"]
	removed, err := h.logService.RemoveTriedAt(ctx, userKey, festivalID, drinkID, at)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	if !removed {
		respondWithError(w, http.StatusNotFound, "No matching try to remove")
		return
	}

	item, _ := h.logService.GetFavorite(ctx, userKey, festivalID, drinkID)
	respondWithJSON(w, http.StatusOK, item)
}

type setNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *LogHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	var req setNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	drinkID := mux.Vars(r)["drinkID"]
	updated, err := h.logService.SetNotes(ctx, userKey, festivalID, drinkID, req.Notes)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	if !updated {
		respondWithError(w, http.StatusNotFound, "Drink is not in your festival log")
		return
	}

	item, _ := h.logService.GetFavorite(ctx, userKey, festivalID, drinkID)
	respondWithJSON(w, http.StatusOK, item)
}

func (h *LogHandler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	removed, err := h.logService.RemoveEntry(ctx, userKey, festivalID, mux.Vars(r)["drinkID"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *LogHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	added, err := h.logService.Toggle(ctx, userKey, festivalID, mux.Vars(r)["drinkID"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not update your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"favorited": added})
}

func (h *LogHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	snap, err := h.logService.Snapshot(ctx, userKey, festivalID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not load your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (h *LogHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	snap, err := h.logService.Snapshot(ctx, userKey, festivalID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not load your festival log")
		return
	}
	item, found := snap[mux.Vars(r)["drinkID"]]
	if !found {
		respondWithError(w, http.StatusNotFound, "Drink is not in your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, item)
}

func (h *LogHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := h.auth(w, r)
	if !ok {
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	sum, err := h.logService.Summary(ctx, userKey, festivalID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not load your festival log")
		return
	}
	respondWithJSON(w, http.StatusOK, sum)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
