package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"festLogAPI/internal/types/device"
	"festLogAPI/internal/types/favorite"
	"festLogAPI/middleware"
	"festLogAPI/services"
)

type SyncHandler struct {
	syncService *services.SyncService
	scope       *FestivalScope
}

func NewSyncHandler(syncService *services.SyncService, scope *FestivalScope) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		scope:       scope,
	}
}

type pushRequest struct {
	DeviceID string            `json:"device_id"`
	Snapshot favorite.Snapshot `json:"snapshot"`
}

type snapshotResponse struct {
	FestivalID string            `json:"festival_id"`
	Snapshot   favorite.Snapshot `json:"snapshot"`
}

// Push merges a device snapshot into the remote store and returns the
// merged result, so the pushing device converges in one round trip.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Snapshot == nil {
		req.Snapshot = favorite.Snapshot{}
	}
	for id, item := range req.Snapshot {
		if item == nil {
			delete(req.Snapshot, id)
			continue
		}
		item.ID = id
		item.Normalize()
	}
	if req.DeviceID == "" {
		if deviceID, ok := middleware.GetDeviceID(ctx); ok {
			req.DeviceID = deviceID
		}
	}

	merged, err := h.syncService.Push(ctx, userKey, festivalID, req.DeviceID, req.Snapshot)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Sync is unavailable right now. Your log is safe on this device.")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshotResponse{FestivalID: festivalID, Snapshot: merged})
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	snap, err := h.syncService.LoadSnapshot(ctx, userKey, festivalID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Sync is unavailable right now. Your log is safe on this device.")
		return
	}
	if snap == nil {
		snap = favorite.Snapshot{}
	}
	respondWithJSON(w, http.StatusOK, snapshotResponse{FestivalID: festivalID, Snapshot: snap})
}

func (h *SyncHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req device.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "device_id and token are required")
		return
	}

	if err := h.syncService.RegisterDevice(ctx, userKey, &req); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not register this device")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type claimRequest struct {
	DeviceKey string `json:"device_key"`
}

// ClaimIdentity folds an anonymous device profile into the authenticated
// identity, merging logs so neither side loses history.
func (h *SyncHandler) ClaimIdentity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userKey, ok := middleware.GetUserKey(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}
	if middleware.IsAnonymous(userKey) {
		respondWithError(w, http.StatusForbidden, "A signed-in identity is required to claim anonymous data")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := uuid.Parse(req.DeviceKey); err != nil {
		respondWithError(w, http.StatusBadRequest, "device_key must be a UUID")
		return
	}

	if err := h.syncService.ClaimIdentity(ctx, middleware.AnonPrefix+req.DeviceKey, userKey); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Could not claim this device's data")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}
