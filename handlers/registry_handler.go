package handlers

import (
	"context"
	"net/http"
	"time"

	"festLogAPI/services"
)

type RegistryHandler struct {
	registryService *services.RegistryService
	scope           *FestivalScope
}

func NewRegistryHandler(registryService *services.RegistryService, scope *FestivalScope) *RegistryHandler {
	return &RegistryHandler{
		registryService: registryService,
		scope:           scope,
	}
}

func (h *RegistryHandler) GetFestivals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	festivals, err := h.registryService.Festivals(ctx)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "The festival list is unavailable right now. Please try again.")
		return
	}
	respondWithJSON(w, http.StatusOK, festivals)
}

func (h *RegistryHandler) GetDrinks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	festivalID, ok := h.scope.Resolve(w, r)
	if !ok {
		return
	}

	producers, err := h.registryService.Drinks(ctx, festivalID)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "The drinks list is unavailable right now. Please try again.")
		return
	}
	respondWithJSON(w, http.StatusOK, producers)
}
