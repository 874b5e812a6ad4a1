package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"festLogAPI/internal/resolve"
	"festLogAPI/middleware"
	"festLogAPI/services"
)

// FestivalScope validates the festival id every festival-scoped route runs
// under. Unknown ids redirect to the same path under the user's preferred
// festival (query string preserved), so shared links to a past edition
// keep working. Resolution is read-only: it never touches the preference.
type FestivalScope struct {
	registry *services.RegistryService
	resolver *resolve.Resolver
}

func NewFestivalScope(registry *services.RegistryService, resolver *resolve.Resolver) *FestivalScope {
	return &FestivalScope{registry: registry, resolver: resolver}
}

// Resolve returns the validated festival id for the request, or redirects
// and returns false.
func (f *FestivalScope) Resolve(w http.ResponseWriter, r *http.Request) (string, bool) {
	festivalID := mux.Vars(r)["festivalID"]
	if festivalID == "" {
		respondWithError(w, http.StatusBadRequest, "Festival id is required")
		return "", false
	}
	known, err := f.registry.Known(r.Context(), festivalID)
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "The festival registry is unavailable right now. Please try again.")
		return "", false
	}
	if known {
		return festivalID, true
	}

	userKey, _ := middleware.GetUserKey(r.Context())
	preferred, err := f.resolver.Preferred(r.Context(), userKey)
	if err != nil || preferred == "" || preferred == festivalID {
		respondWithError(w, http.StatusNotFound, "Unknown festival")
		return "", false
	}

	http.Redirect(w, r, resolve.RedirectPath(r.URL.Path, r.URL.RawQuery, festivalID, preferred), http.StatusTemporaryRedirect)
	return "", false
}
