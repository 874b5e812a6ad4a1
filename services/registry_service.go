package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"festLogAPI/internal/types/apperr"
	"festLogAPI/internal/types/festival"
)

const drinksCacheTTL = 15 * time.Minute

// RegistryService fetches the read-only festival registry and each
// festival's producers/drinks feed. Results are cached in memory for the
// session and, when Redis is configured, shared across instances. A fetch
// failure falls back to the last cached result before surfacing a
// NetworkError.
type RegistryService struct {
	baseURL string
	client  *http.Client
	rdb     *redis.Client

	mu        sync.RWMutex
	festivals []festival.Festival
	known     map[string]bool
	drinks    map[string][]festival.Producer
}

func NewRegistryService(baseURL string, rdb *redis.Client) *RegistryService {
	return &RegistryService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		rdb:     rdb,
		known:   make(map[string]bool),
		drinks:  make(map[string][]festival.Producer),
	}
}

func (s *RegistryService) fetchJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &apperr.NetworkError{Op: "GET " + url, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &apperr.NetworkError{Op: "GET " + url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &apperr.NetworkError{Op: "GET " + url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperr.NetworkError{Op: "GET " + url, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.NetworkError{Op: "GET " + url, Err: err}
	}
	return nil
}

// RefreshFestivals re-fetches the festival registry. Keeps the previous
// list on failure.
func (s *RegistryService) RefreshFestivals(ctx context.Context) error {
	var festivals []festival.Festival
	if err := s.fetchJSON(ctx, s.baseURL+"/festivals.json", &festivals); err != nil {
		return err
	}

	known := make(map[string]bool, len(festivals))
	for _, f := range festivals {
		known[f.ID] = true
	}

	s.mu.Lock()
	s.festivals = festivals
	s.known = known
	s.mu.Unlock()
	return nil
}

// Festivals returns the registry, fetching it on first use.
func (s *RegistryService) Festivals(ctx context.Context) ([]festival.Festival, error) {
	s.mu.RLock()
	cached := s.festivals
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	if err := s.RefreshFestivals(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.festivals, nil
}

// Known reports whether the festival id exists in the registry. When the
// registry has never loaded and cannot be fetched, the NetworkError is
// returned so callers can answer "try again" instead of "no such festival".
func (s *RegistryService) Known(ctx context.Context, festivalID string) (bool, error) {
	s.mu.RLock()
	loaded := s.festivals != nil
	known := s.known[festivalID]
	s.mu.RUnlock()
	if loaded {
		return known, nil
	}
	if err := s.RefreshFestivals(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.known[festivalID], nil
}

// Drinks returns the producers (with embedded drinks) for one festival.
// Cache order: in-memory, Redis, upstream fetch. On upstream failure the
// last cached result wins over the error.
func (s *RegistryService) Drinks(ctx context.Context, festivalID string) ([]festival.Producer, error) {
	s.mu.RLock()
	cached, ok := s.drinks[festivalID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if producers, ok := s.drinksFromRedis(ctx, festivalID); ok {
		s.storeDrinks(festivalID, producers)
		return producers, nil
	}

	var producers []festival.Producer
	url := fmt.Sprintf("%s/%s/products.json", s.baseURL, festivalID)
	if err := s.fetchJSON(ctx, url, &producers); err != nil {
		// Stale data beats an error page at a festival with bad reception.
		s.mu.RLock()
		cached, ok := s.drinks[festivalID]
		s.mu.RUnlock()
		if ok {
			return cached, nil
		}
		return nil, err
	}

	s.storeDrinks(festivalID, producers)
	s.drinksToRedis(ctx, festivalID, producers)
	return producers, nil
}

// storeDrinks caches under the festival id that was requested, so a slow
// response for one festival can never clobber another festival's entry.
func (s *RegistryService) storeDrinks(festivalID string, producers []festival.Producer) {
	s.mu.Lock()
	s.drinks[festivalID] = producers
	s.mu.Unlock()
}

func redisDrinksKey(festivalID string) string {
	return "registry:drinks:" + festivalID
}

func (s *RegistryService) drinksFromRedis(ctx context.Context, festivalID string) ([]festival.Producer, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, redisDrinksKey(festivalID)).Bytes()
	if err != nil {
		return nil, false
	}
	var producers []festival.Producer
	if err := json.Unmarshal(raw, &producers); err != nil {
		log.Printf("registry: redis cache for %s is unparseable, refetching: %v", festivalID, err)
		return nil, false
	}
	return producers, true
}

func (s *RegistryService) drinksToRedis(ctx context.Context, festivalID string, producers []festival.Producer) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(producers)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, redisDrinksKey(festivalID), raw, drinksCacheTTL).Err(); err != nil {
		log.Printf("registry: redis cache write for %s failed: %v", festivalID, err)
	}
}
