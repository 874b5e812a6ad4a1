package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"festLogAPI/internal/types/apperr"
	"festLogAPI/internal/types/favorite"
)

// HTTPRemote talks to the backend's /api/v1/sync endpoints. The device
// authenticates with its anonymous device key (or a bearer token once the
// identity has been claimed).
type HTTPRemote struct {
	baseURL   string
	deviceKey string
	bearer    string
	client    *http.Client
}

func NewHTTPRemote(baseURL, deviceKey string) *HTTPRemote {
	return &HTTPRemote{
		baseURL:   baseURL,
		deviceKey: deviceKey,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBearer switches authentication to a persistent identity token.
func (r *HTTPRemote) SetBearer(token string) {
	r.bearer = token
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &apperr.NetworkError{Op: method + " " + path, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, &buf)
	if err != nil {
		return &apperr.NetworkError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	} else {
		req.Header.Set("X-Device-Key", r.deviceKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &apperr.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apperr.NetworkError{Op: method + " " + path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &apperr.NetworkError{Op: method + " " + path, Err: err}
		}
	}
	return nil
}

type pushRequest struct {
	DeviceID string            `json:"device_id"`
	Snapshot favorite.Snapshot `json:"snapshot"`
}

type snapshotResponse struct {
	FestivalID string            `json:"festival_id"`
	Snapshot   favorite.Snapshot `json:"snapshot"`
}

func (r *HTTPRemote) Push(ctx context.Context, festivalID, deviceID string, snap favorite.Snapshot) (favorite.Snapshot, error) {
	var out snapshotResponse
	path := "/api/v1/sync/" + url.PathEscape(festivalID)
	if err := r.do(ctx, http.MethodPost, path, pushRequest{DeviceID: deviceID, Snapshot: snap}, &out); err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}

func (r *HTTPRemote) Pull(ctx context.Context, festivalID string) (favorite.Snapshot, error) {
	var out snapshotResponse
	path := "/api/v1/sync/" + url.PathEscape(festivalID)
	if err := r.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}
