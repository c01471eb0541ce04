package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrReadOnly is returned when a controller-side directory is asked to claim
var ErrReadOnly = errors.New("directory is read-only")

// RemoteDirectory looks up player ids through a player's HTTP endpoint.
// It cannot claim ids.
type RemoteDirectory struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteDirectory creates a directory for the player serving baseURL
// (http://host:port)
func NewRemoteDirectory(baseURL string) *RemoteDirectory {
	return &RemoteDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Claim always fails: controllers must never create ids
func (d *RemoteDirectory) Claim(context.Context, string) error {
	return ErrReadOnly
}

// Exists asks the player whether it answers to id
func (d *RemoteDirectory) Exists(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/players/"+id, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "carousel/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("player lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	case http.StatusBadRequest:
		return false, fmt.Errorf("%w: %q", ErrInvalidFormat, id)
	default:
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

type playerResponse struct {
	ID string `json:"id"`
}

// Handler serves GET /players/{id} from dir: 200 when the player exists,
// 404 when it does not, 400 for malformed ids.
func Handler(dir Directory) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /players/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := Normalize(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		exists, err := dir.Exists(r.Context(), id)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if !exists {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(playerResponse{ID: id})
	})
	return mux
}
