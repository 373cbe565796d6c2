package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// Directory resolves a user id to contact details. User management lives
// in a separate service; this is its interface boundary.
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

type HTTPDirectory struct {
	baseURL string
	http    *http.Client
}

func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/users/"+userID.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup user %s: status %d", userID, resp.StatusCode)
	}

	var contact Contact
	if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
		return nil, fmt.Errorf("lookup user %s: decode: %w", userID, err)
	}
	return &contact, nil
}
