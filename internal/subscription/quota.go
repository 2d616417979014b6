// Package subscription exposes the user's session allowance, backed by the
// subscription API. The lifecycle consults it before creating a session.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"twentymin-coach/backend/internal/apperrors"
)

// Quota answers how many sessions a user may still book under their plan.
type Quota interface {
	AvailableSessions(ctx context.Context, userID string) (int, error)
}

// APIQuota queries the subscription API for the remaining allowance.
type APIQuota struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewAPIQuota returns a quota client for the subscription API at baseURL.
func NewAPIQuota(baseURL, apiKey string, timeout time.Duration) *APIQuota {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &APIQuota{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type allowanceResponse struct {
	UserID            string `json:"user_id"`
	AvailableSessions int    `json:"available_sessions"`
}

// AvailableSessions returns the user's remaining session allowance.
func (q *APIQuota) AvailableSessions(ctx context.Context, userID string) (int, error) {
	endpoint := q.BaseURL + "/subscriptions/" + url.PathEscape(userID) + "/allowance"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, apperrors.Store("build allowance request", err, map[string]any{"user_id": userID})
	}
	if q.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+q.APIKey)
	}
	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		return 0, apperrors.Store("subscription service unreachable", err, map[string]any{"user_id": userID})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, apperrors.Store(
			fmt.Sprintf("subscription service returned status %d", resp.StatusCode),
			nil,
			map[string]any{"user_id": userID, "status": resp.StatusCode, "body": string(b)},
		)
	}
	var out allowanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, apperrors.Transformation("undecodable allowance response", err,
			map[string]any{"user_id": userID})
	}
	return out.AvailableSessions, nil
}

// StaticQuota grants every user the same fixed allowance. Used in local
// development where no subscription service runs.
type StaticQuota struct {
	Sessions int
}

// AvailableSessions returns the fixed allowance.
func (q StaticQuota) AvailableSessions(ctx context.Context, userID string) (int, error) {
	return q.Sessions, nil
}
