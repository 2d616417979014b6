package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/wire"
)

const defaultTimeout = 15 * time.Second

// APIClient implements Store against the remote session API. Sessions travel
// in their wire form; the conversion happens at this boundary only.
type APIClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewAPIClient returns a client for the session API at baseURL. apiKey may be
// empty when the deployment does not require one.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &APIClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// listResponse is the wire envelope for session list endpoints.
type listResponse struct {
	Sessions []*wire.Session `json:"sessions"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
}

// Create posts a new session in requested state and returns the stored
// session with its assigned id and timestamps.
func (c *APIClient) Create(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	req := wire.CreateRequest{
		UserID:      s.UserID,
		CoachID:     s.CoachID,
		Topic:       s.Topic,
		Description: s.Description,
		Status:      string(domain.StatusRequested),
	}
	if s.ScheduledTime != nil {
		v := s.ScheduledTime.UTC().Format(time.RFC3339)
		req.ScheduledTime = &v
	}
	var out wire.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return wire.FromWire(&out)
}

// Get fetches the session for id, or (nil, nil) when the store has none.
func (c *APIClient) Get(ctx context.Context, id string) (*domain.Session, error) {
	var out wire.Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &out)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return wire.FromWire(&out)
}

// Patch applies a partial update and returns the stored session as updated.
func (c *APIClient) Patch(ctx context.Context, id string, p Patch) (*domain.Session, error) {
	body := wire.UpdatePatch{
		ClearTimes:         p.ClearTimes,
		Rating:             p.Rating,
		Feedback:           p.Feedback,
		UserNotes:          p.UserNotes,
		CoachNotes:         p.CoachNotes,
		CancellationReason: p.CancellationReason,
		UpdatedAt:          p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.Status != nil {
		v := string(*p.Status)
		body.Status = &v
	}
	if p.StartTime != nil {
		v := p.StartTime.UTC().Format(time.RFC3339)
		body.StartTime = &v
	}
	if p.EndTime != nil {
		v := p.EndTime.UTC().Format(time.RFC3339)
		body.EndTime = &v
	}
	var out wire.Session
	if err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return wire.FromWire(&out)
}

// ListByUser returns the user's sessions and the total count.
func (c *APIClient) ListByUser(ctx context.Context, userID string, q ListQuery) ([]*domain.Session, int, error) {
	return c.list(ctx, "user_id", userID, q)
}

// ListByCoach returns the coach's sessions and the total count.
func (c *APIClient) ListByCoach(ctx context.Context, coachID string, q ListQuery) ([]*domain.Session, int, error) {
	return c.list(ctx, "coach_id", coachID, q)
}

func (c *APIClient) list(ctx context.Context, party, id string, q ListQuery) ([]*domain.Session, int, error) {
	params := url.Values{}
	params.Set(party, id)
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/sessions?"+params.Encode(), nil, &out); err != nil {
		return nil, 0, err
	}
	sessions, err := wire.FromWireList(out.Sessions)
	if err != nil {
		return nil, 0, err
	}
	return sessions, out.Total, nil
}

// do performs one request and decodes the JSON response into out. Transport
// failures and non-2xx statuses wrap as EXTERNAL_STORE_ERROR preserving the
// status and body; an undecodable success body is a TRANSFORMATION_ERROR.
func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Store("encode request", err, map[string]any{"path": path})
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apperrors.Store("build request", err, map[string]any{"path": path})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Store("session store unreachable", err, map[string]any{"path": path})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return apperrors.Store(
			fmt.Sprintf("session store returned status %d", resp.StatusCode),
			nil,
			map[string]any{"path": path, "status": resp.StatusCode, "body": string(b)},
		)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Transformation("undecodable session store response", err,
			map[string]any{"path": path})
	}
	return nil
}

// isNotFound reports whether err is a store error for a 404 response.
func isNotFound(err error) bool {
	var e *apperrors.Error
	if !errors.As(err, &e) || e.Code != apperrors.CodeStore {
		return false
	}
	status, _ := e.Context["status"].(int)
	return status == http.StatusNotFound
}
