package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"twentymin-coach/backend/internal/session/event"
)

// PushMessage is the body sent to the push gateway, which resolves recipient
// ids to device tokens.
type PushMessage struct {
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Event      string   `json:"event"`
	SessionID  string   `json:"session_id"`
}

// PushClient delivers session notifications through the push gateway.
type PushClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewPushClient returns a client for the push gateway at baseURL. Returns nil
// when baseURL is unset, so push delivery is optional in local setups.
func NewPushClient(baseURL, apiKey string) *PushClient {
	if baseURL == "" {
		return nil
	}
	return &PushClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Dispatch renders the event to a push message and posts it to the gateway.
// Events with no push rendering are skipped.
func (c *PushClient) Dispatch(ctx context.Context, p event.Payload) error {
	if c == nil {
		return nil
	}
	msg, ok := Render(p)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notifications", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("push: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// Render builds the push message for an event. The second return is false for
// events that produce no push notification.
func Render(p event.Payload) (PushMessage, bool) {
	topic := ""
	if p.Session != nil {
		topic = p.Session.Topic
	}
	msg := PushMessage{Event: p.Event, SessionID: p.SessionID}
	switch p.Event {
	case event.TypeSessionRequested:
		msg.Recipients = []string{p.CoachID}
		msg.Title = "New session request"
		msg.Body = fmt.Sprintf("You have a new session request: %s", topic)
	case event.TypeSessionAccepted:
		msg.Recipients = []string{p.UserID}
		msg.Title = "Session accepted"
		msg.Body = fmt.Sprintf("Your coach accepted your session: %s", topic)
	case event.TypeSessionStarted:
		msg.Recipients = []string{p.UserID}
		msg.Title = "Session started"
		msg.Body = "Your coaching session is now in progress"
	case event.TypeSessionEnded:
		msg.Recipients = []string{p.UserID, p.CoachID}
		msg.Title = "Session completed"
		if p.DurationMinutes != nil {
			msg.Body = fmt.Sprintf("Your session has ended after %d minutes", *p.DurationMinutes)
		} else {
			msg.Body = "Your session has ended"
		}
	case event.TypeSessionCancelled:
		msg.Recipients = []string{p.UserID, p.CoachID}
		msg.Title = "Session cancelled"
		if p.Reason != "" {
			msg.Body = fmt.Sprintf("Session cancelled: %s", p.Reason)
		} else {
			msg.Body = "Your session has been cancelled"
		}
	case event.TypeCoachRatingUpdated:
		msg.Recipients = []string{p.CoachID}
		msg.Title = "New rating received"
		if p.Rating != nil {
			msg.Body = fmt.Sprintf("You received a %d-star rating", *p.Rating)
		} else {
			msg.Body = "You received a new rating"
		}
	default:
		return PushMessage{}, false
	}
	return msg, true
}
