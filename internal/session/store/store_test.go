package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/wire"
)

func wireSession(id string) *wire.Session {
	return &wire.Session{
		ID:        id,
		UserID:    "user-1",
		CoachID:   "coach-1",
		Topic:     "interview preparation",
		Status:    "requested",
		CreatedAt: "2026-09-01T10:00:00Z",
		UpdatedAt: "2026-09-01T10:00:00Z",
	}
}

func TestAPIClientCreate(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody wire.CreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(wireSession("sess-1"))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "secret", 0)
	created, err := client.Create(context.Background(), &domain.Session{
		UserID:  "user-1",
		CoachID: "coach-1",
		Topic:   "interview preparation",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if gotPath != "POST /sessions" {
		t.Errorf("expected POST /sessions, got %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotBody.Status != "requested" {
		t.Errorf("expected request status requested, got %s", gotBody.Status)
	}
	if created.ID != "sess-1" {
		t.Errorf("expected id sess-1, got %s", created.ID)
	}
	if created.Status != domain.StatusRequested {
		t.Errorf("expected status requested, got %s", created.Status)
	}
}

func TestAPIClientGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "", 0)
	s, err := client.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error for 404, got %v", err)
	}
	if s != nil {
		t.Errorf("expected nil session for 404, got %+v", s)
	}
}

func TestAPIClientGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "", 0)
	_, err := client.Get(context.Background(), "sess-1")
	if apperrors.CodeOf(err) != apperrors.CodeStore {
		t.Fatalf("expected EXTERNAL_STORE_ERROR, got %v", err)
	}
}

func TestAPIClientGetMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"sess-1","status":"requested","created_at":"not-a-time","updated_at":"2026-09-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "", 0)
	_, err := client.Get(context.Background(), "sess-1")
	if apperrors.CodeOf(err) != apperrors.CodeTransformation {
		t.Fatalf("expected TRANSFORMATION_ERROR, got %v", err)
	}
}

func TestAPIClientUnreachable(t *testing.T) {
	client := NewAPIClient("http://127.0.0.1:1", "", time.Second)
	_, err := client.Get(context.Background(), "sess-1")
	if apperrors.CodeOf(err) != apperrors.CodeStore {
		t.Fatalf("expected EXTERNAL_STORE_ERROR, got %v", err)
	}
}

func TestAPIClientPatch(t *testing.T) {
	var gotBody wire.UpdatePatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		ws := wireSession("sess-1")
		ws.Status = "accepted"
		json.NewEncoder(w).Encode(ws)
	}))
	defer srv.Close()

	status := domain.StatusAccepted
	client := NewAPIClient(srv.URL, "", 0)
	updated, err := client.Patch(context.Background(), "sess-1", Patch{
		Status:    &status,
		UpdatedAt: time.Date(2026, 9, 1, 10, 5, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if gotBody.Status == nil || *gotBody.Status != "accepted" {
		t.Errorf("expected patch status accepted, got %v", gotBody.Status)
	}
	if gotBody.StartTime != nil {
		t.Errorf("expected nil start_time in patch, got %v", *gotBody.StartTime)
	}
	if updated.Status != domain.StatusAccepted {
		t.Errorf("expected updated status accepted, got %s", updated.Status)
	}
}

func TestAPIClientPatchClearTimes(t *testing.T) {
	var gotBody wire.UpdatePatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		ws := wireSession("sess-1")
		ws.Status = "cancelled"
		ws.StartTime = nil
		ws.EndTime = nil
		json.NewEncoder(w).Encode(ws)
	}))
	defer srv.Close()

	status := domain.StatusCancelled
	client := NewAPIClient(srv.URL, "", 0)
	updated, err := client.Patch(context.Background(), "sess-1", Patch{
		Status:     &status,
		ClearTimes: true,
		UpdatedAt:  time.Date(2026, 9, 1, 10, 5, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !gotBody.ClearTimes {
		t.Error("expected clear_times in patch body")
	}
	if updated.StartTime != nil || updated.EndTime != nil {
		t.Error("expected cleared timed window on updated session")
	}
}

func TestAPIClientListByUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user_id") != "user-1" {
			t.Errorf("expected user_id=user-1, got %s", q.Get("user_id"))
		}
		if q.Get("page") != "2" || q.Get("limit") != "10" {
			t.Errorf("unexpected pagination params: %s", r.URL.RawQuery)
		}
		if q.Get("status") != "completed" {
			t.Errorf("expected status=completed, got %s", q.Get("status"))
		}
		json.NewEncoder(w).Encode(listResponse{
			Sessions: []*wire.Session{wireSession("sess-1"), wireSession("sess-2")},
			Total:    12,
			Page:     2,
		})
	}))
	defer srv.Close()

	client := NewAPIClient(srv.URL, "", 0)
	sessions, total, err := client.ListByUser(context.Background(), "user-1", ListQuery{
		Page: 2, Limit: 10, Status: domain.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if total != 12 {
		t.Errorf("expected total 12, got %d", total)
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ms := NewMemoryStore()
	created, err := ms.Create(context.Background(), &domain.Session{
		UserID:  "user-1",
		CoachID: "coach-1",
		Topic:   "career planning",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected assigned id")
	}
	if created.Status != domain.StatusRequested {
		t.Errorf("expected status requested, got %s", created.Status)
	}

	got, err := ms.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("expected stored session back, got %+v", got)
	}

	// Mutating the returned copy must not touch the stored session.
	got.Topic = "changed"
	again, _ := ms.Get(context.Background(), created.ID)
	if again.Topic != "career planning" {
		t.Errorf("stored session mutated through returned copy")
	}

	missing, err := ms.Get(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for missing id, got (%+v, %v)", missing, err)
	}
}

func TestMemoryStorePatch(t *testing.T) {
	ms := NewMemoryStore()
	created, _ := ms.Create(context.Background(), &domain.Session{
		UserID:  "user-1",
		CoachID: "coach-1",
		Topic:   "career planning",
	})

	status := domain.StatusInProgress
	start := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	updated, err := ms.Patch(context.Background(), created.ID, Patch{
		Status:    &status,
		StartTime: &start,
		UpdatedAt: start,
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Errorf("expected status in_progress, got %s", updated.Status)
	}
	if updated.StartTime == nil || !updated.StartTime.Equal(start) {
		t.Errorf("expected start time %v, got %v", start, updated.StartTime)
	}
	if updated.Topic != "career planning" {
		t.Errorf("untouched field changed: %s", updated.Topic)
	}

	cancelled := domain.StatusCancelled
	updated, err = ms.Patch(context.Background(), created.ID, Patch{
		Status:     &cancelled,
		ClearTimes: true,
		UpdatedAt:  start.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Patch clear: %v", err)
	}
	if updated.StartTime != nil || updated.EndTime != nil {
		t.Error("expected cleared timed window")
	}
	if updated.Status != domain.StatusCancelled {
		t.Errorf("expected status cancelled, got %s", updated.Status)
	}
}

func TestMemoryStoreListPagination(t *testing.T) {
	ms := NewMemoryStore()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	// Deterministic creation times so the newest-first order is fixed.
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		ms.now = func() time.Time { return at }
		if _, err := ms.Create(context.Background(), &domain.Session{
			UserID:  "user-1",
			CoachID: "coach-1",
			Topic:   "career planning",
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page1, total, err := ms.ListByUser(context.Background(), "user-1", ListQuery{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 sessions on page 1, got %d", len(page1))
	}
	if !page1[0].CreatedAt.After(page1[1].CreatedAt) {
		t.Errorf("expected newest first, got %v then %v", page1[0].CreatedAt, page1[1].CreatedAt)
	}

	page3, total, err := ms.ListByUser(context.Background(), "user-1", ListQuery{Page: 3, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser page 3: %v", err)
	}
	if total != 5 || len(page3) != 1 {
		t.Errorf("expected 1 session on page 3 of 5, got %d", len(page3))
	}

	empty, _, err := ms.ListByCoach(context.Background(), "other-coach", ListQuery{})
	if err != nil {
		t.Fatalf("ListByCoach: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no sessions for other coach, got %d", len(empty))
	}
}
