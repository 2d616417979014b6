package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"twentymin-coach/backend/internal/apperrors"
	"twentymin-coach/backend/internal/auth"
	"twentymin-coach/backend/internal/auth/policy"
	"twentymin-coach/backend/internal/eventbus"
	"twentymin-coach/backend/internal/session/domain"
	"twentymin-coach/backend/internal/session/event"
	"twentymin-coach/backend/internal/session/store"
	"twentymin-coach/backend/internal/session/validate"
	"twentymin-coach/backend/internal/subscription"
)

// recorder collects published events in order.
type recorder struct {
	mu     sync.Mutex
	events []event.Payload
}

func (r *recorder) handle(ctx context.Context, payload any) error {
	p, ok := payload.(event.Payload)
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

func (r *recorder) last() event.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	lifecycle *Lifecycle
	store     *store.MemoryStore
	events    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authz, err := policy.NewOPAAuthorizer()
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	bus := eventbus.New()
	rec := &recorder{}
	for _, typ := range event.Types {
		bus.Subscribe(typ, rec.handle)
	}
	ms := store.NewMemoryStore()
	l := NewLifecycle(ms, validate.NewSessionValidator(), bus, authz, subscription.StaticQuota{Sessions: 5})
	return &fixture{lifecycle: l, store: ms, events: rec}
}

func userCtx(userID string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UserID: userID, Role: auth.RoleUser})
}

func coachCtx(coachID string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UserID: coachID, Role: auth.RoleCoach})
}

func adminCtx() context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin})
}

func createSession(t *testing.T, f *fixture) *domain.Session {
	t.Helper()
	s, err := f.lifecycle.CreateSession(userCtx("user-1"), CreateInput{
		CoachID: "coach-1",
		Topic:   "interview preparation",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

// forceStatus seeds a session directly into the given status, bypassing the
// lifecycle, so transition checks can be exercised from any starting point.
func forceStatus(t *testing.T, f *fixture, id string, status domain.Status) {
	t.Helper()
	if _, err := f.store.Patch(context.Background(), id, store.Patch{
		Status: &status, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed status %s: %v", status, err)
	}
}

// seedBadTopic inserts a session whose topic breaks the length rule directly
// into the store, so post-transition validation has something to reject.
func seedBadTopic(t *testing.T, f *fixture, status domain.Status) *domain.Session {
	t.Helper()
	s, err := f.store.Create(context.Background(), &domain.Session{
		UserID:  "user-1",
		CoachID: "coach-1",
		Topic:   "bad",
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if status != domain.StatusRequested {
		forceStatus(t, f, s.ID, status)
	}
	return s
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)

	s := createSession(t, f)
	if s.Status != domain.StatusRequested {
		t.Fatalf("expected requested, got %s", s.Status)
	}

	s, err := f.lifecycle.AcceptSession(coachCtx("coach-1"), s.ID)
	if err != nil {
		t.Fatalf("AcceptSession: %v", err)
	}
	if s.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s", s.Status)
	}

	s, err = f.lifecycle.StartSession(coachCtx("coach-1"), s.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status)
	}
	if s.StartTime == nil || s.EndTime == nil {
		t.Fatal("expected start and end times set")
	}
	if got := s.EndTime.Sub(*s.StartTime); got != domain.SessionCeiling {
		t.Errorf("expected window of %v, got %v", domain.SessionCeiling, got)
	}

	s, err = f.lifecycle.EndSession(coachCtx("coach-1"), s.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if s.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}

	s, err = f.lifecycle.RateSession(userCtx("user-1"), s.ID, 5, "great advice")
	if err != nil {
		t.Fatalf("RateSession: %v", err)
	}
	if s.Rating != 5 || s.Feedback != "great advice" {
		t.Errorf("rating not recorded: %d %q", s.Rating, s.Feedback)
	}

	want := []string{
		event.TypeSessionRequested,
		event.TypeSessionAccepted,
		event.TypeSessionStarted,
		event.TypeSessionEnded,
		event.TypeCoachRatingUpdated,
	}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	last := f.events.last()
	if last.Rating == nil || *last.Rating != 5 {
		t.Errorf("rating event missing rating: %+v", last)
	}
}

func TestStartSessionFixesTimedWindow(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	f.lifecycle.now = func() time.Time { return at }

	s := createSession(t, f)
	forceStatus(t, f, s.ID, domain.StatusAccepted)

	s, err := f.lifecycle.StartSession(coachCtx("coach-1"), s.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !s.StartTime.Equal(at) {
		t.Errorf("expected start %v, got %v", at, s.StartTime)
	}
	if !s.EndTime.Equal(at.Add(domain.SessionCeiling)) {
		t.Errorf("expected end %v, got %v", at.Add(domain.SessionCeiling), s.EndTime)
	}
}

func TestEndSessionPublishesDuration(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	f.lifecycle.now = func() time.Time { return at }

	s := createSession(t, f)
	forceStatus(t, f, s.ID, domain.StatusAccepted)
	if _, err := f.lifecycle.StartSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	f.lifecycle.now = func() time.Time { return at.Add(18 * time.Minute) }
	if _, err := f.lifecycle.EndSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	last := f.events.last()
	if last.Event != event.TypeSessionEnded {
		t.Fatalf("expected session-ended, got %s", last.Event)
	}
	if last.DurationMinutes == nil || *last.DurationMinutes != 18 {
		t.Errorf("expected duration 18, got %v", last.DurationMinutes)
	}
}

func TestIllegalTransitionMatrix(t *testing.T) {
	type op struct {
		name string
		call func(f *fixture, id string) error
	}
	ops := []struct {
		op   op
		from []domain.Status // statuses from which the operation is legal
	}{
		{op{"accept", func(f *fixture, id string) error {
			_, err := f.lifecycle.AcceptSession(adminCtx(), id)
			return err
		}}, []domain.Status{domain.StatusRequested}},
		{op{"start", func(f *fixture, id string) error {
			_, err := f.lifecycle.StartSession(adminCtx(), id)
			return err
		}}, []domain.Status{domain.StatusAccepted}},
		{op{"end", func(f *fixture, id string) error {
			_, err := f.lifecycle.EndSession(adminCtx(), id)
			return err
		}}, []domain.Status{domain.StatusInProgress}},
		{op{"cancel", func(f *fixture, id string) error {
			_, err := f.lifecycle.CancelSession(adminCtx(), id, "test")
			return err
		}}, []domain.Status{domain.StatusRequested, domain.StatusAccepted, domain.StatusInProgress}},
		{op{"reject", func(f *fixture, id string) error {
			_, err := f.lifecycle.RejectSession(adminCtx(), id, "test")
			return err
		}}, []domain.Status{domain.StatusRequested}},
	}

	for _, tc := range ops {
		for _, from := range domain.Statuses {
			legal := false
			for _, ok := range tc.from {
				if ok == from {
					legal = true
				}
			}
			t.Run(tc.op.name+"/from_"+string(from), func(t *testing.T) {
				f := newFixture(t)
				s := createSession(t, f)
				forceStatus(t, f, s.ID, from)

				err := tc.op.call(f, s.ID)
				if legal && err != nil {
					t.Errorf("expected %s from %s to succeed, got %v", tc.op.name, from, err)
				}
				if !legal && apperrors.CodeOf(err) != apperrors.CodeInvalidTransition {
					t.Errorf("expected INVALID_TRANSITION for %s from %s, got %v", tc.op.name, from, err)
				}
			})
		}
	}
}

func TestCanTransition(t *testing.T) {
	legal := map[domain.Status][]domain.Status{
		domain.StatusRequested:  {domain.StatusAccepted, domain.StatusCancelled},
		domain.StatusAccepted:   {domain.StatusInProgress, domain.StatusCancelled},
		domain.StatusInProgress: {domain.StatusCompleted, domain.StatusCancelled},
	}
	for _, from := range domain.Statuses {
		for _, to := range domain.Statuses {
			want := false
			for _, l := range legal[from] {
				if l == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if NextStatuses(domain.StatusCompleted) != nil {
		t.Error("expected no next statuses from completed")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.CreateSession(userCtx("user-1"), CreateInput{
		CoachID: "coach-1",
		Topic:   "abc", // below the 5-char minimum
	})
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateSessionQuotaExhausted(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.quota = subscription.StaticQuota{Sessions: 0}
	_, err := f.lifecycle.CreateSession(userCtx("user-1"), CreateInput{
		CoachID: "coach-1",
		Topic:   "interview preparation",
	})
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for exhausted quota, got %v", err)
	}
	if len(f.events.types()) != 0 {
		t.Errorf("no events expected on failed create, got %v", f.events.types())
	}
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	s := createSession(t, f)

	// No identity at all.
	if _, err := f.lifecycle.AcceptSession(context.Background(), s.ID); apperrors.CodeOf(err) != apperrors.CodeAuthRequired {
		t.Errorf("expected AUTH_REQUIRED, got %v", err)
	}
	// A different coach.
	if _, err := f.lifecycle.AcceptSession(coachCtx("coach-2"), s.ID); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED for other coach, got %v", err)
	}
	// The user cannot start the session.
	forceStatus(t, f, s.ID, domain.StatusAccepted)
	if _, err := f.lifecycle.StartSession(userCtx("user-1"), s.ID); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED for user start, got %v", err)
	}
	// A stranger cannot view it.
	if _, err := f.lifecycle.GetSession(userCtx("user-9"), s.ID); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED for stranger view, got %v", err)
	}
	// Both participants can.
	if _, err := f.lifecycle.GetSession(userCtx("user-1"), s.ID); err != nil {
		t.Errorf("owner view failed: %v", err)
	}
	if _, err := f.lifecycle.GetSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Errorf("coach view failed: %v", err)
	}
}

func TestRateSessionRules(t *testing.T) {
	f := newFixture(t)
	s := createSession(t, f)

	// Not completed yet.
	if _, err := f.lifecycle.RateSession(userCtx("user-1"), s.ID, 5, ""); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for non-completed session, got %v", err)
	}

	forceStatus(t, f, s.ID, domain.StatusCompleted)

	// Out of range.
	if _, err := f.lifecycle.RateSession(userCtx("user-1"), s.ID, 6, ""); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for rating 6, got %v", err)
	}
	if _, err := f.lifecycle.RateSession(userCtx("user-1"), s.ID, 0, ""); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for rating 0, got %v", err)
	}
	// The coach cannot rate.
	if _, err := f.lifecycle.RateSession(coachCtx("coach-1"), s.ID, 4, ""); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED for coach rating, got %v", err)
	}
	// Valid rating.
	if _, err := f.lifecycle.RateSession(userCtx("user-1"), s.ID, 4, "helpful"); err != nil {
		t.Fatalf("RateSession: %v", err)
	}
	// Second rating is rejected.
	if _, err := f.lifecycle.RateSession(userCtx("user-1"), s.ID, 2, ""); apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR for re-rating, got %v", err)
	}
}

func TestValidationFailureAbortsBeforePersisting(t *testing.T) {
	cases := []struct {
		name string
		from domain.Status
		call func(f *fixture, id string) error
	}{
		{"accept", domain.StatusRequested, func(f *fixture, id string) error {
			_, err := f.lifecycle.AcceptSession(coachCtx("coach-1"), id)
			return err
		}},
		{"cancel", domain.StatusRequested, func(f *fixture, id string) error {
			_, err := f.lifecycle.CancelSession(userCtx("user-1"), id, "changed plans")
			return err
		}},
		{"start", domain.StatusAccepted, func(f *fixture, id string) error {
			_, err := f.lifecycle.StartSession(coachCtx("coach-1"), id)
			return err
		}},
		{"end", domain.StatusInProgress, func(f *fixture, id string) error {
			_, err := f.lifecycle.EndSession(coachCtx("coach-1"), id)
			return err
		}},
		{"rate", domain.StatusCompleted, func(f *fixture, id string) error {
			_, err := f.lifecycle.RateSession(userCtx("user-1"), id, 4, "helpful")
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := seedBadTopic(t, f, tc.from)

			err := tc.call(f, s.ID)
			if apperrors.CodeOf(err) != apperrors.CodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}

			stored, err := f.store.Get(context.Background(), s.ID)
			if err != nil || stored == nil {
				t.Fatalf("Get after aborted %s: %v", tc.name, err)
			}
			if stored.Status != tc.from {
				t.Errorf("stored status changed from %s to %s", tc.from, stored.Status)
			}
			if stored.Rating != 0 {
				t.Errorf("stored rating changed to %d", stored.Rating)
			}
			if got := f.events.types(); len(got) != 0 {
				t.Errorf("no events expected on aborted %s, got %v", tc.name, got)
			}
		})
	}
}

func TestCancelInProgressClearsTimedWindow(t *testing.T) {
	f := newFixture(t)
	s := createSession(t, f)
	if _, err := f.lifecycle.AcceptSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Fatalf("AcceptSession: %v", err)
	}
	if _, err := f.lifecycle.StartSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	cancelled, err := f.lifecycle.CancelSession(userCtx("user-1"), s.ID, "emergency")
	if err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.StartTime != nil || cancelled.EndTime != nil {
		t.Error("cancelled session must not carry a timed window")
	}

	stored, err := f.store.Get(context.Background(), s.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.StartTime != nil || stored.EndTime != nil {
		t.Error("stored cancelled session still carries a timed window")
	}
	if stored.CancellationReason != "emergency" {
		t.Errorf("expected cancellation reason, got %q", stored.CancellationReason)
	}
	if err := validate.NewSessionValidator().Validate(stored); err != nil {
		t.Errorf("stored cancelled session fails validation: %v", err)
	}
}

func TestEndOverrunSessionClampsToCeiling(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	f.lifecycle.now = func() time.Time { return at }

	s := createSession(t, f)
	forceStatus(t, f, s.ID, domain.StatusAccepted)
	if _, err := f.lifecycle.StartSession(coachCtx("coach-1"), s.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Ended well past the fixed window.
	f.lifecycle.now = func() time.Time { return at.Add(35 * time.Minute) }
	done, err := f.lifecycle.EndSession(coachCtx("coach-1"), s.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got := done.Duration(); got != domain.SessionCeiling {
		t.Errorf("expected duration clamped to %v, got %v", domain.SessionCeiling, got)
	}
	if err := validate.NewSessionValidator().Validate(done); err != nil {
		t.Errorf("completed overrun session fails validation: %v", err)
	}
	last := f.events.last()
	want := int(domain.SessionCeiling / time.Minute)
	if last.DurationMinutes == nil || *last.DurationMinutes != want {
		t.Errorf("expected published duration %d, got %v", want, last.DurationMinutes)
	}
}

func TestStartSessionRequiresUnstartedSession(t *testing.T) {
	f := newFixture(t)
	s := createSession(t, f)
	forceStatus(t, f, s.ID, domain.StatusAccepted)

	earlier := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if _, err := f.store.Patch(context.Background(), s.ID, store.Patch{
		StartTime: &earlier, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed start time: %v", err)
	}

	_, err := f.lifecycle.StartSession(coachCtx("coach-1"), s.ID)
	if apperrors.CodeOf(err) != apperrors.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for already-started session, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.GetSession(adminCtx(), "missing")
	if apperrors.CodeOf(err) != apperrors.CodeStore {
		t.Fatalf("expected EXTERNAL_STORE_ERROR, got %v", err)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		createSession(t, f)
	}

	list, err := f.lifecycle.ListUserSessions(userCtx("user-1"), "user-1", Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if list.Total != 3 || len(list.Sessions) != 2 {
		t.Errorf("expected total 3 with 2 on page, got %d/%d", list.Total, len(list.Sessions))
	}

	// Listing someone else's sessions is denied.
	if _, err := f.lifecycle.ListUserSessions(userCtx("user-2"), "user-1", Page{}); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED, got %v", err)
	}

	coachList, err := f.lifecycle.ListCoachSessions(coachCtx("coach-1"), "coach-1", Page{})
	if err != nil {
		t.Fatalf("ListCoachSessions: %v", err)
	}
	if coachList.Total != 3 {
		t.Errorf("expected coach total 3, got %d", coachList.Total)
	}
}

func TestConcurrentStartOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	s := createSession(t, f)
	forceStatus(t, f, s.ID, domain.StatusAccepted)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.lifecycle.StartSession(coachCtx("coach-1"), s.ID)
		}(i)
	}
	wg.Wait()

	var ok, invalid int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.CodeOf(err) == apperrors.CodeInvalidTransition:
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d invalid=%d (%v)", ok, invalid, errs)
	}

	got, _ := f.store.Get(context.Background(), s.ID)
	if got.Status != domain.StatusInProgress {
		t.Errorf("expected in_progress after race, got %s", got.Status)
	}
}
