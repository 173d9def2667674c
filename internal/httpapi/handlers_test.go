package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/httpapi/middleware"
	"github.com/corwinhq/taskforge/internal/intake"
	jobstore "github.com/corwinhq/taskforge/internal/store/jobs"

	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/ratelimit"
	"github.com/corwinhq/taskforge/internal/registry"
)

const testSecret = "handlers-test-secret"

type fakeStore struct {
	jobs map[uuid.UUID]*domain.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: map[uuid.UUID]*domain.Job{}} }

func (f *fakeStore) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	f.jobs[job.ID] = job
	return nil
}
func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return f.jobs[id], nil
}
func (f *fakeStore) List(ctx context.Context, principalID uuid.UUID, filter jobstore.ListFilter) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		if j.PrincipalID != principalID {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}
func (f *fakeStore) ClaimNextPending(ctx context.Context, principalID uuid.UUID) (*domain.Job, error) {
	return nil, nil
}
func (f *fakeStore) ClaimAnyPending(ctx context.Context) (*domain.Job, error) { return nil, nil }
func (f *fakeStore) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, *domain.Job, error) {
	return false, nil, nil
}
func (f *fakeStore) Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON, completedAt time.Time) error {
	return nil
}
func (f *fakeStore) FailRetryable(ctx context.Context, id uuid.UUID, errMsg string, nextRetryAt time.Time) error {
	return nil
}
func (f *fakeStore) FailTerminal(ctx context.Context, id uuid.UUID, errMsg string, completedAt time.Time) error {
	return nil
}
func (f *fakeStore) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeStore) Heartbeat(ctx context.Context, id uuid.UUID, now time.Time) error {
	return nil
}
func (f *fakeStore) DeleteTerminalOlderThan(ctx context.Context, status domain.JobStatus, cutoff time.Time, batch int, dryRun bool) (int64, error) {
	return 0, nil
}

type fakeWindowStore struct {
	counts map[string]int
}

func (f *fakeWindowStore) CountInWindow(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	return f.counts[principalID.String()+"|"+jobType], nil
}
func (f *fakeWindowStore) Increment(ctx context.Context, principalID uuid.UUID, jobType string, windowStart time.Time) (int, error) {
	k := principalID.String() + "|" + jobType
	f.counts[k]++
	return f.counts[k], nil
}
func (f *fakeWindowStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func testToken(t *testing.T, subject string) string {
	t.Helper()
	claims := middleware.PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(t *testing.T, rateMax int) (*gin.Engine, *fakeStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	reg := registry.New()
	noop := func(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error) {
		return payload, nil
	}
	if err := reg.Register("flashcard_generation", noop, 3); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := newFakeStore()
	limiter := ratelimit.New(&fakeWindowStore{counts: map[string]int{}}, rateMax, time.Hour)
	in := intake.New(store, reg, limiter, nil, nil, nil, log, 3, 100, 20)

	cfg := RouterConfig{
		Handlers: NewHandlers(in),
		Auth:     middleware.NewAuth(testSecret, log),
		Log:      log,
	}
	return NewRouter(cfg), store
}

func TestCreateJobRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t, 20)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"type":"flashcard_generation","payload":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want=401 got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobHappyPath(t *testing.T) {
	router, store := newTestRouter(t, 20)
	principalID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"type":"flashcard_generation","payload":{"deck_id":"abc"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken(t, principalID.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("want=201 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(store.jobs) != 1 {
		t.Fatalf("expected one job created, got %d", len(store.jobs))
	}
}

func TestCreateJobUnknownTypeIsValidationError(t *testing.T) {
	router, _ := newTestRouter(t, 20)
	principalID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"type":"not_a_real_type","payload":{}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken(t, principalID.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want=400 got=%d body=%s", rec.Code, rec.Body.String())
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Code != "VALIDATION_ERROR" {
		t.Fatalf("want code=VALIDATION_ERROR got=%s", env.Code)
	}
}

func TestGetJobNotFoundForUnknownID(t *testing.T) {
	router, _ := newTestRouter(t, 20)
	principalID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.New().String(), nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, principalID.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("want=404 got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetJobNotFoundForMalformedID(t *testing.T) {
	router, _ := newTestRouter(t, 20)
	principalID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, principalID.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("want=404 got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListJobsOnlyReturnsOwnJobs(t *testing.T) {
	router, store := newTestRouter(t, 20)
	owner := uuid.New()
	stranger := uuid.New()
	store.jobs[uuid.New()] = &domain.Job{ID: uuid.New(), PrincipalID: owner, Type: "flashcard_generation", Status: domain.JobStatusPending}
	store.jobs[uuid.New()] = &domain.Job{ID: uuid.New(), PrincipalID: stranger, Type: "flashcard_generation", Status: domain.JobStatusPending}

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, owner.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Jobs []*domain.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Jobs) != 1 {
		t.Fatalf("expected only the caller's job, got %d", len(body.Jobs))
	}
}

func TestRetryJobRejectsNonFailedJob(t *testing.T) {
	router, store := newTestRouter(t, 20)
	principalID := uuid.New()
	jobID := uuid.New()
	store.jobs[jobID] = &domain.Job{ID: jobID, PrincipalID: principalID, Type: "flashcard_generation", Status: domain.JobStatusPending, MaxAttempts: 3}

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, principalID.String()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want=400 got=%d body=%s", rec.Code, rec.Body.String())
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Code != "INVALID_STATE" {
		t.Fatalf("want code=INVALID_STATE got=%s", env.Code)
	}
}

func TestInvalidBearerTokenIsUnauthorized(t *testing.T) {
	router, _ := newTestRouter(t, 20)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer garbage.not.a.jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want=401 got=%d body=%s", rec.Code, rec.Body.String())
	}
}
