package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"portraitserver/internal/domain"
	"portraitserver/internal/domain/jsoncfg"
)

type fakeJobs struct {
	created []*domain.Job
	byID    map[string]*domain.Job
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.Job) error {
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.byID[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

type fakeAssets struct {
	assets []domain.Asset
}

func (f *fakeAssets) ListByGeneration(ctx context.Context, generationID string) ([]domain.Asset, error) {
	return f.assets, nil
}

type fakeSnapshots struct {
	snaps map[string]domain.WorkflowSnapshot
}

func (f *fakeSnapshots) Load(ctx context.Context, generationID string) (domain.WorkflowSnapshot, error) {
	snap, ok := f.snaps[generationID]
	if !ok {
		return domain.WorkflowSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeArtifacts struct {
	files map[string][]byte
}

func (f *fakeArtifacts) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeArtifacts) Read(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

type fakeFeed struct {
	enqueued []string
}

func (f *fakeFeed) Enqueue(ctx context.Context, jobID string) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func newTestApp() (*App, *fakeJobs, *fakeFeed) {
	jobs := &fakeJobs{byID: map[string]*domain.Job{}}
	feed := &fakeFeed{}
	app := &App{
		Jobs:      jobs,
		Assets:    &fakeAssets{},
		Snapshots: &fakeSnapshots{snaps: map[string]domain.WorkflowSnapshot{}},
		Artifacts: &fakeArtifacts{files: map[string][]byte{}},
		Feed:      feed,
		Logger:    zerolog.New(io.Discard),
	}
	return app, jobs, feed
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/generations", app.EnqueueGeneration)
	r.Get("/v1/generations/{id}/state", app.WorkflowState)
	r.Get("/v1/generations/{id}/assets", app.ListAssets)
	r.Get("/v1/generations/{id}/artifacts", app.DownloadArtifacts)
	r.Get("/v1/jobs/{id}", app.JobStatus)
	return r
}

func TestEnqueueGenerationStoresJobAndNotifies(t *testing.T) {
	app, jobs, feed := newTestApp()
	body := `{
		"person_id": "person-1",
		"reference_keys": ["selfie-1.png"],
		"style": {"preset": "business-formal"},
		"aspect_ratio": "3:4"
	}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(body))
	testRouter(app).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(jobs.created) != 1 {
		t.Fatalf("jobs created = %d, want 1", len(jobs.created))
	}
	job := jobs.created[0]
	if job.Status != domain.JobStatusQueued || job.PersonID != "person-1" {
		t.Fatalf("job = %+v", job)
	}
	if len(feed.enqueued) != 1 || feed.enqueued[0] != job.ID {
		t.Fatalf("feed = %v", feed.enqueued)
	}

	var parsed jsoncfg.PromptJSON
	if err := json.Unmarshal(job.PromptJSON, &parsed); err != nil {
		t.Fatalf("prompt json: %v", err)
	}
	if parsed.Style.Preset != "business-formal" {
		t.Fatalf("prompt json style = %+v", parsed.Style)
	}
	if parsed.MaxAttempts != jsoncfg.DefaultMaxAttempts {
		t.Fatalf("max attempts = %d, want normalized default", parsed.MaxAttempts)
	}
}

func TestEnqueueGenerationAppliesServerAttemptBudget(t *testing.T) {
	app, jobs, _ := newTestApp()
	app.MaxAttempts = 4

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "request without a budget gets the server default",
			body: `{"person_id": "p", "reference_keys": ["a.png"]}`,
			want: 4,
		},
		{
			name: "explicit budget wins",
			body: `{"person_id": "p", "reference_keys": ["a.png"], "max_attempts": 2}`,
			want: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(tc.body))
			testRouter(app).ServeHTTP(rec, req)
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var parsed jsoncfg.PromptJSON
			job := jobs.created[len(jobs.created)-1]
			if err := json.Unmarshal(job.PromptJSON, &parsed); err != nil {
				t.Fatalf("prompt json: %v", err)
			}
			if parsed.MaxAttempts != tc.want {
				t.Fatalf("max attempts = %d, want %d", parsed.MaxAttempts, tc.want)
			}
		})
	}
}

func TestEnqueueGenerationRejectsMissingFields(t *testing.T) {
	app, jobs, _ := newTestApp()
	tests := []string{
		`not json`,
		`{"reference_keys": ["a.png"]}`,
		`{"person_id": "p"}`,
	}
	for _, body := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(body))
		testRouter(app).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	if len(jobs.created) != 0 {
		t.Fatalf("invalid requests created jobs: %v", jobs.created)
	}
}

func TestJobStatusReportsProgress(t *testing.T) {
	app, jobs, _ := newTestApp()
	jobs.byID["job-1"] = &domain.Job{
		ID:           "job-1",
		GenerationID: "gen-1",
		Status:       domain.JobStatusRunning,
		Progress:     55,
		Message:      "Building the scene",
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	testRouter(app).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "running" || resp.Progress != 55 || resp.Message != "Building the scene" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestJobStatusUnknownJobIs404(t *testing.T) {
	app, _, _ := newTestApp()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	testRouter(app).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWorkflowStateExposesSnapshot(t *testing.T) {
	app, _, _ := newTestApp()
	app.Snapshots.(*fakeSnapshots).snaps["gen-1"] = domain.WorkflowSnapshot{
		GenerationID: "gen-1",
		JobID:        "job-1",
		Attempt:      2,
		State:        domain.StateRetrying,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/generations/gen-1/state", nil)
	testRouter(app).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap domain.WorkflowSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Attempt != 2 || snap.State != domain.StateRetrying {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDownloadArtifactsBuildsZip(t *testing.T) {
	app, _, _ := newTestApp()
	app.Artifacts.(*fakeArtifacts).files = map[string][]byte{
		"gen-1/attempt-01/person.png":      []byte("person bytes"),
		"gen-1/attempt-01/composition.png": []byte("composition bytes"),
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/generations/gen-1/artifacts", nil)
	testRouter(app).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("content type = %q", got)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("zip entries = %d, want 2", len(zr.File))
	}
}

func TestDownloadArtifactsEmptyGenerationIs404(t *testing.T) {
	app, _, _ := newTestApp()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/generations/gen-x/artifacts", nil)
	testRouter(app).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
