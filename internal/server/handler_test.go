package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
	"github.com/pvcarvalho/avaria-api/internal/config"
	"github.com/pvcarvalho/avaria-api/internal/job"
	"github.com/pvcarvalho/avaria-api/internal/platform/sqlite"
	"github.com/pvcarvalho/avaria-api/internal/progress"
	"github.com/pvcarvalho/avaria-api/internal/report"
	jobrepo "github.com/pvcarvalho/avaria-api/internal/repository/job"
	reportrepo "github.com/pvcarvalho/avaria-api/internal/repository/report"
)

type stubAnalyzer struct {
	result *analyzer.Result
	err    error
	block  chan struct{}
}

func (s *stubAnalyzer) Provider() string { return "stub" }

func (s *stubAnalyzer) Analyze(ctx context.Context, _ analyzer.Request) (*analyzer.Result, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

type fixture struct {
	ts       *httptest.Server
	reports  *report.Service
	runner   *job.Runner
	tracker  *progress.Tracker
	settings *config.Store
	stub     *stubAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	cfg.API.Provider = "stub"
	cfg.Processing.RetryDelaySeconds = 0
	settings := config.NewStore(filepath.Join(dir, "config.toml"), cfg)

	tracker := progress.NewTracker()
	reports := report.NewService(reportrepo.NewRepository(db.DB))
	jobs := jobrepo.NewRepository(db.DB)
	runner := job.NewRunner(context.Background(), tracker, reports, jobs, testLogger())

	stub := &stubAnalyzer{result: &analyzer.Result{
		Category: analyzer.CategoryDamage,
		Items:    []analyzer.Item{{Product: "Rice 5kg"}},
	}}
	registry := analyzer.NewRegistry()
	registry.Register(stub)

	ts := httptest.NewServer(NewHandler(Deps{
		Reports:  reports,
		Runner:   runner,
		Jobs:     jobs,
		Tracker:  tracker,
		Registry: registry,
		Settings: settings,
	}))
	t.Cleanup(ts.Close)

	return &fixture{
		ts:       ts,
		reports:  reports,
		runner:   runner,
		tracker:  tracker,
		settings: settings,
		stub:     stub,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeData[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var resp APIResponse[T]
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	res, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
}

func TestStatusEnvelope(t *testing.T) {
	f := newFixture(t)
	f.tracker.Reset(4, "Analyzing 4 images")
	f.tracker.ItemDone("a.jpg: damage")

	res, err := http.Get(f.ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /api/v1/status error = %v", err)
	}
	defer res.Body.Close()

	snap := decodeData[progress.Snapshot](t, res.Body)
	if snap.Code != progress.CodeRunning {
		t.Errorf("code = %s, want running", snap.Code)
	}
	if snap.Percent != 25 {
		t.Errorf("percent = %d, want 25", snap.Percent)
	}
	if len(snap.Logs) != 1 {
		t.Errorf("logs = %v, want one line", snap.Logs)
	}
}

func TestUploadAndServeImage(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "IMG-20240101-WA0001.jpg")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("fake-jpeg-bytes"))
	_ = mw.Close()

	res, err := http.Post(f.ts.URL+"/api/v1/uploads", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/v1/uploads error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", res.StatusCode)
	}

	saved := decodeData[uploadResponse](t, res.Body)
	if len(saved.Saved) != 1 || saved.Saved[0] != "IMG-20240101-WA0001.jpg" {
		t.Fatalf("saved = %v", saved.Saved)
	}

	imgRes, err := http.Get(f.ts.URL + "/images/IMG-20240101-WA0001.jpg")
	if err != nil {
		t.Fatalf("GET image error = %v", err)
	}
	defer imgRes.Body.Close()
	if imgRes.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d, want 200", imgRes.StatusCode)
	}
	etag := imgRes.Header.Get("ETag")
	if etag == "" {
		t.Fatal("image response has no ETag")
	}

	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/images/IMG-20240101-WA0001.jpg", nil)
	req.Header.Set("If-None-Match", etag)
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET error = %v", err)
	}
	defer cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", cached.StatusCode)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("files", "malware.exe")
	_, _ = part.Write([]byte("nope"))
	_ = mw.Close()

	res, err := http.Post(f.ts.URL+"/api/v1/uploads", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestUploadRejectsWholeBatchOnBadFile(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	img, _ := mw.CreateFormFile("files", "IMG-20240101-WA0007.jpg")
	_, _ = img.Write([]byte("fake image bytes"))
	bad, _ := mw.CreateFormFile("files", "malware.exe")
	_, _ = bad.Write([]byte("nope"))
	_ = mw.Close()

	res, err := http.Post(f.ts.URL+"/api/v1/uploads", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}

	// The valid file must not have been written before the batch was rejected.
	dir := f.settings.Current().Server.UploadDir
	if _, err := os.Stat(filepath.Join(dir, "IMG-20240101-WA0007.jpg")); !os.IsNotExist(err) {
		t.Errorf("rejected batch left IMG-20240101-WA0007.jpg on disk (stat err = %v)", err)
	}
}

func TestStartJobConflictWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.stub.block = make(chan struct{})
	defer close(f.stub.block)

	// One pending image so the first job stays running on the blocked stub.
	dir := f.settings.Current().Server.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := http.Post(f.ts.URL+"/api/v1/jobs", "application/json", nil)
	if err != nil {
		t.Fatalf("first POST /api/v1/jobs error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("first job status = %d, want 202", res.StatusCode)
	}

	res, err = http.Post(f.ts.URL+"/api/v1/jobs", "application/json", nil)
	if err != nil {
		t.Fatalf("second POST /api/v1/jobs error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Errorf("second job status = %d, want 409", res.StatusCode)
	}
}

func TestStartJobUnknownProvider(t *testing.T) {
	f := newFixture(t)

	body := strings.NewReader(`{"provider":"nope"}`)
	res, err := http.Post(f.ts.URL+"/api/v1/jobs", "application/json", body)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestReportCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []report.Row{
		{Category: analyzer.CategoryDamage, Product: "Rice 5kg", ImagePath: "a.jpg"},
		{Category: analyzer.CategoryError, Product: "b.jpg", Details: "timeout", ImagePath: "b.jpg"},
	}
	if err := f.reports.SaveRun(ctx, rows, []string{"a.jpg", "b.jpg"}, 42, "stub"); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	res, err := http.Get(f.ts.URL + "/api/v1/report?category=damage")
	if err != nil {
		t.Fatalf("GET report error = %v", err)
	}
	listed := decodeData[[]report.Row](t, res.Body)
	res.Body.Close()
	if len(listed) != 1 || listed[0].Product != "Rice 5kg" {
		t.Fatalf("listed = %+v", listed)
	}
	id := listed[0].ID

	patch := strings.NewReader(`{"note":"checked by hand"}`)
	req, _ := http.NewRequest(http.MethodPatch, fmt.Sprintf("%s/api/v1/report/%d", f.ts.URL, id), patch)
	req.Header.Set("Content-Type", "application/json")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH error = %v", err)
	}
	updated := decodeData[report.Row](t, res.Body)
	res.Body.Close()
	if updated.Note != "checked by hand" {
		t.Errorf("note = %q, want %q", updated.Note, "checked by hand")
	}

	move := strings.NewReader(`{"category":"internal_use"}`)
	res, err = http.Post(fmt.Sprintf("%s/api/v1/report/%d/move", f.ts.URL, id), "application/json", move)
	if err != nil {
		t.Fatalf("POST move error = %v", err)
	}
	moved := decodeData[report.Row](t, res.Body)
	res.Body.Close()
	if moved.Category != analyzer.CategoryInternalUse {
		t.Errorf("category = %s, want internal_use", moved.Category)
	}

	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/report/%d", f.ts.URL, id), nil)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", res.StatusCode)
	}
}

func TestReportCSV(t *testing.T) {
	f := newFixture(t)

	rows := []report.Row{{Category: analyzer.CategoryDamage, Product: "Rice, white, 5kg", ImagePath: "a.jpg"}}
	if err := f.reports.SaveRun(context.Background(), rows, nil, 0, "stub"); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	res, err := http.Get(f.ts.URL + "/api/v1/report?format=csv")
	if err != nil {
		t.Fatalf("GET csv error = %v", err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `"Rice, white, 5kg"`) {
		t.Errorf("csv does not quote comma field:\n%s", body)
	}
}

func TestConfigRedactsKeys(t *testing.T) {
	f := newFixture(t)

	cfg := f.settings.Current()
	cfg.API.GeminiAPIKey = "secret-key"
	if err := f.settings.Update(cfg); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	res, err := http.Get(f.ts.URL + "/api/v1/config")
	if err != nil {
		t.Fatalf("GET config error = %v", err)
	}
	got := decodeData[config.Config](t, res.Body)
	res.Body.Close()
	if got.API.GeminiAPIKey != redactedKey {
		t.Errorf("gemini key = %q, want redacted", got.API.GeminiAPIKey)
	}

	// Sending the masked value back keeps the stored key.
	got.Processing.Workers = 8
	payload, _ := json.Marshal(got)
	req, _ := http.NewRequest(http.MethodPut, f.ts.URL+"/api/v1/config", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", res.StatusCode)
	}

	after := f.settings.Current()
	if after.API.GeminiAPIKey != "secret-key" {
		t.Errorf("stored key = %q, masked PUT must not clobber it", after.API.GeminiAPIKey)
	}
	if after.Processing.Workers != 8 {
		t.Errorf("workers = %d, want 8", after.Processing.Workers)
	}
}

func TestConfigRejectsInvalidProcessing(t *testing.T) {
	f := newFixture(t)

	cfg := f.settings.Current()
	cfg.Processing.Workers = 0
	payload, _ := json.Marshal(cfg)
	req, _ := http.NewRequest(http.MethodPut, f.ts.URL+"/api/v1/config", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	dir := f.settings.Current().Server.UploadDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.jpg", "b.jpg", "c.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rows := []report.Row{{Category: analyzer.CategoryDamage, Product: "p", ImagePath: "a.jpg"}}
	if err := f.reports.SaveRun(context.Background(), rows, []string{"a.jpg"}, 30, "stub"); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	res, err := http.Get(f.ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	defer res.Body.Close()

	stats := decodeData[report.Stats](t, res.Body)
	if stats.ImagesTotal != 3 {
		t.Errorf("imagesTotal = %d, want 3", stats.ImagesTotal)
	}
	if stats.ImagesProcessed != 1 || stats.ImagesPending != 2 {
		t.Errorf("processed/pending = %d/%d, want 1/2", stats.ImagesProcessed, stats.ImagesPending)
	}
	if stats.TokensToday != 30 {
		t.Errorf("tokensToday = %d, want 30", stats.TokensToday)
	}
	if stats.DamageRows != 1 {
		t.Errorf("damageRows = %d, want 1", stats.DamageRows)
	}
	if stats.LastRun.IsZero() {
		t.Error("lastRun is zero after a run")
	}
}
