package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appannotations "github.com/YasodaLAE/transformer/internal/application/annotations"
	appdetections "github.com/YasodaLAE/transformer/internal/application/detections"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/infra/db/memory"
	"github.com/YasodaLAE/transformer/internal/infra/lock"
	"github.com/YasodaLAE/transformer/internal/infra/metrics"
	"github.com/YasodaLAE/transformer/internal/infra/storage"
	"github.com/YasodaLAE/transformer/internal/middleware"
)

const detectorOutput = `{
  "overall_status": "Faulty",
  "anomalies": [
    {"type": "FAULTY", "confidence": 0.9, "severity_score": 3, "location": {"x_min": 10, "y_min": 10, "x_max": 50, "y_max": 40}},
    {"type": "POTENTIALLY_FAULTY", "confidence": 0.5, "severity_score": 1, "location": {"x_min": 70, "y_min": 70, "x_max": 80, "y_max": 90}}
  ],
  "output_image_name": "annotated_1.jpg",
  "image_dimensions": {"original_width": 320, "original_height": 240}
}`

type stubSpawner struct{ calls int }

func (s *stubSpawner) SpawnAndCapture(context.Context, process.Request) (process.Result, error) {
	s.calls++
	return process.Result{Stdout: []byte(detectorOutput)}, nil
}

type testServer struct {
	srv  *httptest.Server
	root string
	id   int64
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "baseline-images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "baseline-images", "base.jpg"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "maint.jpg"), []byte("m"), 0o644))
	files, err := storage.NewFileSystem(root, "baseline-images")
	require.NoError(t, err)

	db := memory.NewDB()
	id := db.AddInspection("INSP-1")
	db.AddImage(id, "maint.jpg", inspections.ImageMaintenance)

	locker := lock.NewMemoryLocker()
	svc := Services{
		Annotations: &appannotations.Service{
			Repo:        memory.NewAnnotationRepository(db),
			Inspections: memory.NewInspectionRepository(db),
			Results:     memory.NewDetectionRepository(db),
			Locker:      locker,
		},
		Detections: &appdetections.Service{
			Inspections:      memory.NewInspectionRepository(db),
			Repo:             memory.NewDetectionRepository(db),
			Files:            files,
			Spawner:          &stubSpawner{},
			Locker:           locker,
			Command:          []string{"detector"},
			DefaultThreshold: 20,
		},
	}
	srv := httptest.NewServer(NewRouter(svc, opts))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, root: root, id: id}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[middleware.HealthStatus](t, resp)
	assert.Equal(t, "healthy", status.Status)

	resp = ts.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadinessOnlyGatesOnRequiredBackends(t *testing.T) {
	checks := middleware.NewChecks()
	checks.Require("database", middleware.CheckFunc(func(context.Context) error { return nil }))
	checks.Optional("minio", middleware.CheckFunc(func(context.Context) error { return errors.New("bucket unreachable") }))
	ts := newTestServer(t, Options{Health: checks})

	resp := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, middleware.StatusDegraded, decode[middleware.HealthStatus](t, resp).Status)

	resp = ts.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[middleware.HealthStatus](t, resp)
	assert.Contains(t, ready.Checks, "database")
	assert.NotContains(t, ready.Checks, "minio")

	checks.Drain()
	resp = ts.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetectThenSaveFlow(t *testing.T) {
	ts := newTestServer(t, Options{})
	base := "/api/inspections/" + itoa(ts.id)

	resp := ts.do(t, http.MethodPost, base+"/detect", `{"baselineFileName":"base.jpg","tempThresholdPercentage":15}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, "Faulty", result["overallStatus"])

	resp = ts.do(t, http.MethodGet, base+"/annotations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active := decode[[]*annotations.Annotation](t, resp)
	require.Len(t, active, 2)

	// keep the first box untouched, drop the second
	first := active[0]
	body := `{"finalAnnotations":[{"id":` + itoa(int64(first.ID)) + `,"x":10,"y":10,"width":40,"height":30,"faultType":"` +
		first.FaultType + `","userId":"alice"}]}`
	resp = ts.do(t, http.MethodPut, base+"/annotations", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[annotations.Summary](t, resp)
	assert.Equal(t, []annotations.ID{first.ID}, summary.Validated)
	assert.Equal(t, []annotations.ID{active[1].ID}, summary.Deleted)
	assert.Empty(t, summary.Added)

	resp = ts.do(t, http.MethodGet, base+"/annotations/log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode[[]map[string]any](t, resp)
	assert.Len(t, logs, 4)

	resp = ts.do(t, http.MethodGet, "/api/export/inspection/"+itoa(ts.id)+"/feedback-log", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), appannotations.ExportFileName(ts.id))
	records := decode[[]appannotations.FeedbackRecord](t, resp)
	assert.Len(t, records, 2)
}

func TestDetectionImage(t *testing.T) {
	ts := newTestServer(t, Options{})
	base := "/api/inspections/" + itoa(ts.id)

	resp := ts.do(t, http.MethodGet, base+"/detection/image", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(ts.root, "annotated_1.jpg"), []byte("jpeg"), 0o644))
	resp = ts.do(t, http.MethodPost, base+"/detect", `{"baselineFileName":"base.jpg"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/detection/image", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	resp = ts.do(t, http.MethodDelete, base+"/artifacts", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/detection", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"bad id", http.MethodGet, "/api/inspections/abc/annotations", "", http.StatusBadRequest, "InvalidArgument"},
		{"unknown inspection", http.MethodGet, "/api/inspections/999/annotations", "", http.StatusNotFound, "NotFound"},
		{"malformed body", http.MethodPut, "/api/inspections/" + itoa(ts.id) + "/annotations", "{", http.StatusBadRequest, "InvalidArgument"},
		{"baseline traversal", http.MethodPost, "/api/inspections/" + itoa(ts.id) + "/detect", `{"baselineFileName":"../x.jpg"}`, http.StatusBadRequest, "InvalidArgument"},
		{"missing baseline", http.MethodPost, "/api/inspections/" + itoa(ts.id) + "/detect", `{"baselineFileName":"nope.jpg"}`, http.StatusBadRequest, "InvalidArgument"},
		{"negative threshold", http.MethodPost, "/api/inspections/" + itoa(ts.id) + "/detect", `{"baselineFileName":"base.jpg","tempThresholdPercentage":-1}`, http.StatusBadRequest, "InvalidArgument"},
		{"no detection yet", http.MethodGet, "/api/inspections/" + itoa(ts.id) + "/detection", "", http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[errorBody](t, resp)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t, Options{APIKeys: map[string]string{"alice": "key-a"}})
	path := "/api/inspections/" + itoa(ts.id) + "/annotations"

	resp := ts.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, path, "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, path, "", "Authorization", "Bearer key-a")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// an unnamed box is attributed to the key owner
	resp = ts.do(t, http.MethodPut, path, `{"finalAnnotations":[{"x":1,"y":1,"width":2,"height":2,"faultType":"Loose Joint"}]}`,
		"Authorization", "Bearer key-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, path, "", "X-API-Key", "key-a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active := decode[[]*annotations.Annotation](t, resp)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].UserID)

	resp = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetectIsRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{RatePerMinute: 1, Burst: 1})
	path := "/api/inspections/" + itoa(ts.id) + "/detect"

	resp := ts.do(t, http.MethodPost, path, `{"baselineFileName":"base.jpg"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(t, http.MethodPost, path, `{"baselineFileName":"base.jpg"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// reads are not limited
	resp = ts.do(t, http.MethodGet, "/api/inspections/"+itoa(ts.id)+"/detection", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	ts := newTestServer(t, Options{Metrics: m})

	ts.do(t, http.MethodGet, "/api/inspections/"+itoa(ts.id)+"/annotations", "")
	resp := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `route="/api/inspections/{id}/annotations"`)
}

func TestTrainingRoutesAbsentWithoutService(t *testing.T) {
	ts := newTestServer(t, Options{})
	resp := ts.do(t, http.MethodPost, "/api/training/fine-tune", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
