package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sprintsheet/internal/config"
	"sprintsheet/internal/domain"
	"sprintsheet/internal/engine"
	"sprintsheet/internal/events"
	"sprintsheet/internal/report"
	sprintsheetsdk "sprintsheet/sdk/go"
)

type testServer struct {
	URL   string
	Logs  *syncBuffer
	close func()
}

func (s *testServer) Close() { s.close() }

// syncBuffer collects log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestServer(t *testing.T, reg domain.Registry, auth AuthConfig) *testServer {
	t.Helper()
	return newTestServerAt(t, reg, auth, "/v0")
}

func newTestServerAt(t *testing.T, reg domain.Registry, auth AuthConfig, basePath string) *testServer {
	t.Helper()
	logs := &syncBuffer{}
	e := engine.New(reg, events.NewLogger(logs, "info", "json"))
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: basePath, Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:  "http://" + ln.Addr().String(),
		Logs: logs,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func defaultRegistry() domain.Registry {
	return config.Default().Registry()
}

func TestPlanEndpoints(t *testing.T) {
	srv := newTestServer(t, defaultRegistry(), AuthConfig{})
	client := sprintsheetsdk.New(srv.URL)
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	sprints, err := client.Sprints(ctx)
	if err != nil {
		t.Fatalf("sprints: %v", err)
	}
	if len(sprints) != 8 || sprints[0].Number != 1 || sprints[7].Number != 8 {
		t.Fatalf("unexpected sprints: %+v", sprints)
	}
	tasks, err := client.Tasks(ctx, 0)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 31 || tasks[0].ID != "1.1" {
		t.Fatalf("unexpected tasks: %d first=%+v", len(tasks), tasks[0])
	}
	sprint6, err := client.Tasks(ctx, 6)
	if err != nil {
		t.Fatalf("tasks sprint 6: %v", err)
	}
	if len(sprint6) != 5 {
		t.Fatalf("sprint 6 tasks = %d, want 5", len(sprint6))
	}
	check, err := client.Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.OK || len(check.Problems) != 0 {
		t.Fatalf("default plan should be consistent: %+v", check)
	}
}

func TestReportDownload(t *testing.T) {
	srv := newTestServer(t, defaultRegistry(), AuthConfig{})
	client := sprintsheetsdk.New(srv.URL)
	var buf bytes.Buffer
	if _, err := client.DownloadReport(context.Background(), &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	ins, err := report.InspectReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if len(ins.Sheets) != 2 || ins.Sheets[0].Name != report.DetailSheet || ins.Sheets[1].Name != report.SummarySheet {
		t.Fatalf("unexpected sheets: %+v", ins.Sheets)
	}
	if ins.Sheets[0].DataRows != 31 || ins.Sheets[1].DataRows != 8 {
		t.Fatalf("unexpected row counts: %+v", ins.Sheets)
	}
}

func TestReportRefusesInconsistentPlan(t *testing.T) {
	reg := defaultRegistry()
	reg.Tasks[0].SprintNumber = 42
	srv := newTestServer(t, reg, AuthConfig{})
	client := sprintsheetsdk.New(srv.URL)
	_, err := client.DownloadReport(context.Background(), &bytes.Buffer{})
	var apiErr *sprintsheetsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal([]byte(apiErr.Body), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, apiErr.Body)
	}
	if envelope.Error.Code != "integrity_error" || envelope.Error.Details["task_id"] != "1.1" {
		t.Fatalf("unexpected envelope: %+v", envelope.Error)
	}
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv := newTestServer(t, defaultRegistry(), AuthConfig{JWTSecret: secret})
	ctx := context.Background()

	anon := sprintsheetsdk.New(srv.URL)
	if err := anon.Health(ctx); err != nil {
		t.Fatalf("health must stay open: %v", err)
	}
	_, err := anon.Sprints(ctx)
	var apiErr *sprintsheetsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	bad := sprintsheetsdk.New(srv.URL)
	bad.BearerToken = signToken(t, "other-secret", "tester")
	if _, err := bad.Sprints(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong signature, got %v", err)
	}

	authed := sprintsheetsdk.New(srv.URL)
	authed.BearerToken = signToken(t, secret, "tester")
	if _, err := authed.Sprints(ctx); err != nil {
		t.Fatalf("authorized request: %v", err)
	}
	if _, err := authed.DownloadReport(ctx, &bytes.Buffer{}); err != nil {
		t.Fatalf("authorized download: %v", err)
	}
	logs := srv.Logs.String()
	if !strings.Contains(logs, `"msg":"report.served"`) || !strings.Contains(logs, `"subject":"tester"`) {
		t.Fatalf("report.served event should carry the caller subject: %s", logs)
	}
}

func TestCustomBasePath(t *testing.T) {
	srv := newTestServerAt(t, defaultRegistry(), AuthConfig{}, "/api/tracking")
	client := sprintsheetsdk.New(srv.URL)
	client.BasePath = "/api/tracking/"
	ctx := context.Background()
	if err := client.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	sprints, err := client.Sprints(ctx)
	if err != nil || len(sprints) != 8 {
		t.Fatalf("sprints under custom base path: %d %v", len(sprints), err)
	}

	defaultClient := sprintsheetsdk.New(srv.URL)
	var apiErr *sprintsheetsdk.APIError
	if err := defaultClient.Health(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("v0 prefix should not be served, got %v", err)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOpenAPIDocumentConcurrentFirstRequests(t *testing.T) {
	srv := newTestServer(t, defaultRegistry(), AuthConfig{})
	const n = 8
	var wg sync.WaitGroup
	docs := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			var doc map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
				errs[i] = err
				return
			}
			paths, _ := doc["paths"].(map[string]any)
			if _, ok := paths["/v0/report.xlsx"]; !ok {
				errs[i] = errors.New("report path missing from document")
			}
			docs[i], _ = doc["openapi"].(string)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if docs[i] == "" || docs[i] != docs[0] {
			t.Fatalf("request %d returned a different document version %q", i, docs[i])
		}
	}
}
