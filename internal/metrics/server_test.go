package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/tailguard/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "status.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerMetricsEndpoint(t *testing.T) {
	SetBuildInfo("test", "abc123", "now")
	s := NewServer("127.0.0.1:0", ServerOptions{})

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tailguard_build_info") {
		t.Error("metrics output missing tailguard_build_info")
	}
}

func TestServerHealth(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all healthy",
			checkers:   []Checker{NewSQLiteChecker(store.DB())},
			wantStatus: http.StatusOK,
			wantBody:   `"sqlite":"ok"`,
		},
		{
			name: "failing checker",
			checkers: []Checker{
				NewSQLiteChecker(store.DB()),
				CheckFunc{CheckName: "tailer", Fn: func(context.Context) error { return errors.New("tailer stopped") }},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `"tailer":"tailer stopped"`,
		},
		{
			name:       "nil database",
			checkers:   []Checker{NewSQLiteChecker(nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "database not initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("127.0.0.1:0", ServerOptions{Checkers: tt.checkers})
			rec := get(t, s.Handler(), "/healthz")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServerAlerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, rule := range []string{"ssh-password-login", "sudo", "ssh-password-login"} {
		err := store.AlertHistory().Create(ctx, &storage.AlertRecord{
			ID:        []string{"a1", "a2", "a3"}[i],
			RuleName:  rule,
			Severity:  "high",
			Subject:   "Automated message: SSH Login",
			Line:      "Accepted password for root",
			FilePath:  "/var/log/auth.log",
			Hostname:  "web-1",
			Delivered: true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	s := NewServer("127.0.0.1:0", ServerOptions{History: store.AlertHistory()})
	h := s.Handler()

	rec := get(t, h, "/api/v1/alerts?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var list alertListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 3 || len(list.Items) != 2 || list.Items[0].ID != "a3" {
		t.Errorf("list = %+v", list)
	}

	rec = get(t, h, "/api/v1/alerts?rule=sudo")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 || list.Items[0].RuleName != "sudo" {
		t.Errorf("filtered list = %+v", list)
	}

	rec = get(t, h, "/api/v1/alerts/a2")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rule_name":"sudo"`) {
		t.Errorf("get a2 = %d %s", rec.Code, rec.Body.String())
	}

	if rec := get(t, h, "/api/v1/alerts/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/api/v1/alerts?limit=0"); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", rec.Code)
	}
	if rec := get(t, h, "/api/v1/alerts?offset=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("offset=-1 = %d, want 400", rec.Code)
	}
}

func TestServerWithoutHistory(t *testing.T) {
	s := NewServer("127.0.0.1:0", ServerOptions{})

	if rec := get(t, s.Handler(), "/api/v1/alerts"); rec.Code != http.StatusNotFound {
		t.Errorf("alerts = %d, want 404", rec.Code)
	}
	if rec := get(t, s.Handler(), "/api/v1/status"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServerStatus(t *testing.T) {
	s := NewServer("127.0.0.1:0", ServerOptions{
		Status: func() any { return map[string]int{"lines": 42} },
	})

	rec := get(t, s.Handler(), "/api/v1/status")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"lines":42}` {
		t.Errorf("status = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}
