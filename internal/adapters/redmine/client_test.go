package redmine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/rs/zerolog"
)

func testClient(baseURL string) *Client {
	cfg := config.Config{
		RedmineBaseURL: baseURL,
		RedmineAPIKey:  "secret",
		RedmineTimeout: 2 * time.Second,
		MaxRetries:     3,
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestIssues_QueryAndAuthHeader(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-Redmine-API-Key")
		w.Write([]byte(`{"issues":[{"id":1,"subject":"a","status":{"id":1,"name":"New"},"estimated_hours":4.5}],"total_count":1,"offset":0,"limit":100}`))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).Issues(context.Background(), IssueQuery{
		ProjectID:    "demo",
		VersionID:    7,
		Limit:        100,
		Journals:     true,
		Children:     true,
		UpdatedSince: "2025-08-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/issues.json" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("API key header = %q", gotKey)
	}
	for _, want := range []string{"project_id=demo", "fixed_version_id=7", "status_id=%2A", "include=journals%2Cchildren", "limit=100"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if len(page.Issues) != 1 || page.TotalCount != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Issues[0].EstimatedHours == nil || *page.Issues[0].EstimatedHours != 4.5 {
		t.Errorf("estimated hours not decoded: %+v", page.Issues[0])
	}
}

func TestDoJSON_RetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"projects":[{"id":1,"identifier":"demo","name":"Demo"}],"total_count":1}`))
	}))
	defer srv.Close()

	ps, err := testClient(srv.URL).Projects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(ps) != 1 || ps[0].Identifier != "demo" {
		t.Fatalf("unexpected projects: %+v", ps)
	}
}

func TestDoJSON_NoRetryOnClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":["bad key"]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Project(context.Background(), "demo")
	if err == nil {
		t.Fatal("want error on 401")
	}
	if attempts != 1 {
		t.Errorf("4xx must not be retried: attempts = %d", attempts)
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Errorf("error should carry the status: %v", err)
	}
}

func TestCheckConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects.json":
			w.Write([]byte(`{"projects":[{"id":1},{"id":2}],"total_count":2}`))
		case "/issue_statuses.json":
			w.Write([]byte(`{"issue_statuses":[{"id":1,"name":"New"},{"id":5,"name":"Closed"},{"id":6,"name":"Rejected"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	projects, statuses, err := testClient(srv.URL).CheckConnection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if projects != 2 || statuses != 3 {
		t.Errorf("got %d projects / %d statuses, want 2 / 3", projects, statuses)
	}
}
