package loki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestQueryProcessLogs_MergesStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/query_range" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query().Get("query")
		for _, want := range []string{`namespace="bkapp-app1-stag"`, `app="bkapp-app1-stag"`, `process_type="web"`} {
			if !strings.Contains(q, want) {
				t.Errorf("query %q missing %s", q, want)
			}
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q, want 100", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"data": {
				"resultType": "streams",
				"result": [
					{"stream": {}, "values": [["1700000000000000000", "line1"], ["1700000002000000000", "line3"]]},
					{"stream": {}, "values": [["1700000001000000000", "line2"], ["bad", "dropped"]]}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	logs, err := c.QueryProcessLogs(context.Background(), "bkapp-app1-stag", "bkapp-app1-stag", "web", time.Unix(0, 0), time.Now(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "line1\nline2\nline3\n"; logs != want {
		t.Errorf("got %q, want %q", logs, want)
	}
}

func TestQueryProcessLogs_AllProcesses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		if strings.Contains(q, "process_type") {
			t.Errorf("unexpected process_type selector: %q", q)
		}
		if got := r.URL.Query().Get("limit"); got != "1000" {
			t.Errorf("limit = %q, want default 1000", got)
		}
		w.Write([]byte(`{"status":"success","data":{"resultType":"streams","result":[]}}`))
	}))
	defer srv.Close()

	logs, err := NewClient(srv.URL).QueryProcessLogs(context.Background(), "ns", "app", "", time.Unix(0, 0), time.Now(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logs != "" {
		t.Errorf("expected empty logs, got %q", logs)
	}
}

func TestQueryProcessLogs_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-ok status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"query error", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"status":"error"}`)) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewClient(srv.URL).QueryProcessLogs(context.Background(), "ns", "app", "web", time.Unix(0, 0), time.Now(), 10)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
