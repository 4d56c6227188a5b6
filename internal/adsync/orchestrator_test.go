package adsync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []crm.SyncLogEntry
}

func (a *recordingAudit) AppendSyncLog(_ context.Context, entry *crm.SyncLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *recordingAudit) byPlatform(platform string) (crm.SyncLogEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, entry := range a.entries {
		if entry.Platform == platform {
			return entry, true
		}
	}
	return crm.SyncLogEntry{}, false
}

type funcJob struct {
	platform string
	run      func(ctx context.Context) (JobResult, error)
}

func (j funcJob) Platform() string { return j.platform }

func (j funcJob) Run(ctx context.Context) (JobResult, error) { return j.run(ctx) }

func newFunctionsServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for function, handler := range handlers {
		mux.HandleFunc("/functions/v1/"+function, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOrchestratorPartialWhenOneJobFails(t *testing.T) {
	server := newFunctionsServer(t, map[string]http.HandlerFunc{
		"sync-meta-ads": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Meta token invalid"}`))
		},
		"sync-google-ads": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"rows_synced":120,"date_range_start":"2024-03-01","date_range_end":"2024-03-07"}`))
		},
	})
	audit := &recordingAudit{}
	client := NewClient(ClientOptions{BaseURL: server.URL, ServiceKey: "svc", HTTPClient: server.Client()})

	report := New(audit, client.DefaultJobs(), Options{}).Run(context.Background())
	if report.Status != ReportPartial {
		t.Fatalf("expected partial, got %s", report.Status)
	}
	if len(report.Results) != 2 || report.Results[0].Platform != "meta" || report.Results[1].Platform != "google" {
		t.Fatalf("unexpected results order: %+v", report.Results)
	}
	if report.Results[0].Status != StatusFailed || report.Results[0].Error != "Meta token invalid" {
		t.Fatalf("unexpected meta result: %+v", report.Results[0])
	}
	if report.Results[1].RowsSynced == nil || *report.Results[1].RowsSynced != 120 {
		t.Fatalf("google result not kept: %+v", report.Results[1])
	}

	meta, ok := audit.byPlatform("meta")
	if !ok || meta.Status != crm.SyncError || meta.RowsSynced != 0 || meta.ErrorMessage == nil || *meta.ErrorMessage != "Meta token invalid" {
		t.Fatalf("unexpected meta audit row: %+v", meta)
	}
	google, ok := audit.byPlatform("google")
	if !ok || google.Status != crm.SyncSuccess || google.RowsSynced != 120 || google.ErrorMessage != nil {
		t.Fatalf("unexpected google audit row: %+v", google)
	}
	if google.DateRangeStart == nil || *google.DateRangeStart != "2024-03-01" {
		t.Fatalf("expected date range on google row: %+v", google)
	}
}

func TestOrchestratorCompositeStatus(t *testing.T) {
	ok := func(platform string) Job {
		return funcJob{platform: platform, run: func(context.Context) (JobResult, error) {
			rows := 1
			return JobResult{RowsSynced: &rows}, nil
		}}
	}
	fail := func(platform string) Job {
		return funcJob{platform: platform, run: func(context.Context) (JobResult, error) {
			return JobResult{}, errors.New(platform + " down")
		}}
	}
	cases := []struct {
		name string
		jobs []Job
		want string
	}{
		{name: "both succeed", jobs: []Job{ok("meta"), ok("google")}, want: ReportSuccess},
		{name: "meta fails", jobs: []Job{fail("meta"), ok("google")}, want: ReportPartial},
		{name: "google fails", jobs: []Job{ok("meta"), fail("google")}, want: ReportPartial},
		{name: "both fail", jobs: []Job{fail("meta"), fail("google")}, want: ReportPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			audit := &recordingAudit{}
			report := New(audit, tc.jobs, Options{}).Run(context.Background())
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if len(audit.entries) != 2 {
				t.Fatalf("expected one audit row per job, got %d", len(audit.entries))
			}
			for _, result := range report.Results {
				if result.Status == StatusSucceeded && result.Platform == "" {
					t.Fatalf("platform must be filled in: %+v", result)
				}
			}
		})
	}
}

func TestOrchestratorFailureDoesNotCancelSibling(t *testing.T) {
	release := make(chan struct{})
	slow := funcJob{platform: "google", run: func(ctx context.Context) (JobResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return JobResult{}, ctx.Err()
		}
		rows := 7
		return JobResult{RowsSynced: &rows}, nil
	}}
	fast := funcJob{platform: "meta", run: func(context.Context) (JobResult, error) {
		defer close(release)
		return JobResult{}, errors.New("meta down")
	}}

	report := New(&recordingAudit{}, []Job{fast, slow}, Options{}).Run(context.Background())
	if report.Results[1].Status != StatusSucceeded {
		t.Fatalf("google should succeed after meta failed: %+v", report.Results[1])
	}
}

func TestOrchestratorTimesOutHungJob(t *testing.T) {
	hung := funcJob{platform: "meta", run: func(ctx context.Context) (JobResult, error) {
		<-ctx.Done()
		return JobResult{}, ctx.Err()
	}}
	audit := &recordingAudit{}
	started := time.Now()
	report := New(audit, []Job{hung}, Options{JobTimeout: 50 * time.Millisecond}).Run(context.Background())
	if time.Since(started) > 5*time.Second {
		t.Fatalf("timeout did not bound the job")
	}
	if report.Status != ReportPartial || report.Results[0].Error != "meta sync timed out after 50ms" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if entry, ok := audit.byPlatform("meta"); !ok || entry.Status != crm.SyncError {
		t.Fatalf("expected error audit row, got %+v", entry)
	}
}

func TestOrchestratorRecoversJobPanic(t *testing.T) {
	boom := funcJob{platform: "meta", run: func(context.Context) (JobResult, error) {
		panic("nil map")
	}}
	report := New(&recordingAudit{}, []Job{boom}, Options{}).Run(context.Background())
	if report.Results[0].Status != StatusFailed {
		t.Fatalf("expected failed result, got %+v", report.Results[0])
	}
}
