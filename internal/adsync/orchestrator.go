package adsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

const (
	StatusSucceeded = "success"
	StatusFailed    = "error"

	ReportSuccess = "success"
	ReportPartial = "partial"

	defaultJobTimeout = 2 * time.Minute
)

// Job is one single-shot upstream sync.
type Job interface {
	Platform() string
	Run(ctx context.Context) (JobResult, error)
}

type JobResult struct {
	Platform       string         `json:"platform"`
	Status         string         `json:"status"`
	RowsSynced     *int           `json:"rows_synced,omitempty"`
	DateRangeStart *string        `json:"date_range_start,omitempty"`
	DateRangeEnd   *string        `json:"date_range_end,omitempty"`
	Error          string         `json:"error,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

type Report struct {
	Status  string      `json:"status"`
	Results []JobResult `json:"results"`
}

// SyncLogWriter is the audit side of the store.
type SyncLogWriter interface {
	AppendSyncLog(ctx context.Context, entry *crm.SyncLogEntry) error
}

type Options struct {
	// JobTimeout bounds each job; 0 means two minutes.
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Orchestrator runs every job concurrently, records one audit row per job
// and derives the composite status.
type Orchestrator struct {
	audit   SyncLogWriter
	jobs    []Job
	timeout time.Duration
	logger  *zap.Logger
}

func New(audit SyncLogWriter, jobs []Job, opts Options) *Orchestrator {
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{audit: audit, jobs: jobs, timeout: timeout, logger: logger}
}

// Run waits for every job. Results keep job order, not completion order. A
// failed job never cancels its siblings.
func (o *Orchestrator) Run(ctx context.Context) Report {
	results := make([]JobResult, len(o.jobs))
	var g errgroup.Group
	for i, job := range o.jobs {
		g.Go(func() error {
			results[i] = o.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: ReportSuccess, Results: results}
	for _, result := range results {
		if result.Status != StatusSucceeded {
			report.Status = ReportPartial
			break
		}
	}
	o.logger.Info("adsync: run complete", zap.String("status", report.Status), zap.Int("jobs", len(results)))
	return report
}

func (o *Orchestrator) runJob(ctx context.Context, job Job) (result JobResult) {
	platform := job.Platform()
	log := o.logger.With(zap.String("platform", platform))
	started := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = failedResult(platform, fmt.Errorf("%s sync panicked: %v", platform, r))
			}
		}()
		var err error
		result, err = job.Run(jobCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && jobCtx.Err() != nil {
				err = fmt.Errorf("%s sync timed out after %s", platform, o.timeout)
			}
			result = failedResult(platform, err)
			return
		}
		result.Platform = platform
		result.Status = StatusSucceeded
	}()

	entry := auditEntry(result)
	if err := o.audit.AppendSyncLog(context.WithoutCancel(ctx), &entry); err != nil {
		log.Error("adsync: audit write failed", zap.Error(err))
	}
	if result.Status == StatusSucceeded {
		log.Info("adsync: job succeeded", zap.Intp("rows_synced", result.RowsSynced), zap.Duration("elapsed", time.Since(started)))
	} else {
		log.Warn("adsync: job failed", zap.String("error", result.Error), zap.Duration("elapsed", time.Since(started)))
	}
	return result
}

func failedResult(platform string, err error) JobResult {
	return JobResult{Platform: platform, Status: StatusFailed, Error: err.Error()}
}

func auditEntry(result JobResult) crm.SyncLogEntry {
	if result.Status != StatusSucceeded {
		message := result.Error
		return crm.SyncLogEntry{Platform: result.Platform, Status: crm.SyncError, ErrorMessage: &message}
	}
	entry := crm.SyncLogEntry{
		Platform:       result.Platform,
		Status:         crm.SyncSuccess,
		DateRangeStart: result.DateRangeStart,
		DateRangeEnd:   result.DateRangeEnd,
	}
	if result.RowsSynced != nil {
		entry.RowsSynced = *result.RowsSynced
	}
	return entry
}
