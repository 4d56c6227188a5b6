package crm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store persists canonical records. Upserts are keyed on DynamicsID and must
// be safe to call concurrently; the store's conflict handling is the only
// guarantee of one row per id.
type Store interface {
	LeadFinder
	// UpsertLead inserts or fully replaces the lead and sets lead.ID to the
	// stored row id.
	UpsertLead(ctx context.Context, lead *Lead) error
	UpsertOpportunity(ctx context.Context, opp *Opportunity) error
	AppendSyncLog(ctx context.Context, entry *SyncLogEntry) error
	// ListSyncLog returns up to limit entries, newest first.
	ListSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error)
	Close() error
}

// RecordError is the per-record failure reported in a batch summary.
type RecordError struct {
	DynamicsID *string `json:"dynamics_id"`
	Error      string  `json:"error"`
}

type BatchResult struct {
	Entity    EntityKind    `json:"entity"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Errors    []RecordError `json:"errors,omitempty"`
}

type BatchOptions struct {
	// Concurrency bounds the records processed at once; 0 means 16.
	Concurrency int
	Logger      *zap.Logger
	Strategies  []ReconcileStrategy
}

// BatchProcessor maps, reconciles and upserts each record of a delivery as
// an independent unit of work.
type BatchProcessor struct {
	store       Store
	leads       LeadMapper
	opps        OpportunityMapper
	reconciler  *Reconciler
	concurrency int
	logger      *zap.Logger
}

func NewBatchProcessor(store Store, campaigns CampaignSource, opts BatchOptions) *BatchProcessor {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		store:       store,
		leads:       NewLeadMapper(campaigns),
		opps:        NewOpportunityMapper(campaigns),
		reconciler:  NewReconciler(store, opts.Strategies...),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Process handles every record and aggregates the outcomes. Record failures
// are reported in the result; an error return means the batch itself could
// not be handled.
func (p *BatchProcessor) Process(ctx context.Context, kind EntityKind, records []Payload) (BatchResult, error) {
	if _, ok := ParseEntityKind(string(kind)); !ok {
		return BatchResult{}, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidInput, kind)
	}
	if len(records) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	log := p.logger.With(zap.String("entity", string(kind)))
	log.Info("batch: processing",
		zap.Int("total", len(records)),
		zap.String("sample_keys", strings.Join(records[0].Keys(), ", ")),
	)

	outcomes := make([]*RecordError, len(records))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, record := range records {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("batch: record %d panicked: %v", i, r)
				}
			}()
			outcomes[i] = p.processRecord(ctx, kind, record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Entity: kind, Total: len(records)}
	for _, outcome := range outcomes {
		if outcome == nil {
			result.Succeeded++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, *outcome)
	}
	if result.Failed > 0 {
		log.Error("batch: failed records",
			zap.Int("failed", result.Failed),
			zap.Any("errors", result.Errors),
		)
	}
	return result, nil
}

func (p *BatchProcessor) processRecord(ctx context.Context, kind EntityKind, record Payload) *RecordError {
	switch kind {
	case EntityLead:
		lead := p.leads.Map(record)
		if lead.DynamicsID == "" {
			return missingIdentifier(kind)
		}
		if err := p.store.UpsertLead(ctx, &lead); err != nil {
			return &RecordError{DynamicsID: stringPtr(lead.DynamicsID), Error: err.Error()}
		}
	case EntityOpportunity:
		opp := p.opps.Map(record)
		if opp.DynamicsID == "" {
			return missingIdentifier(kind)
		}
		match, err := p.reconciler.Reconcile(ctx, &opp, record)
		if err != nil {
			return &RecordError{DynamicsID: stringPtr(opp.DynamicsID), Error: fmt.Sprintf("lead lookup (%s): %v", match.Strategy, err)}
		}
		if match.Lead != nil {
			p.logger.Debug("batch: opportunity linked to lead",
				zap.String("dynamics_id", opp.DynamicsID),
				zap.String("strategy", match.Strategy),
				zap.String("lead_dynamics_id", match.Lead.DynamicsID),
			)
		}
		if err := p.store.UpsertOpportunity(ctx, &opp); err != nil {
			return &RecordError{DynamicsID: stringPtr(opp.DynamicsID), Error: err.Error()}
		}
	}
	return nil
}

// missingIdentifier reports a record the CRM sent without its primary key,
// e.g. "No leadid found".
func missingIdentifier(kind EntityKind) *RecordError {
	return &RecordError{Error: fmt.Sprintf("No %sid found", kind)}
}
