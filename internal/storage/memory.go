package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/relaycrm/internal/crm"
)

// MemoryStore keeps everything in process. It backs tests and the memory://
// DSN.
type MemoryStore struct {
	mu            sync.Mutex
	seq           int64
	leads         map[string]memoryLead
	opportunities map[string]crm.Opportunity
	syncLog       []crm.SyncLogEntry
	now           func() time.Time
}

type memoryLead struct {
	lead crm.Lead
	seq  int64
}

var _ crm.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:         map[string]memoryLead{},
		opportunities: map[string]crm.Opportunity{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) UpsertLead(ctx context.Context, lead *crm.Lead) error {
	if lead == nil || lead.DynamicsID == "" {
		return crm.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[lead.DynamicsID]
	if ok {
		lead.ID = existing.lead.ID
	} else {
		lead.ID = uuid.NewString()
		s.seq++
		existing.seq = s.seq
	}
	s.leads[lead.DynamicsID] = memoryLead{lead: *lead, seq: existing.seq}
	return nil
}

func (s *MemoryStore) UpsertOpportunity(ctx context.Context, opp *crm.Opportunity) error {
	if opp == nil || opp.DynamicsID == "" {
		return crm.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.opportunities[opp.DynamicsID]; ok {
		opp.ID = existing.ID
	} else {
		opp.ID = uuid.NewString()
	}
	s.opportunities[opp.DynamicsID] = *opp
	return nil
}

func (s *MemoryStore) FindLeadByDynamicsID(ctx context.Context, dynamicsID string) (crm.Lead, error) {
	if err := ctx.Err(); err != nil {
		return crm.Lead{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.leads[dynamicsID]
	if !ok {
		return crm.Lead{}, crm.ErrNotFound
	}
	return entry.lead, nil
}

func (s *MemoryStore) FindLeadsByFullName(ctx context.Context, fullName string) ([]crm.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := foldName(fullName)
	s.mu.Lock()
	matches := make([]memoryLead, 0, 1)
	for _, entry := range s.leads {
		if entry.lead.FullName != nil && foldName(*entry.lead.FullName) == want {
			matches = append(matches, entry)
		}
	}
	s.mu.Unlock()
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })
	out := make([]crm.Lead, len(matches))
	for i, entry := range matches {
		out[i] = entry.lead
	}
	return out, nil
}

// Counts reports the number of stored leads and opportunities.
func (s *MemoryStore) Counts() (leads, opportunities int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads), len(s.opportunities)
}

func (s *MemoryStore) AppendSyncLog(ctx context.Context, entry *crm.SyncLogEntry) error {
	if entry == nil {
		return crm.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.syncLog = append(s.syncLog, *entry)
	return nil
}

func (s *MemoryStore) ListSyncLog(ctx context.Context, limit int) ([]crm.SyncLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = defaultSyncLogLimit
	}
	limit = min(limit, len(s.syncLog))
	out := make([]crm.SyncLogEntry, 0, limit)
	for i := len(s.syncLog) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.syncLog[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
