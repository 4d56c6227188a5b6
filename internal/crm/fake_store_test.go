package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fakeStore is a minimal Store for package tests. Upserts for ids listed in
// failUpsert return an error.
type fakeStore struct {
	mu            sync.Mutex
	leads         []Lead
	opportunities map[string]Opportunity
	syncLog       []SyncLogEntry
	failUpsert    map[string]bool
	findErr       error
	upserts       int
}

func newFakeStore(leads ...Lead) *fakeStore {
	return &fakeStore{
		leads:         leads,
		opportunities: map[string]Opportunity{},
		failUpsert:    map[string]bool{},
	}
}

func (s *fakeStore) FindLeadByDynamicsID(_ context.Context, dynamicsID string) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return Lead{}, s.findErr
	}
	for _, lead := range s.leads {
		if lead.DynamicsID == dynamicsID {
			return lead, nil
		}
	}
	return Lead{}, ErrNotFound
}

func (s *fakeStore) FindLeadsByFullName(_ context.Context, fullName string) ([]Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Lead
	for _, lead := range s.leads {
		if lead.FullName != nil && strings.EqualFold(*lead.FullName, fullName) {
			out = append(out, lead)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertLead(_ context.Context, lead *Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert[lead.DynamicsID] {
		return fmt.Errorf("duplicate key value violates unique constraint")
	}
	for i, existing := range s.leads {
		if existing.DynamicsID == lead.DynamicsID {
			lead.ID = existing.ID
			s.leads[i] = *lead
			return nil
		}
	}
	lead.ID = "id-" + lead.DynamicsID
	s.leads = append(s.leads, *lead)
	return nil
}

func (s *fakeStore) UpsertOpportunity(_ context.Context, opp *Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert[opp.DynamicsID] {
		return errors.New("value too long for type character varying(255)")
	}
	opp.ID = "id-" + opp.DynamicsID
	s.opportunities[opp.DynamicsID] = *opp
	return nil
}

func (s *fakeStore) AppendSyncLog(_ context.Context, entry *SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLog = append(s.syncLog, *entry)
	return nil
}

func (s *fakeStore) ListSyncLog(context.Context, int) ([]SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncLogEntry(nil), s.syncLog...), nil
}

func (s *fakeStore) Close() error { return nil }
