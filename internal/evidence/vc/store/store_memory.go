package store

import (
	"context"
	"sort"
	"sync"

	"didvault/internal/evidence/vc/models"
	"didvault/internal/identity/did"
)

type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[models.CredentialID]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{credentials: make(map[models.CredentialID]models.Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[record.ID]; ok {
		return ErrDuplicate
	}
	s.credentials[record.ID] = record
	return nil
}

// Delete removes id. Unknown ids report ErrNotFound.
func (s *InMemoryStore) Delete(_ context.Context, id models.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id models.CredentialID) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.credentials[id]; ok {
		return record, nil
	}
	return models.Record{}, ErrNotFound
}

// ListBySubject returns the newest limit records for subject, newest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject did.DID, limit int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []models.Record
	for _, record := range s.credentials {
		if record.Subject == subject {
			found = append(found, record)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].IssuedAt.After(found[j].IssuedAt)
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}
