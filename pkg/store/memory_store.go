package store

import (
	"context"
	"sort"
	"sync"

	"docsign/pkg/domain"
)

// MemoryStore keeps metadata in-process for tests and throwaway instances.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	accounts map[string]string      // provider|account -> user ID
	docs     map[string]domain.Document
	seq      map[string]int // insertion order for stable newest-first listing
	next     int
	sigs     map[string][]domain.Signature
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		accounts: make(map[string]string),
		docs:     make(map[string]domain.Document),
		seq:      make(map[string]int),
		sigs:     make(map[string][]domain.Signature),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.email[u.Email]; ok {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) LinkAccount(_ context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := a.Provider + "|" + a.ProviderAccountID
	if _, ok := m.accounts[key]; !ok {
		m.accounts[key] = a.UserID
	}
	return nil
}

func (m *MemoryStore) GetUserByAccount(_ context.Context, provider, providerAccountID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.accounts[provider+"|"+providerAccountID]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[d.ID]; ok {
		return ErrDuplicate
	}
	if d.Status == "" {
		d.Status = domain.StatusPending
	}
	if d.Version == 0 {
		d.Version = 1
	}
	m.next++
	m.seq[d.ID] = m.next
	m.docs[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok, nil
}

// ListDocumentsByOwner returns the owner's documents, newest first.
func (m *MemoryStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range m.docs {
		if d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return m.seq[res[i].ID] > m.seq[res[j].ID]
	})
	return res, nil
}

func (m *MemoryStore) CompleteSigning(_ context.Context, u SigningUpdate) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[u.DocumentID]
	if !ok || d.Status != domain.StatusPending || d.Version != u.ExpectedVersion {
		return domain.Document{}, ErrConflict
	}
	d.Status = domain.StatusSigned
	d.FileKey = u.FileKey
	d.URL = u.URL
	d.SizeBytes = u.SizeBytes
	d.UpdatedAt = u.UpdatedAt
	d.Version++
	m.docs[d.ID] = d
	m.sigs[d.ID] = append(m.sigs[d.ID], u.Signature)
	return d, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	delete(m.seq, id)
	delete(m.sigs, id)
	return nil
}

func (m *MemoryStore) ListSignatures(_ context.Context, documentID string) ([]domain.Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Signature(nil), m.sigs[documentID]...), nil
}
