package store

import (
	"context"
	"sync"

	"trainsync/internal/sync/match"
)

// MemoryStore is the in-memory IssuanceStore used by unit tests.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]memoryUser // userID -> contact info
	Issuances []Issuance
}

type memoryUser struct {
	email string
	phone string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[string]memoryUser{}}
}

// AddUser seeds a resolvable user.
func (m *MemoryStore) AddUser(id, email, phone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memoryUser{
		email: match.NormalizeEmail(email),
		phone: match.NormalizePhone(phone),
	}
}

func (m *MemoryStore) ResolveUser(ctx context.Context, email, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if email != "" {
		want := match.NormalizeEmail(email)
		for id, u := range m.users {
			if u.email != "" && u.email == want {
				return id, nil
			}
		}
	}
	if phone != "" {
		want := match.NormalizePhone(phone)
		for id, u := range m.users {
			if u.phone != "" && u.phone == want {
				return id, nil
			}
		}
	}
	return "", ErrUserNotFound
}

func (m *MemoryStore) SaveIssuance(ctx context.Context, row Issuance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Issuances = append(m.Issuances, row)
	return nil
}
