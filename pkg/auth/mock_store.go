package auth

import (
	"sync"
)

// MockStore is an in-memory CredentialStore for testing
type MockStore struct {
	mu      sync.RWMutex
	servers map[string]*Server

	// Error injection
	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

// NewMockStore creates a new in-memory credential store
func NewMockStore() *MockStore {
	return &MockStore{
		servers: make(map[string]*Server),
	}
}

// NewMockManager creates a manager backed by a single mock store
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return &Manager{stores: []CredentialStore{store}}, store
}

// NewMockManagerWithStores creates a manager with the given stores, in order
func NewMockManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves a server record in memory
func (m *MockStore) Store(server *Server) error {
	if m.StoreError != nil {
		return m.StoreError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if server == nil || server.Name == "" {
		return ErrInvalidCredentials
	}

	srv := *server
	m.servers[server.Name] = &srv
	return nil
}

// Retrieve gets a server record from memory
func (m *MockStore) Retrieve(name string) (*Server, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}

	srv := *server
	return &srv, nil
}

// List returns all servers in memory
func (m *MockStore) List() ([]*Server, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Server
	for _, server := range m.servers {
		srv := *server
		out = append(out, &srv)
	}
	return out, nil
}

// Delete removes a server record from memory
func (m *MockStore) Delete(name string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.servers, name)
	return nil
}

// Exists checks if a server record exists in memory
func (m *MockStore) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.servers[name]
	return ok
}

// Count returns the number of stored servers
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.servers)
}
