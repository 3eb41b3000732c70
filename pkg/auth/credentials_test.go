package auth

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	server := &Server{
		Name:         "home",
		Endpoint:     "https://immich.example.com/api",
		APIKey:       "test_api_key_1234567890",
		LastModified: time.Now(),
	}

	err := manager.Store(server)
	if err != nil {
		t.Errorf("Failed to store server: %v", err)
	}

	retrieved, err := manager.Retrieve("home")
	if err != nil {
		t.Errorf("Failed to retrieve server: %v", err)
	}

	if retrieved.Name != server.Name {
		t.Errorf("Name mismatch: got %s, want %s", retrieved.Name, server.Name)
	}
	if retrieved.Endpoint != server.Endpoint {
		t.Errorf("Endpoint mismatch: got %s, want %s", retrieved.Endpoint, server.Endpoint)
	}
	if retrieved.APIKey != server.APIKey {
		t.Errorf("APIKey mismatch: got %s, want %s", retrieved.APIKey, server.APIKey)
	}

	servers, err := manager.List()
	if err != nil {
		t.Errorf("Failed to list servers: %v", err)
	}
	if len(servers) == 0 {
		t.Error("Expected at least one server in list")
	}

	// Sanitization masks the key but not the name or endpoint
	sanitized := SanitizeServer(server)
	if sanitized.APIKey == server.APIKey {
		t.Error("APIKey should be masked")
	}
	if sanitized.Name != server.Name || sanitized.Endpoint != server.Endpoint {
		t.Error("Name and endpoint should not be masked")
	}

	err = manager.Delete("home")
	if err != nil {
		t.Errorf("Failed to delete server: %v", err)
	}

	_, err = manager.Retrieve("home")
	if err == nil {
		t.Error("Expected error retrieving deleted server")
	}

	if mockStore.Count() != 0 {
		t.Errorf("Expected 0 servers after deletion, got %d", mockStore.Count())
	}
}

func TestManagerRejectsIncompleteRecords(t *testing.T) {
	manager, _ := NewMockManager()

	cases := []*Server{
		{Endpoint: "https://x/api", APIKey: "k"},
		{Name: "a", APIKey: "k"},
		{Name: "a", Endpoint: "https://x/api"},
	}
	for _, server := range cases {
		if err := manager.Store(server); err == nil {
			t.Errorf("Expected validation error for %+v", server)
		}
	}
}

func TestEncryptedFileStore(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "test_servers.enc")

	t.Setenv("IMMICHPORTER_PASSPHRASE", "test_passphrase_123")

	store, err := NewEncryptedFileStore(tempFile)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	server := &Server{
		Name:     "encrypted",
		Endpoint: "https://immich.internal/api",
		APIKey:   "secret_api_key_value",
	}

	err = store.Store(server)
	if err != nil {
		t.Errorf("Failed to store in encrypted file: %v", err)
	}

	retrieved, err := store.Retrieve("encrypted")
	if err != nil {
		t.Errorf("Failed to retrieve from encrypted file: %v", err)
	}

	if retrieved.APIKey != server.APIKey {
		t.Errorf("APIKey mismatch after encryption round trip")
	}

	// The file on disk must not contain the key in plaintext
	fileContent, err := os.ReadFile(tempFile)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(fileContent, []byte("secret_api_key_value")) {
		t.Error("File contains plaintext API key")
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("IMMICH_ENDPOINT", "https://env.example.com/api")
	t.Setenv("IMMICH_API_KEY", "env_key")
	t.Setenv("IMMICH_INSECURE", "true")

	store := NewEnvironmentStore()

	server, err := store.Retrieve("")
	if err != nil {
		t.Errorf("Failed to retrieve from environment: %v", err)
	}

	if server.Endpoint != "https://env.example.com/api" {
		t.Errorf("Endpoint mismatch: got %s", server.Endpoint)
	}
	if server.APIKey != "env_key" {
		t.Errorf("APIKey mismatch: got %s", server.APIKey)
	}
	if !server.Insecure {
		t.Error("Expected insecure flag from environment")
	}
	if server.Name != "default" {
		t.Errorf("Expected default server name, got %s", server.Name)
	}

	err = store.Store(&Server{})
	if err != ErrStoreUnavailable {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}
}

func TestManagerWithEncryptedStore(t *testing.T) {
	tempDir := t.TempDir()

	t.Setenv("IMMICHPORTER_PASSPHRASE", "test_passphrase_manager")

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(tempDir, "servers.enc"))
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	manager := NewMockManagerWithStores(encryptedStore)

	server := &Server{
		Name:     "nas",
		Endpoint: "https://nas.local/api",
		APIKey:   "nas_api_key_value",
	}

	if err := manager.Store(server); err != nil {
		t.Fatalf("Failed to store server: %v", err)
	}

	servers, err := manager.List()
	if err != nil {
		t.Fatalf("Failed to list servers: %v", err)
	}
	if len(servers) != 1 {
		t.Errorf("Expected 1 server in list, got %d", len(servers))
	}

	retrieved, err := manager.Retrieve("nas")
	if err != nil {
		t.Fatalf("Failed to retrieve server: %v", err)
	}
	if retrieved.Endpoint != server.Endpoint {
		t.Errorf("Endpoint mismatch: got %s, want %s", retrieved.Endpoint, server.Endpoint)
	}
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()

	servers, err := store.List()
	if err != nil {
		t.Errorf("Failed to list empty store: %v", err)
	}
	if len(servers) != 0 {
		t.Errorf("Expected 0 servers, got %d", len(servers))
	}

	if err := store.Store(&Server{Name: "m", Endpoint: "e", APIKey: "k"}); err != nil {
		t.Errorf("Failed to store server: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 server, got %d", store.Count())
	}
	if !store.Exists("m") {
		t.Error("Server should exist")
	}

	store.ListError = fmt.Errorf("injected error")
	_, err = store.List()
	if err == nil || err.Error() != "injected error" {
		t.Error("Expected injected error")
	}
}
