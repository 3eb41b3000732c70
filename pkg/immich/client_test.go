package immich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	errs "immichporter/pkg/errors"
	"immichporter/pkg/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "test-key",
		WithRetryConfig(&retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
			RetryIf:     retry.DefaultRetryIf,
			Context:     context.Background(),
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, srv
}

func TestClientSendsAPIKey(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		json.NewEncoder(w).Encode(map[string]string{"res": "pong"})
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("Expected x-api-key header, got %q", gotKey)
	}
}

func TestClientMountsAPIUnderPrefix(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"res": "pong"})
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotPath != "/api/server/ping" {
		t.Errorf("Expected requests under /api, got path %q", gotPath)
	}
}

func TestClientAcceptsEndpointWithAPISuffix(t *testing.T) {
	client, err := NewClient("https://photos.example.com/api/", "key")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if client.baseURL != "https://photos.example.com/api" {
		t.Errorf("Expected suffix to not be doubled, got %q", client.baseURL)
	}
}

func TestClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "key")
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeCredentials {
		t.Errorf("Expected credentials error for empty endpoint, got %v", err)
	}

	_, err = NewClient("https://x/api", "")
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeCredentials {
		t.Errorf("Expected credentials error for empty key, got %v", err)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]User{{ID: "u1", Name: "Alice"}})
	}))

	users, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(users) != 1 || users[0].Name != "Alice" {
		t.Errorf("Unexpected users: %+v", users)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestClientDoesNotRetryConflict(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "album already exists"})
	}))

	_, err := client.CreateAlbum(context.Background(), CreateAlbumRequest{AlbumName: "Holiday"})
	if err == nil {
		t.Fatal("Expected conflict error")
	}

	var typed *errs.Error
	if !errors.As(err, &typed) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if typed.Type != errs.ErrorTypeConflict || typed.Code != http.StatusConflict {
		t.Errorf("Expected conflict/409, got %s/%d", typed.Type, typed.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected structural error to not be retried, got %d calls", calls)
	}
}

func TestClientMapsAuthError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	}))

	_, err := client.ListAlbums(context.Background())
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeAuth {
		t.Errorf("Expected auth error for 401, got %v", err)
	}
}

func TestCreateAlbumDecodesResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/albums" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req CreateAlbumRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(Album{ID: "alb-uuid", AlbumName: req.AlbumName})
	}))

	album, err := client.CreateAlbum(context.Background(), CreateAlbumRequest{AlbumName: "Trip"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if album.ID != "alb-uuid" || album.AlbumName != "Trip" {
		t.Errorf("Unexpected album: %+v", album)
	}
}

func TestAddAlbumAssetsReportsPerID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/albums/alb-1/assets" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]BulkResult{
			{ID: "a1", Success: true},
			{ID: "a2", Success: false, Error: "duplicate"},
		})
	}))

	results, err := client.AddAlbumAssets(context.Background(), "alb-1", []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(results) != 2 || !results[0].Success || results[1].Success {
		t.Errorf("Unexpected bulk results: %+v", results)
	}
}

func TestSearchAssets(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchAssetsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.OriginalFileName != "IMG_0001.jpg" {
			t.Errorf("Unexpected search request: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"assets": map[string]interface{}{
				"items": []Asset{{ID: "asset-1", OriginalFileName: "IMG_0001.jpg"}},
			},
		})
	}))

	assets, err := client.SearchAssets(context.Background(), SearchAssetsRequest{OriginalFileName: "IMG_0001.jpg"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != "asset-1" {
		t.Errorf("Unexpected assets: %+v", assets)
	}
}

func TestUpsertTagFindsCreatedTag(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Tag{{ID: "t1", Name: "import-2026"}})
	}))

	tag, err := client.UpsertTag(context.Background(), "import-2026")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tag.ID != "t1" {
		t.Errorf("Unexpected tag: %+v", tag)
	}
}

func TestErrorDetailFromMessageArray(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": ["name must be a string", "email is required"]}`))
	}))

	_, err := client.CreateUser(context.Background(), CreateUserRequest{})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if typed.Message == "" {
		t.Error("Expected joined message detail")
	}
}
