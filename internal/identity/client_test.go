package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skillsbank/transaction-service/internal/domain"
	"github.com/skillsbank/transaction-service/internal/identity"
)

func TestResolve_Success(t *testing.T) {
	accountID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/account/get_account" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body["email"] != "alice@example.com" {
			t.Errorf("expected email alice@example.com, got %s", body["email"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"account_id": accountID.String()})
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, time.Second)

	resolved, err := client.Resolve(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved != accountID {
		t.Errorf("expected %s, got %s", accountID, resolved)
	}
}

func TestResolve_UnknownEmail(t *testing.T) {
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, time.Second)

	_, err := client.Resolve(context.Background(), "nobody@example.com")
	if !errors.Is(err, domain.ErrIdentityUnknown) {
		t.Fatalf("expected ErrIdentityUnknown, got %v", err)
	}

	// Negative answers are definitive, not retried.
	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 request, got %d", got)
	}
}

func TestResolve_ServerErrorIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, time.Second)

	_, err := client.Resolve(context.Background(), "alice@example.com")
	if !errors.Is(err, domain.ErrIdentityUnknown) {
		t.Fatalf("expected ErrIdentityUnknown, got %v", err)
	}
}

func TestResolve_InvalidAccountID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"account_id": "not-a-uuid"})
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, time.Second)

	_, err := client.Resolve(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected error for invalid account_id")
	}
}

func TestResolve_RetriesTransportError(t *testing.T) {
	var requests atomic.Int32
	accountID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// Break the first attempt mid-response.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Fatalf("hijack failed: %v", err)
			}
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"account_id": accountID.String()})
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, time.Second)

	resolved, err := client.Resolve(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Resolve failed after retry: %v", err)
	}
	if resolved != accountID {
		t.Errorf("expected %s, got %s", accountID, resolved)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
}

func TestResolve_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server can detect the client disconnect and
		// cancel the request context; otherwise server.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := identity.NewClient(server.URL, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Resolve(ctx, "alice@example.com")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
