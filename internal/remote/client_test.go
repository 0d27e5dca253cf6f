package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanngo729/storefront-gateway/internal/platform/requestctx"
)

func newTestClient(t *testing.T, server *httptest.Server, opts ...func(*ClientDeps)) *Client {
	t.Helper()
	deps := ClientDeps{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Timeout:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	client, err := NewClient(deps)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientDeps{}); err == nil {
		t.Fatal("expected error without base URL")
	}
}

func TestGetCartDecodesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cart" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"productId":"p1","name":"Keyboard","quantity":2,"price":150000,"stock":8}],"totalPrice":300000}`))
	}))
	defer server.Close()

	cart, err := newTestClient(t, server).GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "p1" {
		t.Fatalf("items = %+v", cart.Items)
	}
	if cart.Items[0].UnitPriceSnapshot != 150000 || cart.Items[0].StockCeiling != 8 {
		t.Fatalf("item fields not mapped: %+v", cart.Items[0])
	}
	if cart.TotalPrice != 300000 {
		t.Fatalf("TotalPrice = %d, want 300000", cart.TotalPrice)
	}
	if cart.FetchedAt.IsZero() {
		t.Fatal("FetchedAt must be stamped on fetch")
	}
}

func TestClientForwardsBearerTokenFromContext(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx := requestctx.WithIdentity(context.Background(), requestctx.Identity{UID: "u-1", Token: "tok-123"})
	if _, err := newTestClient(t, server).GetCart(ctx); err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
}

func TestClientClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusInternalServerError, KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"message":"remote rejected"}`))
			}))
			defer server.Close()

			_, err := newTestClient(t, server).GetCart(context.Background())
			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if rerr.Kind != tc.kind {
				t.Fatalf("Kind = %s, want %s", rerr.Kind, tc.kind)
			}
			if rerr.Message != "remote rejected" {
				t.Fatalf("Message = %q, want remote rejected", rerr.Message)
			}
		})
	}
}

func TestClientRetriesAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(500 * time.Millisecond)
		}
		w.Write([]byte(`{"items":[],"totalPrice":0}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(deps *ClientDeps) {
		deps.Timeout = 50 * time.Millisecond
		deps.MaxRetries = 2
	})
	if _, err := client.GetCart(context.Background()); err != nil {
		t.Fatalf("GetCart after retry returned error: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want a retry after the timed-out attempt", calls.Load())
	}
}

func TestClientExhaustedRetriesReturnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(deps *ClientDeps) {
		deps.Timeout = 20 * time.Millisecond
		deps.MaxRetries = 1
	})
	_, err := client.GetCart(context.Background())
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if !rerr.IsTimeout() {
		t.Fatalf("Kind = %s, want %s", rerr.Kind, KindTimeout)
	}
}

func TestClientSurfacesFinalAttemptError(t *testing.T) {
	// A timeout followed by a rejection must report the rejection, not
	// the earlier timeout.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"remote rejected"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, func(deps *ClientDeps) {
		deps.Timeout = 20 * time.Millisecond
		deps.MaxRetries = 2
	})
	_, err := client.GetCart(context.Background())
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if rerr.IsTimeout() {
		t.Fatalf("Kind = %s, want the final attempt's rejection", rerr.Kind)
	}
	if rerr.Message != "remote rejected" {
		t.Fatalf("Message = %q, want remote rejected", rerr.Message)
	}
}

func TestClientConnectionRefusedIsNetworkUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := NewClient(ClientDeps{BaseURL: server.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	_, err = client.GetCart(context.Background())
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if rerr.Kind != KindNetworkUnavailable {
		t.Fatalf("Kind = %s, want %s", rerr.Kind, KindNetworkUnavailable)
	}
}

func TestClientSendsMutationBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Write([]byte(`{"items":[],"totalPrice":0}`))
	}))
	defer server.Close()

	if _, err := newTestClient(t, server).AddToCart(context.Background(), "p1", 3); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}
	if gotBody != `{"productId":"p1","quantity":3}` {
		t.Fatalf("body = %s", gotBody)
	}
}
