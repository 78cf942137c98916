package httpapi

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/storefront-labs/pricelab/internal/metrics"
	"github.com/storefront-labs/pricelab/internal/tenant"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate_MissingVerified(t *testing.T) {
	handler := Authenticate(DefaultAuthConfig())(okHandler())

	req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Store-ID", "s1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthenticate_MissingStoreID(t *testing.T) {
	handler := Authenticate(DefaultAuthConfig())(okHandler())

	req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Auth-Verified", "true")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthenticate_VerificationOptional(t *testing.T) {
	config := DefaultAuthConfig()
	config.RequireVerified = false
	handler := Authenticate(config)(okHandler())

	req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Store-ID", "s1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthenticate_BindsContext(t *testing.T) {
	var storeID, actor string
	var writer bool

	handler := Authenticate(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID, _ = StoreID(r.Context())
		actor, _ = Actor(r.Context())
		writer = HasScope(r.Context(), ScopeWrite)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Auth-Verified", "true")
	req.Header.Set("X-Store-ID", " s1 ")
	req.Header.Set("X-User-ID", "merchandiser-7")
	req.Header.Set("X-Scopes", `["pricing:read","pricing:write"]`)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if storeID != "s1" {
		t.Errorf("Expected store s1, got %q", storeID)
	}
	if actor != "merchandiser-7" {
		t.Errorf("Expected actor merchandiser-7, got %q", actor)
	}
	if !writer {
		t.Error("Expected pricing:write scope")
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{`["a","b"]`, []string{"a", "b"}},
		{"a, b ,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		if got := parseScopes(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseScopes(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestRequireScope(t *testing.T) {
	handler := Authenticate(nil)(RequireScope(ScopeWrite)(okHandler()))

	req := httptest.NewRequest("POST", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Auth-Verified", "true")
	req.Header.Set("X-Store-ID", "s1")
	req.Header.Set("X-Scopes", "pricing:read")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	tenants := tenant.NewManager(0.0001, 1)
	handler := Authenticate(nil)(RateLimit(tenants, m)(okHandler()))

	send := func(store string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
		req.Header.Set("X-Auth-Verified", "true")
		req.Header.Set("X-Store-ID", store)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send("s1"); w.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", w.Code)
	}

	w := send("s1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	// budgets are per store
	if w := send("s2"); w.Code != http.StatusOK {
		t.Errorf("Expected other store to pass, got %d", w.Code)
	}

	if got := testutil.ToFloat64(m.QuotaExceeded.WithLabelValues("s1")); got != 1 {
		t.Errorf("Expected 1 rejection, got %v", got)
	}

	// only admitted requests count towards the day
	if got := testutil.ToFloat64(m.StoreRequestsToday.WithLabelValues("s1")); got != 1 {
		t.Errorf("Expected 1 admitted request today, got %v", got)
	}
}

func TestRateLimit_InactiveStore(t *testing.T) {
	tenants := tenant.NewManager(0, 0)
	if err := tenants.Register(&tenant.Store{ID: "s1", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := tenants.Deactivate("s1"); err != nil {
		t.Fatal(err)
	}
	handler := Authenticate(nil)(RateLimit(tenants, nil)(okHandler()))

	req := httptest.NewRequest("GET", "/v1/pricing/experiments", nil)
	req.Header.Set("X-Auth-Verified", "true")
	req.Header.Set("X-Store-ID", "s1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "store is suspended") {
		t.Errorf("Expected suspension message, got %s", w.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	handler := BasicAuth(okHandler(), "prom", "secret")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	req.SetBasicAuth("prom", "secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if BasicAuth(okHandler(), "", "") == nil {
		t.Error("Expected passthrough handler")
	}
}
