package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestCORSAllowsConfiguredOriginOnly(t *testing.T) {
	api := newTestAPI(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/parts", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res
	}

	if got := preflight("http://127.0.0.1:5173").Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:5173" {
		t.Fatalf("expected configured origin to be allowed, got %q", got)
	}
	if got := preflight("http://evil.example").Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected unknown origin to be refused, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another client is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.9:5000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a different client, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	res := httptest.NewRecorder()
	writeServiceError(res, errors.New("pq: relation \"parts\" does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("internal detail leaked: %s", res.Body.String())
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.Invalid("quantity", "must be positive"), http.StatusBadRequest},
		{fmt.Errorf("%w: admin role required", access.ErrPermission), http.StatusForbidden},
		{fmt.Errorf("part p-1: %w", store.ErrNotFound), http.StatusNotFound},
		{&store.InsufficientStockError{PartID: "p-1", Requested: 3, Available: 1}, http.StatusConflict},
		{&store.OverRefundError{PartID: "p-1", Purchased: 2, AlreadyRefunded: 1, Requested: 2}, http.StatusConflict},
		{&store.InvalidStateError{Entity: "reservation", ID: "r-1", Status: "completed"}, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestParsePositiveLimitCapsValues(t *testing.T) {
	if got := parsePositiveLimit("", 50, 500); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	if got := parsePositiveLimit("-4", 50, 500); got != 50 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
	if got := parsePositiveLimit("9999", 50, 500); got != 500 {
		t.Fatalf("expected cap 500, got %d", got)
	}
	if got := parseOffset("abc"); got != 0 {
		t.Fatalf("expected offset 0 for garbage, got %d", got)
	}
}

func TestParseTimeParamAcceptsDatesAndTimestamps(t *testing.T) {
	got, err := parseTimeParam("from", "2024-03-01")
	if err != nil || got == nil || got.Day() != 1 {
		t.Fatalf("expected plain date to parse, got %v %v", got, err)
	}
	got, err = parseTimeParam("from", "2024-03-01T10:00:00+07:00")
	if err != nil || got == nil || got.Hour() != 3 {
		t.Fatalf("expected RFC 3339 to parse into UTC, got %v %v", got, err)
	}
	if got, err := parseTimeParam("from", ""); err != nil || got != nil {
		t.Fatalf("expected empty value to be nil, got %v %v", got, err)
	}
	if _, err := parseTimeParam("from", "yesterday"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
