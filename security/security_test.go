package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero time never expires", time.Time{}, false},
		{"future", time.Now().Add(time.Hour), false},
		{"just past stays within grace", time.Now().Add(-time.Second), false},
		{"well past", time.Now().Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	past := time.Now().Add(-10 * time.Second)
	if !IsExpiredWithGracePeriod(past, 0) {
		t.Error("IsExpiredWithGracePeriod(past, 0) = false")
	}
	if IsExpiredWithGracePeriod(past, time.Minute) {
		t.Error("IsExpiredWithGracePeriod(past, 1m) = true")
	}
}

func TestTicketExpired(t *testing.T) {
	if TicketExpired(time.Time{}) {
		t.Error("TicketExpired(zero) = true")
	}
	if TicketExpired(time.Now().Add(time.Minute)) {
		t.Error("TicketExpired(future) = true")
	}
	// No grace period for tickets.
	if !TicketExpired(time.Now().Add(-time.Millisecond)) {
		t.Error("TicketExpired(just past) = false")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		realIP            string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:44321",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded header ignored without trust",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.7",
			want:       "10.0.0.1",
		},
		{
			name:              "single trusted proxy",
			remoteAddr:        "10.0.0.1:80",
			xff:               "203.0.113.7, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 1,
			want:              "203.0.113.7",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:80",
			xff:               "203.0.113.7, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.7",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			realIP:     "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:       "garbage forwarded value falls back to remote addr",
			remoteAddr: "10.0.0.1:80",
			xff:        "not-an-ip",
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	if !rl.Allow("203.0.113.7") {
		t.Error("first request denied")
	}
	if !rl.Allow("203.0.113.7") {
		t.Error("second request denied within burst")
	}
	if rl.Allow("203.0.113.7") {
		t.Error("third request allowed beyond burst")
	}
	if !rl.Allow("198.51.100.2") {
		t.Error("unrelated identifier denied")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 2, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c") // evicts "a"

	// "a" got a fresh bucket, so its burst is available again.
	if !rl.Allow("a") {
		t.Error("evicted identifier should start with a fresh bucket")
	}
	// "c" already spent its burst.
	if rl.Allow("c") {
		t.Error("retained identifier should still be limited")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Cleanup(0)

	rl.mu.Lock()
	remaining := len(rl.limiters)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("limiters remaining = %d, want 0", remaining)
	}
}

func TestGenerators(t *testing.T) {
	if GenerateChallenge() == GenerateChallenge() {
		t.Error("GenerateChallenge() returned the same value twice")
	}
	if GenerateTokenHandle() == "" {
		t.Error("GenerateTokenHandle() is empty")
	}
	if GenerateClientSecret() == "" {
		t.Error("GenerateClientSecret() is empty")
	}
}

func TestSetSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w, "https://as.example.com")

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing for an https issuer")
	}

	w = httptest.NewRecorder()
	SetSecurityHeaders(w, "http://localhost:8080")
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set for a plain http issuer")
	}
}
