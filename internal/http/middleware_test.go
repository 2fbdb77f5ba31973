package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.7 ", "", "2001:db8::/32", "10.1.2.3/16"})
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("2001:db8::/32"),
		netip.MustParsePrefix("10.1.0.0/16"),
	}, prefixes)

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	require.ErrorContains(t, err, "not-an-ip")

	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "2001:db8::/32"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		xRealIP    string
		trusted    []netip.Prefix
		expected   string
	}{
		{
			name:       "IPv4 with port",
			remoteAddr: "192.168.1.1:54321",
			expected:   "192.168.1.1",
		},
		{
			name:       "IPv6 with port",
			remoteAddr: "[2001:db8::1]:54321",
			expected:   "2001:db8::1",
		},
		{
			name:       "no port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "203.0.113.9:5555",
			xff:        []string{"198.51.100.1"},
			xRealIP:    "198.51.100.2",
			expected:   "203.0.113.9",
		},
		{
			name:       "headers ignored from untrusted peer",
			remoteAddr: "203.0.113.9:5555",
			xff:        []string{"198.51.100.1"},
			trusted:    trusted,
			expected:   "203.0.113.9",
		},
		{
			name:       "single hop from trusted proxy",
			remoteAddr: "10.0.0.5:443",
			xff:        []string{"198.51.100.1"},
			trusted:    trusted,
			expected:   "198.51.100.1",
		},
		{
			name:       "right-most untrusted hop wins over spoofed prefix",
			remoteAddr: "10.0.0.5:443",
			xff:        []string{"1.2.3.4, 198.51.100.1 ,10.0.0.9"},
			trusted:    trusted,
			expected:   "198.51.100.1",
		},
		{
			name:       "multiple header lines",
			remoteAddr: "10.0.0.5:443",
			xff:        []string{"1.2.3.4", "198.51.100.1"},
			trusted:    trusted,
			expected:   "198.51.100.1",
		},
		{
			name:       "garbled hop stops the walk",
			remoteAddr: "10.0.0.5:443",
			xff:        []string{"198.51.100.1, junk, 10.0.0.9"},
			trusted:    trusted,
			expected:   "10.0.0.9",
		},
		{
			name:       "all hops trusted",
			remoteAddr: "10.0.0.5:443",
			xff:        []string{"10.0.0.7, 10.0.0.9"},
			trusted:    trusted,
			expected:   "10.0.0.7",
		},
		{
			name:       "x-real-ip from trusted proxy",
			remoteAddr: "10.0.0.5:443",
			xRealIP:    "198.51.100.2",
			trusted:    trusted,
			expected:   "198.51.100.2",
		},
		{
			name:       "invalid x-real-ip falls back to peer",
			remoteAddr: "10.0.0.5:443",
			xRealIP:    "junk",
			trusted:    trusted,
			expected:   "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			require.Equal(t, tt.expected, ClientIP(r, tt.trusted))
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"192.0.2.0/24"})
	require.NoError(t, err)

	var capturedIP string
	handler := ClientIPMiddleware(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedIP = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil) // RemoteAddr 192.0.2.1:1234
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "203.0.113.1", capturedIP)
}

func TestClientIPFromContext_missing(t *testing.T) {
	ctx := context.Background()

	ip := ClientIPFromContext(ctx)
	require.Empty(t, ip)
}

func TestRequestID_generated(t *testing.T) {
	var captured string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	require.NotEmpty(t, captured)
	require.Equal(t, captured, w.Header().Get(RequestIDHeader))
}

func TestRequestID_inbound(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "well formed", header: "req-abc-123", keep: true},
		{name: "too long", header: strings.Repeat("a", 200), keep: false},
		{name: "header injection", header: "abc\r\nX-Evil: 1", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = RequestIDFromContext(r.Context())
			}))

			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header[RequestIDHeader] = []string{tt.header}
			handler.ServeHTTP(httptest.NewRecorder(), r)

			if tt.keep {
				require.Equal(t, tt.header, captured)
			} else {
				require.NotEqual(t, tt.header, captured)
				require.NotEmpty(t, captured)
			}
		})
	}
}

func TestRequestIDFromContext_missing(t *testing.T) {
	require.Empty(t, RequestIDFromContext(context.Background()))
}
