package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{name: "no trusted proxies", trusted: nil, remoteAddr: "10.0.0.1:5000", realIP: "1.2.3.4", want: "10.0.0.1:5000"},
		{name: "trusted CIDR uses X-Real-IP", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.0.0.1:5000", realIP: "1.2.3.4", want: "1.2.3.4"},
		{name: "trusted single address", trusted: []string{"127.0.0.1"}, remoteAddr: "127.0.0.1:80", realIP: "5.6.7.8", want: "5.6.7.8"},
		{name: "first forwarded entry", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.1.2.3:80", forwarded: "9.9.9.9, 10.0.0.2", want: "9.9.9.9"},
		{name: "untrusted source ignored", trusted: []string{"10.0.0.0/8"}, remoteAddr: "192.168.1.5:80", realIP: "1.2.3.4", want: "192.168.1.5:80"},
		{name: "invalid header ignored", trusted: []string{"10.0.0.0/8"}, remoteAddr: "10.0.0.1:80", realIP: "not-an-ip", want: "10.0.0.1:80"},
		{name: "invalid trusted entry skipped", trusted: []string{"garbage", " 10.0.0.0/8 "}, remoteAddr: "10.0.0.1:80", realIP: "1.2.3.4", want: "1.2.3.4"},
		{name: "ipv6 proxy", trusted: []string{"::1"}, remoteAddr: "[::1]:80", realIP: "2001:db8::1", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		keys     []string
		header   string
		wantCode int
		wantErr  string
	}{
		{name: "no keys configured", keys: nil, header: "", wantCode: http.StatusNoContent},
		{name: "missing key", keys: []string{"k1"}, header: "", wantCode: http.StatusUnauthorized, wantErr: "AUTH001"},
		{name: "invalid key", keys: []string{"k1"}, header: "k2", wantCode: http.StatusForbidden, wantErr: "AUTH002"},
		{name: "valid key", keys: []string{"k1", "k2"}, header: "k2", wantCode: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.keys)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantErr == "" {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["code"] != tt.wantErr {
				t.Errorf("code = %q, want %q", body["code"], tt.wantErr)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("gone"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/runs/x", nil))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode log record %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", rec["level"])
	}
	if rec["status"] != float64(http.StatusNotFound) || rec["bytes"] != float64(4) {
		t.Errorf("status = %v, bytes = %v", rec["status"], rec["bytes"])
	}
	if !strings.HasSuffix(rec["path"].(string), "/x") {
		t.Errorf("path = %v", rec["path"])
	}
}
