package server

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"formgate/internal/check"
	"formgate/internal/config"
	"formgate/internal/dataType"
	"formgate/internal/ratelimit"
)

func newTestServer(settings *config.Settings) *Server {
	if settings == nil {
		settings = &config.Settings{}
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{}, dataType.NewMemoryStore(8), nil, nil)
	return &Server{
		cfg: &config.MainConfig{
			WebPath:               "/formgate",
			NodeName:              "Formgate",
			ConnectingIPHeaders:   []string{"Formgate-Real-IP", "X-Forwarded-For"},
			ConnectingHostHeaders: []string{"Formgate-Real-Host"},
			ActorLoggedInHeaders:  []string{"Formgate-Actor-Authenticated"},
			ActorRoleHeaders:      []string{"Formgate-Actor-Roles"},
		},
		guard: check.NewGuard(check.Deps{Settings: settings, Limiter: limiter}),
	}
}

func TestProcessRequestData(t *testing.T) {
	s := newTestServer(nil)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		wantIP  string
		wantIn  bool
		roles   []string
	}{
		{
			name:    "primary header",
			headers: map[string]string{"Formgate-Real-IP": "203.0.113.9"},
			remote:  "10.0.0.1:54321",
			wantIP:  "203.0.113.9",
		},
		{
			name:    "forwarded chain takes the first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			remote:  "10.0.0.1:54321",
			wantIP:  "203.0.113.9",
		},
		{
			name:   "no headers falls back to peer address",
			remote: "192.0.2.4:54321",
			wantIP: "192.0.2.4",
		},
		{
			name:    "actor context",
			headers: map[string]string{"Formgate-Actor-Authenticated": "1", "Formgate-Actor-Roles": "admin, editor"},
			remote:  "10.0.0.1:54321",
			wantIP:  "10.0.0.1",
			wantIn:  true,
			roles:   []string{"admin", "editor"},
		},
		{
			name:    "authenticated true spelled out",
			headers: map[string]string{"Formgate-Actor-Authenticated": "TRUE"},
			remote:  "10.0.0.1:54321",
			wantIP:  "10.0.0.1",
			wantIn:  true,
		},
		{
			name:    "authenticated zero means anonymous",
			headers: map[string]string{"Formgate-Actor-Authenticated": "0"},
			remote:  "10.0.0.1:54321",
			wantIP:  "10.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/formgate/verify?form=contact", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			req := s.processRequestData(r)
			if req.FormID != "contact" {
				t.Errorf("FormID = %q, want contact", req.FormID)
			}
			if req.RemoteIP != tt.wantIP {
				t.Errorf("RemoteIP = %q, want %q", req.RemoteIP, tt.wantIP)
			}
			if req.LoggedIn != tt.wantIn {
				t.Errorf("LoggedIn = %v, want %v", req.LoggedIn, tt.wantIn)
			}
			if len(req.Roles) != len(tt.roles) {
				t.Fatalf("Roles = %v, want %v", req.Roles, tt.roles)
			}
			for i := range tt.roles {
				if req.Roles[i] != tt.roles[i] {
					t.Errorf("Roles = %v, want %v", req.Roles, tt.roles)
				}
			}
		})
	}
}

func TestHandleVerify(t *testing.T) {
	s := newTestServer(&config.Settings{EnabledForms: []string{"contact"}})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleVerify(w, httptest.NewRequest("GET", "/formgate/verify?form=contact", nil))
		if w.Code != 405 {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	t.Run("unprotected form passes", func(t *testing.T) {
		body := url.Values{"email": {"a@example.com"}}.Encode()
		r := httptest.NewRequest("POST", "/formgate/verify?form=newsletter", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		s.handleVerify(w, r)

		if w.Code != 200 {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp verifyResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if !resp.OK {
			t.Errorf("expected ok response, got %+v", resp)
		}
	})

	t.Run("protected form without strategy passes", func(t *testing.T) {
		// No provider and no honeypot configured: nothing to check.
		r := httptest.NewRequest("POST", "/formgate/verify?form=contact", strings.NewReader(""))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		s.handleVerify(w, r)
		if w.Code != 200 {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})
}

func TestHandleVerify_RejectionShape(t *testing.T) {
	settings := &config.Settings{
		EnabledForms: []string{"contact"},
		BlocklistIPs: "203.0.113.0/24",
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{}, dataType.NewMemoryStore(8), nil, nil)
	s := &Server{
		cfg: &config.MainConfig{
			WebPath:             "/formgate",
			ConnectingIPHeaders: []string{"Formgate-Real-IP"},
		},
		guard: check.NewGuard(check.Deps{
			Settings:  settings,
			Limiter:   limiter,
			Blocklist: dataType.ParseIPList(settings.BlocklistIPs),
		}),
	}

	r := httptest.NewRequest("POST", "/formgate/verify?form=contact", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Formgate-Real-IP", "203.0.113.9")
	w := httptest.NewRecorder()
	s.handleVerify(w, r)

	if w.Code != 403 {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var resp verifyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.OK || resp.Code != string(dataType.CodeBlocked) {
		t.Errorf("response = %+v, want blocked rejection", resp)
	}
	if resp.Message == "" {
		t.Errorf("rejection must carry a user-facing message")
	}
}

func TestHandleHealthCheck(t *testing.T) {
	s := newTestServer(nil)
	w := httptest.NewRecorder()
	s.handleHealthCheck(w, httptest.NewRequest("GET", "/formgate/health_check", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "ok\n") {
		t.Errorf("health body should start with ok: %q", body)
	}
	if !strings.Contains(body, "version="+dataType.FormgateVersion) {
		t.Errorf("health body missing version: %q", body)
	}
	if !strings.Contains(body, "node=Formgate") {
		t.Errorf("health body missing node name: %q", body)
	}
}

func TestHandleRender(t *testing.T) {
	s := newTestServer(&config.Settings{EnabledForms: []string{"contact"}})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleRender(w, httptest.NewRequest("POST", "/formgate/render?form=contact", nil))
		if w.Code != 405 {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	t.Run("unprotected form", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.handleRender(w, httptest.NewRequest("GET", "/formgate/render?form=newsletter", nil))
		if w.Code != 200 {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp renderResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Enabled {
			t.Errorf("unprotected form should render disabled")
		}
	})
}
