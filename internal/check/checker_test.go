package check

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"formgate/internal/captcha"
	"formgate/internal/config"
	"formgate/internal/dataType"
	"formgate/internal/ratelimit"
)

// stubProvider scripts the active strategy's answer.
type stubProvider struct {
	id    dataType.ProviderID
	res   *dataType.VerifyResult
	err   error
	calls int
}

func (p *stubProvider) ID() dataType.ProviderID { return p.id }

func (p *stubProvider) Render(_ context.Context, _ *dataType.FormRequest) (map[string]string, error) {
	return map[string]string{"provider": string(p.id)}, nil
}

func (p *stubProvider) Verify(_ context.Context, _ *dataType.FormRequest) (*dataType.VerifyResult, error) {
	p.calls++
	return p.res, p.err
}

type guardFixture struct {
	guard    *Guard
	settings *config.Settings
	limiter  *ratelimit.Limiter
	store    *dataType.MemoryStore
	provider *stubProvider
}

func newGuardFixture(t *testing.T, mutate func(*Deps, *guardFixture)) *guardFixture {
	t.Helper()
	f := &guardFixture{
		store: dataType.NewMemoryStore(8),
		settings: &config.Settings{
			Provider:     dataType.ProviderTurnstile,
			EnabledForms: []string{"contact"},
			FailsafeMode: config.FailsafeHoneypot,
		},
		provider: &stubProvider{id: dataType.ProviderTurnstile, res: dataType.Ok()},
	}
	f.limiter = ratelimit.NewLimiter(
		ratelimit.Config{Enabled: true, MaxAttempts: 3, LockoutMinutes: 15, WindowMinutes: 60},
		f.store, nil, nil)

	deps := Deps{
		Settings: f.settings,
		Limiter:  f.limiter,
		Provider: f.provider,
	}
	if mutate != nil {
		mutate(&deps, f)
	}
	f.guard = NewGuard(deps)
	return f
}

func contactRequest(ip string) *dataType.FormRequest {
	return &dataType.FormRequest{
		FormID:   "contact",
		RemoteIP: ip,
		Fields:   map[string]string{},
	}
}

func TestGuard_UnprotectedFormPasses(t *testing.T) {
	f := newGuardFixture(t, nil)
	req := contactRequest("203.0.113.9")
	req.FormID = "newsletter"

	res := f.guard.Verify(context.Background(), req)
	if !res.OK {
		t.Errorf("unprotected form rejected: code=%s", res.Code)
	}
	if f.provider.calls != 0 {
		t.Errorf("provider must not run for an unprotected form")
	}
}

func TestGuard_ProviderOutcomePropagates(t *testing.T) {
	ctx := context.Background()

	f := newGuardFixture(t, nil)
	if res := f.guard.Verify(ctx, contactRequest("203.0.113.9")); !res.OK {
		t.Errorf("passing provider outcome rejected: code=%s", res.Code)
	}

	f = newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
		fx.provider.res = dataType.Err(dataType.CodeVerificationFailed)
	})
	res := f.guard.Verify(ctx, contactRequest("203.0.113.9"))
	if res.OK || res.Code != dataType.CodeVerificationFailed {
		t.Errorf("failing provider outcome = OK=%v code=%s", res.OK, res.Code)
	}
}

func TestGuard_FailuresAccumulateIntoLockout(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
		fx.provider.res = dataType.Err(dataType.CodeVerificationFailed)
	})
	ip := "203.0.113.9"

	for i := 0; i < 3; i++ {
		res := f.guard.Verify(ctx, contactRequest(ip))
		if res.OK {
			t.Fatalf("failure %d unexpectedly passed", i+1)
		}
	}

	// The 4th attempt never reaches the provider.
	calls := f.provider.calls
	res := f.guard.Verify(ctx, contactRequest(ip))
	if res.OK || res.Code != dataType.CodeLockedOut {
		t.Errorf("expected locked_out, got OK=%v code=%s", res.OK, res.Code)
	}
	if f.provider.calls != calls {
		t.Errorf("locked-out submission must not invoke the provider")
	}
	if !strings.Contains(res.Message, "15 minutes") {
		t.Errorf("lockout message should name the remaining time: %q", res.Message)
	}
}

func TestGuard_SuccessClearsAccumulator(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
		fx.provider.res = dataType.Err(dataType.CodeVerificationFailed)
	})
	ip := "203.0.113.9"

	f.guard.Verify(ctx, contactRequest(ip))
	f.guard.Verify(ctx, contactRequest(ip))
	f.provider.res = dataType.Ok()
	f.guard.Verify(ctx, contactRequest(ip))

	if got := f.limiter.RemainingAttempts(ctx, ip); got != 3 {
		t.Errorf("RemainingAttempts after success = %d, want 3", got)
	}
}

func TestGuard_SkipRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps, *guardFixture)
		req    func() *dataType.FormRequest
	}{
		{
			name: "authenticated actor",
			mutate: func(deps *Deps, fx *guardFixture) {
				fx.settings.WhitelistLoggedIn = true
			},
			req: func() *dataType.FormRequest {
				r := contactRequest("203.0.113.9")
				r.LoggedIn = true
				return r
			},
		},
		{
			name: "allowlisted role",
			mutate: func(deps *Deps, fx *guardFixture) {
				fx.settings.WhitelistRoles = []string{"editor", "admin"}
			},
			req: func() *dataType.FormRequest {
				r := contactRequest("203.0.113.9")
				r.Roles = []string{"subscriber", "admin"}
				return r
			},
		},
		{
			name: "whitelisted ip",
			mutate: func(deps *Deps, _ *guardFixture) {
				deps.Whitelist = dataType.ParseIPList("203.0.113.0/24")
			},
			req: func() *dataType.FormRequest {
				return contactRequest("203.0.113.9")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGuardFixture(t, tt.mutate)
			res := f.guard.Verify(context.Background(), tt.req())
			if !res.OK {
				t.Errorf("exempt actor rejected: code=%s", res.Code)
			}
			if !strings.HasPrefix(res.Details, "skip: ") {
				t.Errorf("expected skip details, got %q", res.Details)
			}
			if f.provider.calls != 0 {
				t.Errorf("provider must not run for an exempt actor")
			}
		})
	}
}

func TestGuard_SkipOutranksLockout(t *testing.T) {
	ctx := context.Background()
	f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
		fx.settings.WhitelistRoles = []string{"admin"}
	})
	ip := "203.0.113.9"

	// Lock the address out.
	for i := 0; i < 3; i++ {
		f.limiter.RecordFailure(ctx, ip)
	}
	if !f.limiter.IsLockedOut(ctx, ip) {
		t.Fatalf("expected lockout")
	}

	req := contactRequest(ip)
	req.Roles = []string{"admin"}
	if res := f.guard.Verify(ctx, req); !res.OK {
		t.Errorf("allowlisted role turned away by lockout on its address: code=%s", res.Code)
	}
}

func TestGuard_SkipOutranksBlocklist(t *testing.T) {
	f := newGuardFixture(t, func(deps *Deps, _ *guardFixture) {
		deps.Whitelist = dataType.ParseIPList("203.0.113.9")
		deps.Blocklist = dataType.ParseIPList("203.0.113.0/24")
	})
	if res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9")); !res.OK {
		t.Errorf("whitelist entry should outrank the blocklist: code=%s", res.Code)
	}
}

func TestGuard_BlocklistRejects(t *testing.T) {
	f := newGuardFixture(t, func(deps *Deps, _ *guardFixture) {
		deps.Blocklist = dataType.ParseIPList("203.0.113.0/24")
	})
	res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
	if res.OK || res.Code != dataType.CodeBlocked {
		t.Errorf("expected blocked, got OK=%v code=%s", res.OK, res.Code)
	}
	if f.provider.calls != 0 {
		t.Errorf("provider must not run for a blocklisted ip")
	}
}

func TestGuard_RegisteredPredicateSkips(t *testing.T) {
	f := newGuardFixture(t, nil)
	f.guard.RegisterSkipPredicate(func(formID string, _ *dataType.FormRequest) bool {
		return formID == "contact"
	})
	if res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9")); !res.OK {
		t.Errorf("registered predicate did not exempt the submission: code=%s", res.Code)
	}
}

func TestGuard_FailsafeModes(t *testing.T) {
	transportErr := errors.New("dial tcp: connection refused")

	t.Run("block", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
			fx.settings.FailsafeMode = config.FailsafeBlock
			fx.provider.err = transportErr
			fx.provider.res = nil
		})
		res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
		if res.OK || res.Code != dataType.CodeServiceUnavailable {
			t.Errorf("expected service_unavailable, got OK=%v code=%s", res.OK, res.Code)
		}
	})

	t.Run("allow", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
			fx.settings.FailsafeMode = config.FailsafeAllow
			fx.provider.err = transportErr
			fx.provider.res = nil
		})
		res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
		if !res.OK {
			t.Errorf("failsafe allow rejected: code=%s", res.Code)
		}
	})

	t.Run("honeypot substitution", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
			fx.settings.FailsafeMode = config.FailsafeHoneypot
			fx.provider.err = transportErr
			fx.provider.res = nil
			deps.Honeypot = captcha.NewHoneypot(captcha.HoneypotOptions{
				Secret:  "test-secret",
				MinTime: 3,
			}, fx.store, nil, nil)
		})
		// The submission carries no honeypot fields at all, so the substitute
		// strategy rejects it as scriptless.
		res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
		if res.OK || res.Code != dataType.CodeNoJS {
			t.Errorf("expected no_js from the substitute honeypot, got OK=%v code=%s", res.OK, res.Code)
		}
	})

	t.Run("honeypot mode without honeypot allows", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
			fx.settings.FailsafeMode = config.FailsafeHoneypot
			fx.provider.err = transportErr
			fx.provider.res = nil
		})
		res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
		if !res.OK {
			t.Errorf("failsafe with no fallback strategy should allow: code=%s", res.Code)
		}
	})
}

func TestGuard_NoProvider(t *testing.T) {
	t.Run("honeypot carries the load", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, fx *guardFixture) {
			deps.Provider = nil
			fx.settings.EnableHoneypot = true
			deps.Honeypot = captcha.NewHoneypot(captcha.HoneypotOptions{
				Secret:  "test-secret",
				MinTime: 3,
				Primary: true,
			}, fx.store, nil, nil)
		})
		res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9"))
		if res.OK || res.Code != dataType.CodeNoJS {
			t.Errorf("expected honeypot rejection, got OK=%v code=%s", res.OK, res.Code)
		}
	})

	t.Run("nothing configured passes", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, _ *guardFixture) {
			deps.Provider = nil
		})
		if res := f.guard.Verify(context.Background(), contactRequest("203.0.113.9")); !res.OK {
			t.Errorf("no strategy configured should pass: code=%s", res.Code)
		}
	})
}

func TestGuard_Render(t *testing.T) {
	ctx := context.Background()

	t.Run("unprotected form renders nothing", func(t *testing.T) {
		f := newGuardFixture(t, nil)
		req := contactRequest("203.0.113.9")
		req.FormID = "newsletter"
		fields, err := f.guard.Render(ctx, req)
		if err != nil || fields != nil {
			t.Errorf("Render = (%v, %v), want (nil, nil)", fields, err)
		}
	})

	t.Run("exempt actor renders nothing", func(t *testing.T) {
		f := newGuardFixture(t, func(deps *Deps, _ *guardFixture) {
			deps.Whitelist = dataType.ParseIPList("203.0.113.9")
		})
		fields, err := f.guard.Render(ctx, contactRequest("203.0.113.9"))
		if err != nil || fields != nil {
			t.Errorf("Render = (%v, %v), want (nil, nil)", fields, err)
		}
	})

	t.Run("provider widget data", func(t *testing.T) {
		f := newGuardFixture(t, nil)
		fields, err := f.guard.Render(ctx, contactRequest("203.0.113.9"))
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if fields["provider"] != string(dataType.ProviderTurnstile) {
			t.Errorf("unexpected render data: %v", fields)
		}
	})
}

func TestLockoutMessage(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      string
	}{
		{30 * time.Second, "Too many failed attempts. Please try again in 1 minute."},
		{time.Minute, "Too many failed attempts. Please try again in 1 minute."},
		{14*time.Minute + 10*time.Second, "Too many failed attempts. Please try again in 15 minutes."},
		{60 * time.Minute, "Too many failed attempts. Please try again in 60 minutes."},
		{90 * time.Minute, "Too many failed attempts. Please try again in about 2 hours."},
		{0, "Too many failed attempts. Please try again in 1 minute."},
	}
	for _, tt := range tests {
		if got := lockoutMessage(tt.remaining); got != tt.want {
			t.Errorf("lockoutMessage(%s) = %q, want %q", tt.remaining, got, tt.want)
		}
	}
}
