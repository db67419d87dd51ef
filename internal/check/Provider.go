package check

import (
	"context"

	"formgate/internal/action"
	"formgate/internal/config"
	"formgate/internal/dataType"
)

// ProviderVerify invokes the active verification strategy and settles the
// decision. A transport failure from a remote provider is answered with the
// configured failsafe policy instead of reaching the actor as an error. The
// outcome, whoever produced it, is recorded with the rate limiter here and
// nowhere else: skip and lockout short-circuits never touch the counters.
func ProviderVerify(ctx context.Context, req *dataType.FormRequest, deps *Deps, decision *action.Decision) {
	provider := deps.Provider
	if provider == nil {
		// No provider configured; the honeypot carries the load alone when
		// enabled, otherwise there is nothing to check.
		if deps.Settings.EnableHoneypot && deps.Honeypot != nil {
			settle(ctx, req, deps, decision, honeypotVerify(ctx, req, deps))
			return
		}
		decision.SetResult(action.Done, dataType.Ok())
		return
	}

	res, err := provider.Verify(ctx, req)
	if err != nil {
		deps.Logx.LogError(req, "provider transport failure", err.Error())
		res = applyFailsafe(ctx, req, deps)
	}
	settle(ctx, req, deps, decision, res)
}

// applyFailsafe resolves a transport failure per failsafe_mode.
func applyFailsafe(ctx context.Context, req *dataType.FormRequest, deps *Deps) *dataType.VerifyResult {
	switch deps.Settings.FailsafeMode {
	case config.FailsafeBlock:
		return dataType.ErrDetails(dataType.CodeServiceUnavailable, "failsafe block")
	case config.FailsafeAllow:
		res := dataType.Ok()
		res.Details = "failsafe allow"
		return res
	default:
		if deps.Honeypot != nil {
			res := honeypotVerify(ctx, req, deps)
			if res.Details == "" {
				res.Details = "failsafe honeypot"
			}
			return res
		}
		res := dataType.Ok()
		res.Details = "failsafe honeypot unavailable, allowing"
		return res
	}
}

// honeypotVerify runs the local strategy, failing open on storage errors so
// a broken backend cannot reject humans.
func honeypotVerify(ctx context.Context, req *dataType.FormRequest, deps *Deps) *dataType.VerifyResult {
	res, err := deps.Honeypot.Verify(ctx, req)
	if err != nil {
		deps.Logx.LogError(req, "honeypot verify error", err.Error())
		open := dataType.Ok()
		open.Details = "honeypot storage error, allowing"
		return open
	}
	return res
}

// settle records the outcome and finalizes the decision.
func settle(ctx context.Context, req *dataType.FormRequest, deps *Deps, decision *action.Decision, res *dataType.VerifyResult) {
	if res.OK {
		deps.Limiter.RecordSuccess(ctx, req.RemoteIP)
	} else if deps.Limiter.RecordFailure(ctx, req.RemoteIP) {
		deps.Logx.LogLockout(req, deps.Limiter.LockoutRemaining(ctx, req.RemoteIP))
	}
	decision.SetResult(action.Done, res)
}
