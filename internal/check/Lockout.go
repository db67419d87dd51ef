package check

import (
	"context"
	"fmt"
	"time"

	"formgate/internal/action"
	"formgate/internal/dataType"
)

// Lockout rejects submissions from an IP inside an active lockout window,
// telling the actor how long to wait. No failure is recorded for a locked-out
// attempt; the lockout must expire on its own.
func Lockout(ctx context.Context, req *dataType.FormRequest, deps *Deps, decision *action.Decision) {
	if !deps.Limiter.IsLockedOut(ctx, req.RemoteIP) {
		decision.Set(action.Continue)
		return
	}
	remaining := deps.Limiter.LockoutRemaining(ctx, req.RemoteIP)
	res := dataType.ErrMessage(dataType.CodeLockedOut, lockoutMessage(remaining))
	res.Details = fmt.Sprintf("lockout remaining %s", remaining)
	deps.Logx.LogInfo(req, "locked out submission rejected", res.Details)
	decision.SetResult(action.Done, res)
}

// lockoutMessage renders the remaining time in minutes, switching to hours
// past the one hour mark. Always rounds up so the actor never retries early.
func lockoutMessage(remaining time.Duration) string {
	minutes := int64((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 60 {
		hours := (minutes + 59) / 60
		return fmt.Sprintf("Too many failed attempts. Please try again in about %d hours.", hours)
	}
	if minutes == 1 {
		return "Too many failed attempts. Please try again in 1 minute."
	}
	return fmt.Sprintf("Too many failed attempts. Please try again in %d minutes.", minutes)
}
