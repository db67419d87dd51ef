package check

import (
	"context"

	"formgate/internal/action"
	"formgate/internal/dataType"
)

// IPBlocklist rejects submissions from blocklisted addresses outright,
// before any lockout or provider work. Runs after SkipRules, so an exemption
// still outranks the blocklist, mirroring allow-before-block ordering.
func IPBlocklist(_ context.Context, req *dataType.FormRequest, deps *Deps, decision *action.Decision) {
	if deps.Blocklist.Match(req.RemoteIP) {
		deps.Logx.LogInfo(req, "blocklisted ip rejected", "")
		decision.SetResult(action.Done, dataType.ErrDetails(dataType.CodeBlocked, "ip on blocklist"))
		return
	}
	decision.Set(action.Continue)
}
