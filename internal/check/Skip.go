package check

import (
	"context"

	"formgate/internal/action"
	"formgate/internal/dataType"
)

// SkipPredicate is an externally registered exemption, e.g. "this payment
// method carries its own fraud check". Returning true skips verification for
// the submission.
type SkipPredicate func(formID string, req *dataType.FormRequest) bool

// SkipRules accepts the submission without invoking any provider when the
// actor is exempt. First matching rule wins: allowlisted logged-in actors,
// allowlisted roles, whitelisted IPs, then registered predicates.
func SkipRules(_ context.Context, req *dataType.FormRequest, deps *Deps, decision *action.Decision) {
	if skip, reason := shouldSkip(req, deps); skip {
		res := dataType.Ok()
		res.Details = "skip: " + reason
		deps.Logx.LogDebug(req, "verification skipped", reason)
		decision.SetResult(action.Done, res)
		return
	}
	decision.Set(action.Continue)
}

func shouldSkip(req *dataType.FormRequest, deps *Deps) (bool, string) {
	st := deps.Settings
	if st.WhitelistLoggedIn && req.LoggedIn {
		return true, "authenticated actor"
	}
	for _, role := range req.Roles {
		for _, allowed := range st.WhitelistRoles {
			if role == allowed {
				return true, "allowlisted role " + role
			}
		}
	}
	if deps.Whitelist.Match(req.RemoteIP) {
		return true, "whitelisted ip"
	}
	for _, pred := range deps.SkipPredicates {
		if pred(req.FormID, req) {
			return true, "external predicate"
		}
	}
	return false, ""
}
