package check

import (
	"context"
	"sync"

	"formgate/internal/action"
	"formgate/internal/captcha"
	"formgate/internal/config"
	"formgate/internal/dataType"
	"formgate/internal/ratelimit"
	"formgate/internal/utils"
)

// Deps carries the constructed collaborators every check function reads.
// SkipPredicates is a per-call snapshot taken by the Guard.
type Deps struct {
	Settings  *config.Settings
	Whitelist *dataType.IPList
	Blocklist *dataType.IPList
	Limiter   *ratelimit.Limiter
	Provider  captcha.Provider
	Honeypot  *captcha.Honeypot
	Logx      *utils.LogxManager

	SkipPredicates []SkipPredicate
}

// CheckFunc is one stage of the verify pipeline. A stage either lets the
// decision Continue or settles it as Done.
type CheckFunc func(context.Context, *dataType.FormRequest, *Deps, *action.Decision)

// Guard is the composition root: it strings skip rules, the blocklist, the
// lockout check and the provider (with failsafe) into a single verify-or-
// reject decision per protected form submission.
//
// Ordering is fixed and load-bearing: skip rules run before the lockout
// check, so allowlisted actors are never turned away by a lockout on their
// address.
type Guard struct {
	deps Deps

	mu        sync.RWMutex
	skipPreds []SkipPredicate
}

func NewGuard(deps Deps) *Guard {
	return &Guard{deps: deps}
}

// RegisterSkipPredicate adds an external exemption consulted on every render
// and verify call. Safe for concurrent use with in-flight requests.
func (g *Guard) RegisterSkipPredicate(pred SkipPredicate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipPreds = append(g.skipPreds, pred)
}

func (g *Guard) snapshotDeps() Deps {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deps := g.deps
	deps.SkipPredicates = g.skipPreds
	return deps
}

// Verify decides one form submission. Unprotected forms and skipped actors
// pass without provider work; everything else flows through the check
// pipeline until a stage settles the decision.
func (g *Guard) Verify(ctx context.Context, req *dataType.FormRequest) *dataType.VerifyResult {
	deps := g.snapshotDeps()

	if !deps.Settings.FormEnabled(req.FormID) {
		res := dataType.Ok()
		res.Details = "form not protected"
		return res
	}

	decision := action.NewDecision()

	checkFuncs := make([]CheckFunc, 0)
	checkFuncs = append(checkFuncs, SkipRules)
	checkFuncs = append(checkFuncs, IPBlocklist)
	checkFuncs = append(checkFuncs, Lockout)
	checkFuncs = append(checkFuncs, ProviderVerify)

	for _, checkFunc := range checkFuncs {
		checkFunc(ctx, req, &deps, decision)
		if decision.State == action.Done {
			break
		}
	}

	res := decision.Result
	if res == nil {
		// ProviderVerify always settles; reaching here means the pipeline
		// was misassembled, so fail open rather than reject a human.
		deps.Logx.LogError(req, "check pipeline ended undecided", "")
		res = dataType.Ok()
	}
	deps.Logx.LogVerify(req, res)
	return res
}

// Render returns the widget or challenge data for a protected form, or nil
// when the form is unprotected, the actor is exempt, or nothing is
// configured to render.
func (g *Guard) Render(ctx context.Context, req *dataType.FormRequest) (map[string]string, error) {
	deps := g.snapshotDeps()

	if !deps.Settings.FormEnabled(req.FormID) {
		return nil, nil
	}
	if skip, _ := shouldSkip(req, &deps); skip {
		return nil, nil
	}
	if deps.Provider != nil {
		return deps.Provider.Render(ctx, req)
	}
	if deps.Settings.EnableHoneypot && deps.Honeypot != nil {
		return deps.Honeypot.Render(ctx, req)
	}
	return nil, nil
}

// RotateHoneypotField regenerates the honeypot's persisted field name.
func (g *Guard) RotateHoneypotField(ctx context.Context) (string, error) {
	if g.deps.Honeypot == nil {
		return "", nil
	}
	return g.deps.Honeypot.RotateFieldName(ctx)
}

// Honeypot exposes the local strategy for observability surfaces.
func (g *Guard) Honeypot() *captcha.Honeypot {
	return g.deps.Honeypot
}
