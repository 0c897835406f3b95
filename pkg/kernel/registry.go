package kernel

import (
	"sync/atomic"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/zap"
)

// Rule scopes one middleware descriptor to one target.
// Rules declared by the same Use call share a Group; a descriptor runs at most once per group.
type Rule struct {
	Descriptor *common.Descriptor
	Target     route.Target
	Exclusions []route.Exclusion
	Group      int // rule group, one per Use call
	Index      int // declaration index, assigned on registration
}

// Outcome is the result of evaluating one rule against a request.
type Outcome int

const (
	// Included means the rule's middleware is part of the resolved chain.
	Included Outcome = iota
	// TargetMismatch means the rule's target does not apply to the request.
	TargetMismatch
	// Excluded means the target applied but an exclusion fired.
	Excluded
	// Duplicate means the descriptor was already included through another target of the same group.
	Duplicate
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Included:
		return "included"
	case TargetMismatch:
		return "target_mismatch"
	case Excluded:
		return "excluded"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Decision explains how a rule was evaluated for a request.
type Decision struct {
	Rule      Rule
	Outcome   Outcome
	Exclusion *route.Exclusion // the exclusion that fired, for Excluded
}

// Registry holds the global middleware list and the route-scoped rules.
// It is written only before Freeze; afterwards resolution reads it without locking.
type Registry struct {
	logger  *zap.Logger
	matcher *route.Matcher

	globals     []*common.Descriptor
	rules       []Rule
	controllers bool // some rule targets a controller
	frozen      atomic.Bool
}

// NewRegistry creates an empty registry. lookup maps requests to controllers and may be nil
// when no rule targets a controller.
func NewRegistry(lookup route.Lookup, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		matcher: route.NewMatcher(lookup),
	}
}

// RegisterGlobal appends descriptors to the global list.
func (g *Registry) RegisterGlobal(descriptors ...*common.Descriptor) error {
	if g.frozen.Load() {
		return common.NewConfigurationError("register global", common.ErrRegistryFrozen, "")
	}
	for _, d := range descriptors {
		if d == nil {
			return common.NewConfigurationError("register global", common.ErrNilDescriptor, "")
		}
	}
	g.globals = append(g.globals, descriptors...)
	return nil
}

// RegisterRouteRule validates and appends a rule. The rule's Index is assigned here.
func (g *Registry) RegisterRouteRule(rule Rule) error {
	if g.frozen.Load() {
		return common.NewConfigurationError("register rule", common.ErrRegistryFrozen, "")
	}
	if rule.Descriptor == nil {
		return common.NewConfigurationError("register rule", common.ErrNilDescriptor, "")
	}
	if err := rule.Target.Validate(); err != nil {
		return err
	}
	for _, e := range rule.Exclusions {
		if _, err := g.matcher.Pattern(e.Path); err != nil {
			return common.NewConfigurationError("exclude", err, e.String())
		}
	}
	rule.Exclusions = append([]route.Exclusion(nil), rule.Exclusions...)
	rule.Index = len(g.rules)
	if rule.Target.IsController() {
		g.controllers = true
	}
	g.rules = append(g.rules, rule)
	return nil
}

// Freeze makes the registry read-only. It is idempotent.
func (g *Registry) Freeze() {
	if g.frozen.CompareAndSwap(false, true) {
		g.logger.Info("Middleware registry frozen",
			zap.Int("global", len(g.globals)),
			zap.Int("rules", len(g.rules)),
		)
	}
}

// Frozen reports whether Freeze has been called.
func (g *Registry) Frozen() bool {
	return g.frozen.Load()
}

// SetLookup replaces the route lookup. Resolutions in progress keep the previous one.
func (g *Registry) SetLookup(lookup route.Lookup) {
	g.matcher.SetLookup(lookup)
}

// NeedsLookup reports whether a controller target exists without a lookup to resolve it.
func (g *Registry) NeedsLookup() bool {
	return g.controllers && !g.matcher.HasLookup()
}

// Globals returns a copy of the global list.
func (g *Registry) Globals() []*common.Descriptor {
	return append([]*common.Descriptor(nil), g.globals...)
}

// Rules returns a copy of the rules in declaration order.
func (g *Registry) Rules() []Rule {
	return append([]Rule(nil), g.rules...)
}

// Resolve returns the middleware for a request: the globals in order, then every rule,
// in declaration order, whose target matches and none of whose exclusions match.
func (g *Registry) Resolve(path, method string) []*common.Descriptor {
	return g.resolve(g.matcher.Request(path, method), nil)
}

// ResolveRoute is Resolve for a request the router already matched.
func (g *Registry) ResolveRoute(path, method string, info route.RouteInfo) []*common.Descriptor {
	return g.resolve(g.matcher.Request(path, method).WithRoute(info), nil)
}

// Explain evaluates every rule against a request and reports the outcome of each.
func (g *Registry) Explain(path, method string) []Decision {
	decisions := make([]Decision, 0, len(g.rules))
	g.resolve(g.matcher.Request(path, method), &decisions)
	return decisions
}

type groupMember struct {
	group int
	d     *common.Descriptor
}

func (g *Registry) resolve(q *route.Request, decisions *[]Decision) []*common.Descriptor {
	out := make([]*common.Descriptor, 0, len(g.globals)+len(g.rules))
	out = append(out, g.globals...)

	var seen map[groupMember]struct{}
	for _, rule := range g.rules {
		outcome, fired := g.evaluate(rule, q)
		if outcome == Included {
			key := groupMember{group: rule.Group, d: rule.Descriptor}
			if _, dup := seen[key]; dup {
				outcome = Duplicate
			} else {
				if seen == nil {
					seen = make(map[groupMember]struct{})
				}
				seen[key] = struct{}{}
				out = append(out, rule.Descriptor)
			}
		}
		if decisions != nil {
			*decisions = append(*decisions, Decision{Rule: rule, Outcome: outcome, Exclusion: fired})
		}
	}
	return out
}

func (g *Registry) evaluate(rule Rule, q *route.Request) (Outcome, *route.Exclusion) {
	if !g.matcher.TargetMatches(rule.Target, q) {
		return TargetMismatch, nil
	}
	for i := range rule.Exclusions {
		if g.matcher.ExclusionMatches(rule.Exclusions[i], q) {
			e := rule.Exclusions[i]
			return Excluded, &e
		}
	}
	return Included, nil
}
