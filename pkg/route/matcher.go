package route

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Matcher decides whether rule targets and exclusions apply to a request.
// Exclusion patterns are compiled once and cached.
type Matcher struct {
	lookup   atomic.Pointer[lookupRef]
	patterns sync.Map // map[string]Pattern
}

type lookupRef struct {
	Lookup
}

// NewMatcher creates a matcher. lookup may be nil when no rule targets a controller.
func NewMatcher(lookup Lookup) *Matcher {
	m := &Matcher{}
	m.SetLookup(lookup)
	return m
}

// SetLookup replaces the route lookup. Requests already being matched keep the
// lookup they started with.
func (m *Matcher) SetLookup(lookup Lookup) {
	if lookup == nil {
		m.lookup.Store(nil)
		return
	}
	m.lookup.Store(&lookupRef{lookup})
}

// HasLookup reports whether a route lookup is configured.
func (m *Matcher) HasLookup() bool {
	return m.lookup.Load() != nil
}

func (m *Matcher) currentLookup() Lookup {
	if ref := m.lookup.Load(); ref != nil {
		return ref.Lookup
	}
	return nil
}

// Request is a request being matched. It memoizes the route lookup so that
// one resolution consults the router at most once.
type Request struct {
	Path   string
	Method string

	lookup Lookup
	looked bool
	info   RouteInfo
	found  bool
}

// Request prepares a request for matching.
func (m *Matcher) Request(path, method string) *Request {
	if path == "" {
		path = "/"
	}
	return &Request{Path: path, Method: strings.ToUpper(method), lookup: m.currentLookup()}
}

// WithRoute records an already known route, skipping the lookup.
func (q *Request) WithRoute(info RouteInfo) *Request {
	q.looked, q.found, q.info = true, true, info
	return q
}

// Route returns the route the request resolves to.
func (q *Request) Route() (RouteInfo, bool) {
	if !q.looked {
		q.looked = true
		if q.lookup != nil {
			q.info, q.found = q.lookup.Lookup(q.Method, q.Path)
		}
	}
	return q.info, q.found
}

// MatchesTarget reports whether t applies to path and method.
func (m *Matcher) MatchesTarget(t Target, path, method string) bool {
	return m.TargetMatches(t, m.Request(path, method))
}

// MatchesExclusion reports whether e carves path and method out of a rule.
func (m *Matcher) MatchesExclusion(e Exclusion, path, method string) bool {
	return m.ExclusionMatches(e, m.Request(path, method))
}

// TargetMatches is MatchesTarget for a prepared request.
// A prefix target is a literal textual prefix; parameter segments in it are not expanded.
// A controller target matches when the router resolves the request to a route of that controller.
func (m *Matcher) TargetMatches(t Target, q *Request) bool {
	if t.Method != "" && !strings.EqualFold(t.Method, q.Method) {
		return false
	}
	if t.Controller != "" {
		info, ok := q.Route()
		return ok && info.Controller == t.Controller
	}
	return strings.HasPrefix(q.Path, t.Prefix)
}

// ExclusionMatches is MatchesExclusion for a prepared request.
// The exclusion path is a pattern in the router's grammar that must match the whole request path,
// so an exclusion written as a route's own pattern matches every request resolved to that route.
func (m *Matcher) ExclusionMatches(e Exclusion, q *Request) bool {
	if !e.AllMethods() && !strings.EqualFold(e.Method, q.Method) {
		return false
	}
	p, err := m.Pattern(e.Path)
	if err != nil {
		return false
	}
	_, ok := p.Match(q.Path)
	return ok
}

// Pattern returns the compiled pattern for path, compiling and caching it on first use.
func (m *Matcher) Pattern(path string) (Pattern, error) {
	if p, ok := m.patterns.Load(path); ok {
		return p.(Pattern), nil
	}
	p, err := Compile(path)
	if err != nil {
		return Pattern{}, err
	}
	m.patterns.Store(path, p)
	return p, nil
}
