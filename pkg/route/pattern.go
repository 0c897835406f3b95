package route

import (
	"fmt"
	"strings"

	"github.com/Suhaibinator/SKernel/pkg/common"
)

type segmentKind int

const (
	staticSegment segmentKind = iota
	paramSegment
	wildcardSegment
)

type segment struct {
	kind  segmentKind
	value string // literal text, or the parameter name
}

// Param is a single named value captured by a pattern.
type Param struct {
	Key   string
	Value string
}

// Params is the ordered list of captured values.
type Params []Param

// ByName returns the value of the first parameter with the given name, or "".
func (ps Params) ByName(name string) string {
	for _, p := range ps {
		if p.Key == name {
			return p.Value
		}
	}
	return ""
}

// Pattern is a compiled route pattern in the httprouter grammar:
// static segments match literally, ":name" matches exactly one non-empty segment,
// and "*name" (or a bare "*") as the last segment matches the remainder of the path,
// including nothing at all. Trailing slashes are not significant.
type Pattern struct {
	raw      string
	segments []segment
}

// Compile parses pattern.
func Compile(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, common.NewConfigurationError("pattern", fmt.Errorf("empty pattern"), "")
	}
	p := Pattern{raw: pattern}
	parts := splitPath(pattern)
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			if len(part) == 1 {
				return Pattern{}, common.NewConfigurationError("pattern", fmt.Errorf("parameter without a name"), pattern)
			}
			p.segments = append(p.segments, segment{kind: paramSegment, value: part[1:]})
		case strings.HasPrefix(part, "*"):
			if i != len(parts)-1 {
				return Pattern{}, common.NewConfigurationError("pattern", fmt.Errorf("wildcard must be the last segment"), pattern)
			}
			name := part[1:]
			if name == "" {
				name = "*"
			}
			p.segments = append(p.segments, segment{kind: wildcardSegment, value: name})
		default:
			p.segments = append(p.segments, segment{kind: staticSegment, value: part})
		}
	}
	return p, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and package-level patterns.
func MustCompile(pattern string) Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether path matches the whole pattern and returns the captured parameters.
func (p Pattern) Match(path string) (Params, bool) {
	parts := splitPath(path)
	var params Params
	for i, seg := range p.segments {
		switch seg.kind {
		case wildcardSegment:
			params = append(params, Param{Key: seg.value, Value: "/" + strings.Join(parts[i:], "/")})
			return params, true
		case paramSegment:
			if i >= len(parts) || parts[i] == "" {
				return nil, false
			}
			params = append(params, Param{Key: seg.value, Value: parts[i]})
		default:
			if i >= len(parts) || parts[i] != seg.value {
				return nil, false
			}
		}
	}
	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}

// score ranks patterns for lookup: a static segment beats a parameter, which beats a wildcard,
// compared left to right. Higher wins.
func (p Pattern) score() []int {
	s := make([]int, len(p.segments))
	for i, seg := range p.segments {
		switch seg.kind {
		case staticSegment:
			s[i] = 3
		case paramSegment:
			s[i] = 2
		default:
			s[i] = 1
		}
	}
	return s
}

// moreSpecific reports whether a should be preferred over b when both match.
func moreSpecific(a, b Pattern) bool {
	sa, sb := a.score(), b.score()
	for i := 0; i < len(sa) && i < len(sb); i++ {
		if sa[i] != sb[i] {
			return sa[i] > sb[i]
		}
	}
	return len(sa) > len(sb)
}

// splitPath splits a path into segments, ignoring the leading and trailing slash.
// "/" and "" have no segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
