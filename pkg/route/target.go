// Package route decides which route-scoped middleware rules apply to a request.
// It defines rule targets and exclusions, the path pattern grammar used by exclusions,
// and the Lookup contract a router implements so rules can target controllers.
package route

import (
	"fmt"
	"strings"

	"github.com/Suhaibinator/SKernel/pkg/common"
)

// Target scopes a rule to a controller (a named group of routes) or to a path prefix.
// Exactly one of Controller or Prefix is set.
type Target struct {
	Controller string
	Prefix     string

	// Method optionally restricts the target to one HTTP method. Empty means all methods.
	Method string
}

// Prefix creates a path prefix target. The prefix is compared textually.
func Prefix(prefix string) Target {
	return Target{Prefix: prefix}
}

// Controller creates a controller target.
func Controller(name string) Target {
	return Target{Controller: name}
}

// WithMethod returns a copy of t restricted to method.
func (t Target) WithMethod(method string) Target {
	t.Method = strings.ToUpper(method)
	return t
}

// Validate checks that exactly one form is set.
func (t Target) Validate() error {
	if (t.Controller == "") == (t.Prefix == "") {
		return common.NewConfigurationError("for", common.ErrInvalidTarget, t.String())
	}
	return nil
}

// IsController reports whether the target names a controller.
func (t Target) IsController() bool {
	return t.Controller != ""
}

// String returns a readable form, e.g. "controller:users" or "prefix:/admin [POST]".
func (t Target) String() string {
	var s string
	switch {
	case t.Controller != "" && t.Prefix != "":
		s = fmt.Sprintf("controller:%s+prefix:%s", t.Controller, t.Prefix)
	case t.Controller != "":
		s = "controller:" + t.Controller
	case t.Prefix != "":
		s = "prefix:" + t.Prefix
	default:
		s = "<empty>"
	}
	if t.Method != "" {
		s += " [" + t.Method + "]"
	}
	return s
}

// Exclusion carves a path, optionally for a single method, out of an otherwise matching rule.
type Exclusion struct {
	Path string

	// Method restricts the exclusion to one HTTP method. Empty, "*" and "ALL" mean all methods.
	Method string
}

// Except excludes path for every method.
func Except(path string) Exclusion {
	return Exclusion{Path: path}
}

// ExceptMethod excludes path for a single method.
func ExceptMethod(method, path string) Exclusion {
	return Exclusion{Path: path, Method: strings.ToUpper(method)}
}

// AllMethods reports whether the exclusion applies to every method.
func (e Exclusion) AllMethods() bool {
	return e.Method == "" || e.Method == "*" || strings.EqualFold(e.Method, "ALL")
}

// String returns a readable form, e.g. "/users/:id [POST]".
func (e Exclusion) String() string {
	if e.AllMethods() {
		return e.Path
	}
	return e.Path + " [" + strings.ToUpper(e.Method) + "]"
}
