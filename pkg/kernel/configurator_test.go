package kernel

import (
	"errors"
	"testing"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/multierr"
)

// TestForWithoutUse tests that For before any Use is a configuration error
func TestForWithoutUse(t *testing.T) {
	_, err := New(&Config{Module: Declarations{Routes: func(c *Configurator) {
		c.For(route.Prefix("/users"))
	}}})
	if !errors.Is(err, common.ErrForWithoutUse) {
		t.Errorf("Expected ErrForWithoutUse, got %v", err)
	}
	if !common.IsConfigurationError(err) {
		t.Errorf("Expected a ConfigurationError, got %T", err)
	}
}

// TestExcludeWithoutFor tests that Exclude directly after Use is a configuration error
func TestExcludeWithoutFor(t *testing.T) {
	_, err := New(&Config{Module: Declarations{Routes: func(c *Configurator) {
		c.Use(passthrough("auth")).Exclude(route.Except("/users/:id")).For(route.Prefix("/users"))
	}}})
	if !errors.Is(err, common.ErrExcludeWithoutFor) {
		t.Errorf("Expected ErrExcludeWithoutFor, got %v", err)
	}
}

// TestExcludeBeforeAnyUse tests that Exclude with nothing declared is reported as a missing For
func TestExcludeBeforeAnyUse(t *testing.T) {
	c := newConfigurator()
	c.Exclude(route.Except("/x"))
	if !errors.Is(c.Err(), common.ErrExcludeWithoutFor) {
		t.Errorf("Expected ErrExcludeWithoutFor, got %v", c.Err())
	}
}

// TestUseWithoutFor tests that a group without targets fails at commit
func TestUseWithoutFor(t *testing.T) {
	_, err := New(&Config{Module: Declarations{Routes: func(c *Configurator) {
		c.Use(passthrough("auth"))
	}}})
	if !errors.Is(err, common.ErrUseWithoutFor) {
		t.Errorf("Expected ErrUseWithoutFor, got %v", err)
	}
}

// TestUseWithoutDescriptors tests empty and nil Use calls
func TestUseWithoutDescriptors(t *testing.T) {
	c := newConfigurator()
	c.Use().For(route.Prefix("/"))
	c.Use(nil).For(route.Prefix("/"))
	errs := multierr.Errors(c.Err())
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d: %v", len(errs), c.Err())
	}
	if !errors.Is(errs[0], common.ErrNoDescriptors) {
		t.Errorf("Expected ErrNoDescriptors, got %v", errs[0])
	}
	if !errors.Is(errs[1], common.ErrNilDescriptor) {
		t.Errorf("Expected ErrNilDescriptor, got %v", errs[1])
	}
}

// TestInvalidTargetsAndPatterns tests that target and pattern errors accumulate
func TestInvalidTargetsAndPatterns(t *testing.T) {
	c := newConfigurator()
	c.Use(passthrough("a")).For(route.Target{}).For(route.Prefix("/a")).Exclude(route.Except("/:"))
	c.For(route.Prefix("/b"))

	errs := multierr.Errors(c.Err())
	if len(errs) != 2 {
		t.Fatalf("Expected 2 errors, got %d: %v", len(errs), c.Err())
	}
	if !errors.Is(errs[0], common.ErrInvalidTarget) {
		t.Errorf("Expected ErrInvalidTarget first, got %v", errs[0])
	}
	if !common.IsConfigurationError(errs[1]) {
		t.Errorf("Expected pattern configuration error, got %v", errs[1])
	}
	// A later For extends the open group.
	if targets := c.groups[0].targets; len(targets) != 2 {
		t.Errorf("Expected 2 valid targets in the group, got %v", targets)
	}
}

// TestNothingCommittedOnError tests that a failing configuration registers no rule
func TestNothingCommittedOnError(t *testing.T) {
	g := NewRegistry(nil, nil)
	c := newConfigurator()
	c.Use(passthrough("a")).For(route.Prefix("/a"))
	c.Use(passthrough("b"))
	if err := c.commit(g); err == nil {
		t.Fatal("Expected commit to fail")
	}
	if len(g.Rules()) != 0 {
		t.Errorf("Expected no rules after a failed commit, got %d", len(g.Rules()))
	}
}

// TestForAccumulatesTargets tests that repeated For calls extend the same group
func TestForAccumulatesTargets(t *testing.T) {
	g := NewRegistry(nil, nil)
	c := newConfigurator()
	c.Use(passthrough("a")).For(route.Prefix("/a")).For(route.Prefix("/b")).Exclude(route.Except("/a/x"))
	if err := c.commit(g); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	rules := g.Rules()
	if len(rules) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(rules))
	}
	if rules[0].Group != rules[1].Group {
		t.Error("Expected both rules in the same group")
	}
	if len(rules[1].Exclusions) != 1 {
		t.Errorf("Expected exclusions to apply to every target of the group, got %v", rules[1].Exclusions)
	}
}
