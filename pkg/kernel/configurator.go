package kernel

import (
	"strings"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/multierr"
)

// group is a rule group in progress: the descriptors of one Use call,
// the targets added by For and the exclusions added by Exclude.
type group struct {
	descriptors []*common.Descriptor
	targets     []route.Target
	exclusions  []route.Exclusion
}

// Configurator declares route-scoped middleware:
//
//	c.Use(auth).For(route.Controller("users"), route.Prefix("/admin")).
//		Exclude(route.ExceptMethod("GET", "/users/:id"))
//
// Each Use starts a new rule group. Nothing is visible to resolution until the
// configurator is committed, which the kernel does after Module.Configure returns.
// Misuse is recorded and reported by Err and by the commit.
type Configurator struct {
	groups  []*group
	current *group
	err     error
}

func newConfigurator() *Configurator {
	return &Configurator{}
}

// Use starts a new rule group with the given descriptors, in order.
func (c *Configurator) Use(descriptors ...*common.Descriptor) *Configurator {
	g := &group{}
	c.groups = append(c.groups, g)
	c.current = g

	if len(descriptors) == 0 {
		c.fail(common.NewConfigurationError("use", common.ErrNoDescriptors, ""))
		return c
	}
	for _, d := range descriptors {
		if d == nil {
			c.fail(common.NewConfigurationError("use", common.ErrNilDescriptor, ""))
			continue
		}
		g.descriptors = append(g.descriptors, d)
	}
	return c
}

// For adds targets to the group started by the last Use.
func (c *Configurator) For(targets ...route.Target) *Configurator {
	if c.current == nil {
		c.fail(common.NewConfigurationError("for", common.ErrForWithoutUse, ""))
		return c
	}
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			c.fail(err)
			continue
		}
		c.current.targets = append(c.current.targets, t)
	}
	return c
}

// Exclude adds exclusions to the group in progress. It requires a preceding For.
func (c *Configurator) Exclude(exclusions ...route.Exclusion) *Configurator {
	if c.current == nil || len(c.current.targets) == 0 {
		c.fail(common.NewConfigurationError("exclude", common.ErrExcludeWithoutFor, ""))
		return c
	}
	for _, e := range exclusions {
		if _, err := route.Compile(e.Path); err != nil {
			c.fail(common.NewConfigurationError("exclude", err, e.String()))
			continue
		}
		c.current.exclusions = append(c.current.exclusions, e)
	}
	return c
}

// Err returns the errors recorded so far, combined.
func (c *Configurator) Err() error {
	return c.err
}

func (c *Configurator) fail(err error) {
	c.err = multierr.Append(c.err, err)
}

// commit registers every group with the registry, descriptor by descriptor and
// target by target. It registers nothing if any error was recorded.
func (c *Configurator) commit(registry *Registry) error {
	err := c.err
	for _, g := range c.groups {
		if len(g.descriptors) > 0 && len(g.targets) == 0 {
			err = multierr.Append(err, common.NewConfigurationError("use", common.ErrUseWithoutFor, descriptorNames(g.descriptors)))
		}
	}
	if err != nil {
		return err
	}

	for id, g := range c.groups {
		for _, d := range g.descriptors {
			for _, t := range g.targets {
				rule := Rule{Descriptor: d, Target: t, Exclusions: g.exclusions, Group: id}
				if regErr := registry.RegisterRouteRule(rule); regErr != nil {
					err = multierr.Append(err, regErr)
				}
			}
		}
	}
	return err
}

func descriptorNames(ds []*common.Descriptor) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return strings.Join(names, ", ")
}
