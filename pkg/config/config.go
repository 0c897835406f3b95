// Package config loads middleware rules from a YAML file.
//
// A file names middleware; a Catalog maps those names to descriptors. Module turns a
// validated file into a kernel.Module:
//
//	stall_timeout: 5s
//	global: [trace, logging]
//	rules:
//	  - use: [auth]
//	    for: [{controller: users}, {prefix: /admin}]
//	    exclude: [{path: /users/:id, method: GET}]
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrUnknownMiddleware is returned when a file names middleware missing from the catalog.
var ErrUnknownMiddleware = errors.New("unknown middleware")

// File is the parsed form of a rule file.
type File struct {
	StallTimeout time.Duration `yaml:"stall_timeout" validate:"gte=0"`
	Global       []string      `yaml:"global" validate:"dive,required"`
	Rules        []Rule        `yaml:"rules" validate:"dive"`
}

// Rule is one Use(...).For(...).Exclude(...) declaration.
type Rule struct {
	Use     []string    `yaml:"use" validate:"required,min=1,dive,required"`
	For     []Target    `yaml:"for" validate:"required,min=1,dive"`
	Exclude []Exclusion `yaml:"exclude" validate:"dive"`
}

// Target names a controller or a path prefix, optionally for one method.
type Target struct {
	Controller string `yaml:"controller"`
	Prefix     string `yaml:"prefix" validate:"omitempty,startswith=/"`
	Method     string `yaml:"method" validate:"omitempty,alpha"`
}

// Exclusion is a path pattern, optionally for one method.
type Exclusion struct {
	Path   string `yaml:"path" validate:"required,startswith=/"`
	Method string `yaml:"method" validate:"omitempty,excludesall=/"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateTarget, Target{})
	return v
}

// validateTarget requires exactly one of controller and prefix.
func validateTarget(sl validator.StructLevel) {
	t := sl.Current().Interface().(Target)
	if (t.Controller == "") == (t.Prefix == "") {
		sl.ReportError(t.Controller, "Controller", "controller", "target", "")
	}
}

// Load reads and parses the rule file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewConfigurationError("load", err, path)
	}
	return Parse(data)
}

// Parse decodes and validates a rule file. Every validation failure is reported,
// combined with multierr.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, common.NewConfigurationError("parse", err, "")
	}
	if err := newValidator().Struct(&f); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, common.NewConfigurationError("validate", err, "")
		}
		var errs error
		for _, fe := range fieldErrs {
			errs = multierr.Append(errs, common.NewConfigurationError("validate",
				fmt.Errorf("%s failed the %q rule", fe.Namespace(), fe.Tag()), fmt.Sprint(fe.Value())))
		}
		return nil, errs
	}
	return &f, nil
}

// Module resolves the file's middleware names against catalog and returns the
// declarations as a kernel.Module. Unknown names are configuration errors.
func Module(f *File, catalog *Catalog) (kernel.Module, error) {
	if f == nil {
		return kernel.Declarations{}, nil
	}
	var errs error
	lookup := func(names []string) []*common.Descriptor {
		out := make([]*common.Descriptor, 0, len(names))
		for _, name := range names {
			d, ok := catalog.Get(name)
			if !ok {
				errs = multierr.Append(errs, common.NewConfigurationError("config", ErrUnknownMiddleware, name))
				continue
			}
			out = append(out, d)
		}
		return out
	}

	global := lookup(f.Global)
	type rule struct {
		use        []*common.Descriptor
		targets    []route.Target
		exclusions []route.Exclusion
	}
	rules := make([]rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rl := rule{use: lookup(r.Use)}
		for _, t := range r.For {
			target := route.Target{Controller: t.Controller, Prefix: t.Prefix}
			if t.Method != "" {
				target = target.WithMethod(t.Method)
			}
			rl.targets = append(rl.targets, target)
		}
		for _, e := range r.Exclude {
			if e.Method == "" {
				rl.exclusions = append(rl.exclusions, route.Except(e.Path))
			} else {
				rl.exclusions = append(rl.exclusions, route.ExceptMethod(e.Method, e.Path))
			}
		}
		rules = append(rules, rl)
	}
	if errs != nil {
		return nil, errs
	}

	return kernel.Declarations{
		Global: global,
		Routes: func(c *kernel.Configurator) {
			for _, r := range rules {
				c.Use(r.use...).For(r.targets...)
				if len(r.exclusions) > 0 {
					c.Exclude(r.exclusions...)
				}
			}
		},
	}, nil
}

// NewKernel loads the rule file at path and starts a kernel from it. base supplies
// everything the file does not; the file's stall timeout wins when set.
func NewKernel(path string, catalog *Catalog, base kernel.Config) (*kernel.Kernel, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	m, err := Module(f, catalog)
	if err != nil {
		return nil, err
	}
	base.Module = m
	if f.StallTimeout > 0 {
		base.StallTimeout = f.StallTimeout
	}
	return kernel.New(&base)
}
