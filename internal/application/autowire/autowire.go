// Package autowire fills `infra:"dep:<name>"` fields from the container.
// A trailing '?' marks the dependency optional. After assignment the dep is
// also added to the component's runtime dependencies so start/stop order follows.
package autowire

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cabinet-fe/MiniDevOps/internal/application/core"
)

type runtimeDepAdder interface {
	AddDependencies(...string)
}

// InjectAll injects every registered component.
func InjectAll(c *core.Container) error {
	registered := c.ListRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if err := Inject(c, registered[name]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("autowire errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseTag(tag string) (name string, optional bool, ok bool) {
	if !strings.HasPrefix(tag, "dep:") {
		return "", false, false
	}
	name = strings.TrimSpace(strings.TrimPrefix(tag, "dep:"))
	if strings.HasSuffix(name, "?") {
		optional = true
		name = strings.TrimSpace(strings.TrimSuffix(name, "?"))
	}
	return name, optional, name != ""
}

// Inject performs injection for a single component.
func Inject(c *core.Container, comp core.Component) error {
	if comp == nil {
		return nil
	}
	val := reflect.ValueOf(comp)
	if val.Kind() != reflect.Ptr {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil
	}
	adder, _ := comp.(runtimeDepAdder)
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name, optional, ok := parseTag(field.Tag.Get("infra"))
		if !ok {
			continue
		}
		resolved, err := c.Resolve(name)
		if err != nil {
			if optional {
				continue
			}
			return fmt.Errorf("resolve %s failed: %w", name, err)
		}
		if err := assignValue(val.Field(i), resolved); err != nil {
			return fmt.Errorf("assign %s -> field %s failed: %w", name, field.Name, err)
		}
		if adder != nil {
			adder.AddDependencies(name)
		}
	}
	return nil
}

func assignValue(dst reflect.Value, src interface{}) error {
	if !dst.CanSet() {
		return fmt.Errorf("destination not settable")
	}
	sv := reflect.ValueOf(src)
	if dst.Kind() == reflect.Interface {
		if sv.Type().Implements(dst.Type()) {
			dst.Set(sv)
			return nil
		}
		return fmt.Errorf("%s does not implement %s", sv.Type(), dst.Type())
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	return fmt.Errorf("incompatible types: %s -> %s", sv.Type(), dst.Type())
}
