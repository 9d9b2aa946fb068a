// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package container is a small reflection-based dependency container used to
// wire the service binaries. Constructors are registered per type with a
// lifetime; resolution walks constructor parameters, restricted to types the
// container knows.
package container

import (
	"fmt"
	"reflect"
	"sync"
)

// Lifetime controls how instances are cached.
type Lifetime int

const (
	// Transient - a new instance per resolution.
	Transient Lifetime = iota
	// Singleton - one instance per root container.
	Singleton
	// Scoped - one instance per scope created with CreateScope.
	Scoped
)

// String returns the string representation of Lifetime
func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	default:
		return "unknown"
	}
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

type provider struct {
	ctor     reflect.Value
	lifetime Lifetime
	produces reflect.Type
}

// Container registers constructors and resolves instances.
type Container struct {
	mu        sync.Mutex
	providers map[reflect.Type]*provider
	instances map[reflect.Type]any
	created   []any // creation order, for reverse cleanup
	parent    *Container
	name      string
}

// New creates an empty root container.
func New() *Container {
	return &Container{
		providers: make(map[reflect.Type]*provider),
		instances: make(map[reflect.Type]any),
		name:      "root",
	}
}

// Register adds a constructor. The constructor must be a function returning
// either (T) or (T, error); its parameter types are resolved recursively at
// resolution time. Registering a second constructor for the same type is an
// error.
func (c *Container) Register(ctor any, lifetime Lifetime) error {
	v := reflect.ValueOf(ctor)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("constructor must be a function, got %T", ctor)
	}
	switch t.NumOut() {
	case 1:
		if t.Out(0) == errType {
			return fmt.Errorf("constructor %s returns only an error", t)
		}
	case 2:
		if t.Out(1) != errType {
			return fmt.Errorf("constructor %s second return value must be error", t)
		}
	default:
		return fmt.Errorf("constructor %s must return (T) or (T, error)", t)
	}

	produces := t.Out(0)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.providers[produces]; exists {
		return fmt.Errorf("type %s is already registered", produces)
	}
	c.providers[produces] = &provider{ctor: v, lifetime: lifetime, produces: produces}
	return nil
}

// MustRegister is Register that panics; used in main wiring where a
// registration error is a programming bug.
func (c *Container) MustRegister(ctor any, lifetime Lifetime) {
	if err := c.Register(ctor, lifetime); err != nil {
		panic(err)
	}
}

// Resolve returns an instance of type T.
func Resolve[T any](c *Container) (T, error) {
	var zero T
	want := reflect.TypeOf(&zero).Elem()
	got, err := c.resolve(want, make(map[reflect.Type]bool))
	if err != nil {
		return zero, err
	}
	return got.Interface().(T), nil
}

func (c *Container) lookup(t reflect.Type) (*provider, *Container) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		p, ok := cur.providers[t]
		cur.mu.Unlock()
		if ok {
			return p, cur
		}
	}
	return nil, nil
}

func (c *Container) resolve(t reflect.Type, resolving map[reflect.Type]bool) (reflect.Value, error) {
	if resolving[t] {
		return reflect.Value{}, fmt.Errorf("circular dependency on %s", t)
	}

	p, owner := c.lookup(t)
	if p == nil {
		return reflect.Value{}, fmt.Errorf("no constructor registered for %s", t)
	}

	// Cached lifetimes: singletons live on the container that registered
	// them, scoped instances on the scope doing the resolving.
	var cache *Container
	switch p.lifetime {
	case Singleton:
		cache = owner
	case Scoped:
		cache = c
	}
	if cache != nil {
		cache.mu.Lock()
		inst, ok := cache.instances[t]
		cache.mu.Unlock()
		if ok {
			return reflect.ValueOf(inst), nil
		}
	}

	resolving[t] = true
	defer delete(resolving, t)

	ctorType := p.ctor.Type()
	args := make([]reflect.Value, ctorType.NumIn())
	for i := range args {
		arg, err := c.resolve(ctorType.In(i), resolving)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("resolving %s: %w", t, err)
		}
		args[i] = arg
	}

	out := p.ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, fmt.Errorf("constructor for %s failed: %w", t, out[1].Interface().(error))
	}
	inst := out[0]

	if cache != nil {
		cache.mu.Lock()
		cache.instances[t] = inst.Interface()
		cache.created = append(cache.created, inst.Interface())
		cache.mu.Unlock()
	}
	return inst, nil
}

// CreateScope creates a child container sharing the parent's registrations.
// Scoped instances resolved through it are cached per scope and torn down by
// the scope's Cleanup.
func (c *Container) CreateScope(name string) *Container {
	return &Container{
		providers: make(map[reflect.Type]*provider),
		instances: make(map[reflect.Type]any),
		parent:    c,
		name:      name,
	}
}

// Name returns the scope name.
func (c *Container) Name() string { return c.name }

// cleaner matches the optional teardown methods instances may expose.
type cleaner interface{ Cleanup() error }
type closer interface{ Close() error }

// Cleanup tears down cached instances in reverse creation order, invoking
// Cleanup() or Close() where implemented. The first error is returned but
// teardown continues.
func (c *Container) Cleanup() error {
	c.mu.Lock()
	created := c.created
	c.created = nil
	c.instances = make(map[reflect.Type]any)
	c.mu.Unlock()

	var firstErr error
	for i := len(created) - 1; i >= 0; i-- {
		var err error
		switch v := created[i].(type) {
		case cleaner:
			err = v.Cleanup()
		case closer:
			err = v.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
