// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

package container

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dbConn struct {
	dsn    string
	closed bool
}

func (d *dbConn) Close() error {
	d.closed = true
	return nil
}

type repo struct {
	db *dbConn
}

type service struct {
	repo      *repo
	cleanedUp bool
}

func (s *service) Cleanup() error {
	s.cleanedUp = true
	return nil
}

func wire(t *testing.T) *Container {
	t.Helper()
	c := New()
	require.NoError(t, c.Register(func() *dbConn { return &dbConn{dsn: "file::memory:"} }, Singleton))
	require.NoError(t, c.Register(func(db *dbConn) *repo { return &repo{db: db} }, Singleton))
	require.NoError(t, c.Register(func(r *repo) *service { return &service{repo: r} }, Transient))
	return c
}

func TestResolveWalksConstructorParameters(t *testing.T) {
	c := wire(t)

	svc, err := Resolve[*service](c)
	require.NoError(t, err)
	require.NotNil(t, svc.repo)
	assert.Equal(t, "file::memory:", svc.repo.db.dsn)
}

func TestSingletonIsShared(t *testing.T) {
	c := wire(t)

	a, err := Resolve[*repo](c)
	require.NoError(t, err)
	b, err := Resolve[*repo](c)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestTransientIsFresh(t *testing.T) {
	c := wire(t)

	a, err := Resolve[*service](c)
	require.NoError(t, err)
	b, err := Resolve[*service](c)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	// Both share the singleton repo underneath.
	assert.Same(t, a.repo, b.repo)
}

func TestDuplicateRegistrationDetected(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(func() *dbConn { return &dbConn{} }, Singleton))
	err := c.Register(func() *dbConn { return &dbConn{} }, Transient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestUnregisteredTypeFails(t *testing.T) {
	c := New()
	_, err := Resolve[*service](c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no constructor registered")
}

func TestConstructorErrorPropagates(t *testing.T) {
	c := New()
	boom := errors.New("dial failed")
	require.NoError(t, c.Register(func() (*dbConn, error) { return nil, boom }, Singleton))

	_, err := Resolve[*dbConn](c)
	require.ErrorIs(t, err, boom)
}

func TestCircularDependencyDetected(t *testing.T) {
	type a struct{}
	type b struct{}
	c := New()
	require.NoError(t, c.Register(func(*b) *a { return &a{} }, Transient))
	require.NoError(t, c.Register(func(*a) *b { return &b{} }, Transient))

	_, err := Resolve[*a](c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestScopedInstancesPerScope(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(func() *dbConn { return &dbConn{} }, Scoped))

	s1 := c.CreateScope("request-1")
	s2 := c.CreateScope("request-2")

	a1, err := Resolve[*dbConn](s1)
	require.NoError(t, err)
	a2, err := Resolve[*dbConn](s1)
	require.NoError(t, err)
	b1, err := Resolve[*dbConn](s2)
	require.NoError(t, err)

	assert.Same(t, a1, a2, "same scope shares the instance")
	assert.NotSame(t, a1, b1, "different scopes get their own")
	assert.Equal(t, "request-1", s1.Name())
}

func TestCleanupEmptiesCache(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(func() *dbConn { return &dbConn{} }, Singleton))

	db, err := Resolve[*dbConn](c)
	require.NoError(t, err)

	require.NoError(t, c.Cleanup())
	assert.True(t, db.closed)

	// After cleanup the cache is empty; resolving creates a fresh instance.
	db2, err := Resolve[*dbConn](c)
	require.NoError(t, err)
	assert.NotSame(t, db, db2)
}

func TestCleanupInvokesCleanupMethod(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(func() *dbConn { return &dbConn{} }, Singleton))
	require.NoError(t, c.Register(func(db *dbConn) *repo { return &repo{db: db} }, Singleton))
	require.NoError(t, c.Register(func(r *repo) *service { return &service{repo: r} }, Singleton))

	svc, err := Resolve[*service](c)
	require.NoError(t, err)

	require.NoError(t, c.Cleanup())
	assert.True(t, svc.cleanedUp)
	assert.True(t, svc.repo.db.closed)
}

func TestRegisterRejectsNonFunctions(t *testing.T) {
	c := New()
	assert.Error(t, c.Register(42, Singleton))
	assert.Error(t, c.Register(func() error { return nil }, Singleton))
	assert.Error(t, c.Register(func() (int, int) { return 0, 0 }, Singleton))
}
