// Package mock provides a scriptable cache.CacheLayer for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"bank-ledger/pkg/cache"
)

// MockLayer lets tests inject behavior per method and counts calls.
type MockLayer struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value string, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error
	NameFunc   func() string
	CloseFunc  func() error

	getCalls    atomic.Int64
	setCalls    atomic.Int64
	deleteCalls atomic.Int64
	closeCalls  atomic.Int64
}

var _ cache.CacheLayer = (*MockLayer)(nil)

// Get implements cache.CacheLayer. Without a hook it misses.
func (m *MockLayer) Get(ctx context.Context, key string) (string, error) {
	m.getCalls.Add(1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return "", cache.ErrKeyNotFound
}

// Set implements cache.CacheLayer.
func (m *MockLayer) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.setCalls.Add(1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

// Delete implements cache.CacheLayer.
func (m *MockLayer) Delete(ctx context.Context, key string) error {
	m.deleteCalls.Add(1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

// Name implements cache.CacheLayer.
func (m *MockLayer) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

// Close implements cache.CacheLayer.
func (m *MockLayer) Close() error {
	m.closeCalls.Add(1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockLayer) GetCalls() int    { return int(m.getCalls.Load()) }
func (m *MockLayer) SetCalls() int    { return int(m.setCalls.Load()) }
func (m *MockLayer) DeleteCalls() int { return int(m.deleteCalls.Load()) }
func (m *MockLayer) CloseCalls() int  { return int(m.closeCalls.Load()) }

// NewMockLayer creates a MockLayer that always misses and accepts writes.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
	}
}

// NewFailingLayer creates a MockLayer whose every call returns err.
func NewFailingLayer(name string, err error) *MockLayer {
	return &MockLayer{
		NameFunc: func() string { return name },
		GetFunc: func(context.Context, string) (string, error) {
			return "", err
		},
		SetFunc: func(context.Context, string, string, time.Duration) error {
			return err
		},
		DeleteFunc: func(context.Context, string) error {
			return err
		},
	}
}
