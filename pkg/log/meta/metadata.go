package meta

import (
	"context"
	"github.com/sirupsen/logrus"
	"sync"
)

// metadata is a mutable bag shared by every context derived from the one
// returned by Begin, so values written deep in a handler are visible to the
// request logger.
type metadata struct {
	carrier map[interface{}]interface{}
	mu      sync.RWMutex
}

func (c *metadata) Value(key interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.carrier[key]
}

func (c *metadata) WithValue(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carrier[key] = value
}

type contextKey struct{}

var metaContextKey = contextKey{}

// Well known keys.
type (
	RequestIDKey struct{}
	// SessionStatusKey records the session status a handler ended with.
	SessionStatusKey struct{}
)

// Begin attaches a metadata bag to parent unless one is already present.
// Call it as close to the root context as possible, e.g. at the start of an
// HTTP request. Calling it again on a derived context returns that context.
func Begin(parent context.Context) context.Context {
	if parent.Value(metaContextKey) != nil {
		return parent
	}
	return context.WithValue(parent, metaContextKey, &metadata{
		carrier: make(map[interface{}]interface{}),
	})
}

func metadataFrom(parent context.Context) *metadata {
	value := parent.Value(metaContextKey)
	if value == nil {
		logrus.Debug("meta not found from context, should call meta.Begin() first?")
		return nil
	}
	return value.(*metadata)
}

// WithValue stores key/val in the metadata bag of parent. No-op without Begin.
func WithValue(parent context.Context, key, val interface{}) {
	meta := metadataFrom(parent)
	if meta == nil {
		return
	}
	meta.WithValue(key, val)
}

// Value reads key from the metadata bag of parent.
func Value(parent context.Context, key interface{}) interface{} {
	meta := metadataFrom(parent)
	if meta == nil {
		return nil
	}
	return meta.Value(key)
}

// String is Value for string typed entries.
func String(parent context.Context, key interface{}) string {
	s, _ := Value(parent, key).(string)
	return s
}
