package vectorstore

import (
	"context"
	"time"
)

// timeoutStore decorates a Store with a per-call deadline. Every adapter
// call is a blocking I/O point; the deadline keeps a wedged backend from
// stalling ingestion or retrieval indefinitely.
type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout wraps store so every call carries a deadline. A non-positive
// timeout returns the store unchanged.
func WithTimeout(store Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return store
	}
	return &timeoutStore{inner: store, timeout: timeout}
}

func (t *timeoutStore) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timeoutStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.Upsert(ctx, namespace, records)
}

func (t *timeoutStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.DeleteByFilter(ctx, namespace, filter)
}

func (t *timeoutStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.Query(ctx, namespace, vector, topK, filter)
}

func (t *timeoutStore) Describe(ctx context.Context) ([]string, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.Describe(ctx)
}

func (t *timeoutStore) Activate(ctx context.Context, namespace, ref string) error {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.Activate(ctx, namespace, ref)
}

func (t *timeoutStore) ActiveRef(ctx context.Context, namespace string) (string, error) {
	ctx, cancel := t.deadline(ctx)
	defer cancel()
	return t.inner.ActiveRef(ctx, namespace)
}

func (t *timeoutStore) Close() error {
	return t.inner.Close()
}
