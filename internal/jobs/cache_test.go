package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMapCache() *mapCache { return &mapCache{data: map[string]string{}} }

func (m *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	default:
		m.data[key] = fmt.Sprint(v)
	}
	return nil
}

func (m *mapCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.data[key], nil
}

func (m *mapCache) GenerateKey(operation, key string) string {
	return "test:" + operation + ":" + key
}

func TestStatusCache_PutGet(t *testing.T) {
	c := newMapCache()
	sc := NewStatusCache(c, time.Second, zap.NewNop())
	ctx := context.Background()

	if _, ok := sc.Get(ctx, "j1"); ok {
		t.Fatalf("expected miss")
	}
	sc.Put(ctx, &Job{JobID: "j1", Status: StatusRunning, OrderID: "o1"})
	j, ok := sc.Get(ctx, "j1")
	if !ok || j.Status != StatusRunning || j.OrderID != "o1" {
		t.Fatalf("unexpected cached job %+v ok=%v", j, ok)
	}
	if _, present := c.data["test:job:j1"]; !present {
		t.Fatalf("expected namespaced key, got %v", c.data)
	}
}

func TestStatusCache_ErrorsAreMisses(t *testing.T) {
	c := newMapCache()
	c.err = errors.New("redis down")
	sc := NewStatusCache(c, time.Second, zap.NewNop())

	sc.Put(context.Background(), &Job{JobID: "j1"})
	if _, ok := sc.Get(context.Background(), "j1"); ok {
		t.Fatalf("expected miss on cache error")
	}

	var nilCache *StatusCache
	nilCache.Put(context.Background(), &Job{JobID: "j1"})
	if _, ok := nilCache.Get(context.Background(), "j1"); ok {
		t.Fatalf("nil cache must miss")
	}
}

func TestService_StatusTracksTransitionsThroughCache(t *testing.T) {
	store, _ := newTestStore()
	registry := NewRegistry()
	registry.Register(TypeSendReceipt, func(ctx context.Context, job *Job) error { return nil })
	sc := NewStatusCache(newMapCache(), time.Minute, zap.NewNop())
	svc := NewService(store, NewMemoryQueue(), registry, zap.NewNop(), Options{Cache: sc})
	ctx := context.Background()

	id, _ := svc.Enqueue(ctx, TypeSendReceipt, "o1", nil)
	if j, ok := sc.Get(ctx, id); !ok || j.Status != StatusQueued {
		t.Fatalf("expected queued snapshot, got %+v", j)
	}
	if err := svc.Execute(ctx, Descriptor{JobID: id, JobType: TypeSendReceipt, OrderID: "o1"}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	j, err := svc.Status(ctx, id)
	if err != nil || j.Status != StatusDone {
		t.Fatalf("expected done from cache, got %+v err=%v", j, err)
	}
}
