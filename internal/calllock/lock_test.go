package calllock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis is a scripted in-memory double for the slice of Redis the locker
// uses. Eval mirrors the compare-and-delete release contract; EvalSha reports
// NOSCRIPT so redis.Script falls back to Eval, the same first-call path a
// real server takes.
type fakeRedis struct {
	mu   sync.Mutex
	vals map[string]string
	fail bool
}

func newFakeRedis() *fakeRedis { return &fakeRedis{vals: map[string]string{}} }

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return redis.NewBoolResult(false, errors.New("backend down"))
	}
	if _, exists := f.vals[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.vals[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return redis.NewCmdResult(nil, errors.New("backend down"))
	}
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected script invocation"))
	}
	if f.vals[keys[0]] == fmt.Sprint(args[0]) {
		delete(f.vals, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// scriptError satisfies redis.Error so redis.Script treats the NOSCRIPT
// reply like a server error and falls back to Eval.
type scriptError string

func (e scriptError) Error() string { return string(e) }
func (scriptError) RedisError()     {}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, scriptError("NOSCRIPT fake backend"))
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(nil, errors.New("not supported"))
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", errors.New("not supported"))
}

func TestAcquireIsExclusivePerRecipient(t *testing.T) {
	l := New(newFakeRedis(), time.Minute)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "r1", "caller-a")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "r1", "caller-b")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second caller must not win a held lock")
	}
	// Another recipient is an independent lock.
	if ok, err := l.Acquire(ctx, "r2", "caller-b"); err != nil || !ok {
		t.Fatalf("independent recipient: ok=%v err=%v", ok, err)
	}
}

func TestReleaseOnlyFreesForTheHolder(t *testing.T) {
	l := New(newFakeRedis(), time.Minute)
	ctx := context.Background()

	if ok, err := l.Acquire(ctx, "r1", "caller-a"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// A stale release from a superseded attempt must not free the lock.
	freed, err := l.Release(ctx, "r1", "caller-b")
	if err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if freed {
		t.Fatalf("non-holder release must be refused")
	}
	holder, held, err := l.Holder(ctx, "r1")
	if err != nil || !held || holder != "caller-a" {
		t.Fatalf("lock must survive the stale release, holder=%q held=%v err=%v", holder, held, err)
	}

	freed, err = l.Release(ctx, "r1", "caller-a")
	if err != nil || !freed {
		t.Fatalf("holder release: freed=%v err=%v", freed, err)
	}
	if ok, err := l.Acquire(ctx, "r1", "caller-b"); err != nil || !ok {
		t.Fatalf("lock must be reacquirable after release: ok=%v err=%v", ok, err)
	}
}

func TestAcquireSurfacesBackendError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.fail = true
	l := New(rdb, time.Minute)

	if _, err := l.Acquire(context.Background(), "r1", "caller-a"); err == nil {
		t.Fatalf("backend failure must surface so callers fail closed")
	}
	if _, err := l.Release(context.Background(), "r1", "caller-a"); err == nil {
		t.Fatalf("release backend failure must surface")
	}
}

func TestAcquire_RejectsEmptyArgs(t *testing.T) {
	l := New(nil, time.Second)

	if _, err := l.Acquire(context.Background(), "", "caller"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
	if _, err := l.Acquire(context.Background(), "recipient", ""); err == nil {
		t.Fatalf("expected error for empty holder")
	}
}

func TestRelease_RejectsEmptyArgs(t *testing.T) {
	l := New(nil, time.Second)

	if _, err := l.Release(context.Background(), "", "caller"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
	if _, err := l.Release(context.Background(), "recipient", ""); err == nil {
		t.Fatalf("expected error for empty holder")
	}
}

func TestKeyIsPrefixed(t *testing.T) {
	if got := key("u1"); got != "calllock:u1" {
		t.Fatalf("unexpected key %q", got)
	}
}
