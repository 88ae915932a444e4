package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryops/queryops/cache"
	"github.com/queryops/queryops/fingerprint"
	"github.com/queryops/queryops/reactive"
	"github.com/queryops/queryops/resilience"
)

type user struct {
	Name string `json:"name"`
}

func jsonResponse(v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &Response{Body: body, Status: 200, Header: map[string][]string{"Content-Type": {"application/json"}}}
}

// fakeTransport counts calls and delegates to an optional do func; the
// default answers {"name":"ok"}.
type fakeTransport struct {
	mu    sync.Mutex
	calls int
	do    func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.do != nil {
		return f.do(ctx, d)
	}
	return jsonResponse(user{Name: "ok"}), nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func descFor(url string) *fingerprint.Descriptor {
	return &fingerprint.Descriptor{Method: "GET", URL: url}
}

var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func newTestCache(t *testing.T) *cache.Cache[user] {
	t.Helper()
	c, err := cache.New[user](cache.Options{Name: "query-test"})
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	return c
}

func newTestResource(t *testing.T, tr Transport, req *reactive.Cell[*fingerprint.Descriptor], opts Options[user]) *Resource[user] {
	t.Helper()
	r, err := NewResource[user](tr, req, opts)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

func waitResolved(t *testing.T, r *Resource[user]) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Status().Get() == StatusResolved },
		time.Second, 5*time.Millisecond)
}

func TestNewResource_RequiresTransport(t *testing.T) {
	req := reactive.NewCell(descFor("/users"))
	_, err := NewResource[user](nil, req, Options[user]{})
	assert.ErrorIs(t, err, ErrMissingTransport)
}

func TestNewResource_RequiresRequestCell(t *testing.T) {
	_, err := NewResource[user](&fakeTransport{}, nil, Options[user]{})
	assert.ErrorIs(t, err, ErrMissingRequest)
}

func TestResource_FetchResolves(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})

	waitResolved(t, r)
	assert.Equal(t, "ok", r.Value().Get().Name)
	assert.Nil(t, r.Err().Get())
	assert.Equal(t, 1, ft.count())
	assert.Equal(t, []string{"application/json"}, r.Headers().Get()["Content-Type"])
}

func TestResource_NilRequestDisables(t *testing.T) {
	ft := &fakeTransport{}
	req := reactive.NewCell[*fingerprint.Descriptor](nil)
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry})

	assert.True(t, r.Disabled())
	assert.Equal(t, StatusIdle, r.Status().Get())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ft.count())
}

func TestResource_RequestChangeRefetches(t *testing.T) {
	ft := &fakeTransport{do: func(_ context.Context, d *fingerprint.Descriptor) (*Response, error) {
		return jsonResponse(user{Name: strings.TrimPrefix(d.URL, "/")}), nil
	}}
	req := reactive.NewCell(descFor("/a"))
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry})
	waitResolved(t, r)
	require.Equal(t, "a", r.Value().Get().Name)

	req.Set(descFor("/b"))
	require.Eventually(t, func() bool { return r.Value().Get().Name == "b" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ft.count())
}

func TestResource_SameFingerprintDoesNotRefetch(t *testing.T) {
	ft := &fakeTransport{}
	req := reactive.NewCell(descFor("/users"))
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry})
	waitResolved(t, r)

	// Method case differs, so the cell notifies, but the fingerprint key is
	// identical.
	req.Set(&fingerprint.Descriptor{Method: "get", URL: "/users"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ft.count())
}

func TestResource_TriggerOnSameRequestRefetches(t *testing.T) {
	ft := &fakeTransport{}
	req := reactive.NewCell(descFor("/users"))
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry, TriggerOnSameRequest: true})
	waitResolved(t, r)

	req.Set(&fingerprint.Descriptor{Method: "get", URL: "/users"})
	require.Eventually(t, func() bool { return ft.count() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestResource_CacheHitServesWithoutFetch(t *testing.T) {
	c := newTestCache(t)
	d := descFor("/users")
	key, err := fingerprint.Key(d)
	require.NoError(t, err)
	require.NoError(t, c.Store(key, user{Name: "cached"}))

	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(d), Options[user]{Cache: c, Retry: noRetry})

	assert.Equal(t, StatusResolved, r.Status().Get())
	assert.Equal(t, "cached", r.Value().Get().Name)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ft.count())
}

func TestResource_StaleHitServesThenRevalidates(t *testing.T) {
	c := newTestCache(t)
	d := descFor("/users")
	key, err := fingerprint.Key(d)
	require.NoError(t, err)
	require.NoError(t, c.Store(key, user{Name: "cached"},
		cache.WithStaleTime(10*time.Millisecond), cache.WithTTL(time.Minute)))
	time.Sleep(20 * time.Millisecond)

	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return jsonResponse(user{Name: "fresh"}), nil
	}}
	r := newTestResource(t, ft, reactive.NewCell(d), Options[user]{Cache: c, Retry: noRetry})

	// Stale value served immediately, revalidation lands behind it.
	assert.Equal(t, "cached", r.Value().Get().Name)
	assert.Equal(t, StatusResolved, r.Status().Get())

	require.Eventually(t, func() bool { return r.Value().Get().Name == "fresh" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ft.count())

	e, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "fresh", e.Value.Name)
}

func TestResource_ErrorKeepsValueAndCache(t *testing.T) {
	var fail atomic.Bool
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return jsonResponse(user{Name: "ok"}), nil
	}}

	c := newTestCache(t)
	d := descFor("/users")
	key, err := fingerprint.Key(d)
	require.NoError(t, err)

	r := newTestResource(t, ft, reactive.NewCell(d), Options[user]{Cache: c, Retry: noRetry})
	waitResolved(t, r)

	fail.Store(true)
	r.Reload()
	require.Eventually(t, func() bool { return r.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)

	assert.Error(t, r.Err().Get())
	assert.Equal(t, "ok", r.Value().Get().Name, "errors never clear the published value")
	_, ok := c.Get(key)
	assert.True(t, ok, "errors never clear the cached value")
}

func TestResource_OnErrorFiresOncePerOccurrence(t *testing.T) {
	var onErrors atomic.Int32
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return nil, errors.New("backend down")
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Retry:   noRetry,
		OnError: func(error) { onErrors.Add(1) },
	})

	require.Eventually(t, func() bool { return r.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), onErrors.Load())
}

func TestResource_BreakerOpensAndReloadRecovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return jsonResponse(user{Name: "ok"}), nil
	}}

	req := reactive.NewCell(descFor("/users"))
	r := newTestResource(t, ft, req, Options[user]{
		Retry:         noRetry,
		BreakerConfig: resilience.BreakerConfig{Threshold: 1, Timeout: time.Hour},
	})

	require.Eventually(t, func() bool { return r.Disabled() }, time.Second, 5*time.Millisecond)
	calls := ft.count()

	// An open breaker gates new requests entirely.
	req.Set(descFor("/other"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, ft.count())

	fail.Store(false)
	r.Reload()
	waitResolved(t, r)
	assert.False(t, r.Disabled())
	assert.Equal(t, "ok", r.Value().Get().Name)
}

func TestResource_ReloadPreemptsInFlightFetch(t *testing.T) {
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	ft := &fakeTransport{do: func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
		if calls.Add(1) == 1 {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return jsonResponse(user{Name: "fresh"}), nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})
	<-started

	// Reload does not wait for the stuck same-key fetch; it aborts it and
	// starts a fresh one.
	r.Reload()

	waitResolved(t, r)
	assert.Equal(t, "fresh", r.Value().Get().Name)
	assert.Nil(t, r.Err().Get(), "the aborted fetch never surfaces its cancellation")
	assert.Equal(t, 2, ft.count())
}

func TestResource_SharedBreakerFailsTogether(t *testing.T) {
	shared := resilience.NewCircuitBreaker(resilience.BreakerConfig{Threshold: 1, Timeout: time.Hour})
	defer shared.Destroy()

	ok := &fakeTransport{}
	bad := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return nil, errors.New("backend down")
	}}

	healthy := newTestResource(t, ok, reactive.NewCell(descFor("/a")), Options[user]{Retry: noRetry, Breaker: shared})
	waitResolved(t, healthy)

	failing := newTestResource(t, bad, reactive.NewCell(descFor("/b")), Options[user]{Retry: noRetry, Breaker: shared})
	require.Eventually(t, func() bool { return failing.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)

	assert.True(t, healthy.Disabled(), "a shared breaker gates every resource on it")
}

func TestResource_KeepPreviousHoldsValueDuringRevalidation(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{do: func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
		if d.URL == "/b" {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return jsonResponse(user{Name: strings.TrimPrefix(d.URL, "/")}), nil
	}}

	req := reactive.NewCell(descFor("/a"))
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry, KeepPrevious: true})
	waitResolved(t, r)

	req.Set(descFor("/b"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StatusResolved, r.Status().Get(), "no flicker to loading")
	assert.Equal(t, "a", r.Value().Get().Name)

	close(release)
	require.Eventually(t, func() bool { return r.Value().Get().Name == "b" },
		time.Second, 5*time.Millisecond)
}

func TestResource_WithoutKeepPreviousFlickersToLoading(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{do: func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
		if d.URL == "/b" {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return jsonResponse(user{Name: strings.TrimPrefix(d.URL, "/")}), nil
	}}

	req := reactive.NewCell(descFor("/a"))
	r := newTestResource(t, ft, req, Options[user]{Retry: noRetry})
	waitResolved(t, r)

	req.Set(descFor("/b"))
	require.Eventually(t, func() bool { return r.Status().Get() == StatusLoading },
		time.Second, time.Millisecond)
	close(release)
	waitResolved(t, r)
}

func TestResource_RefreshIntervalRefetches(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Retry:           noRetry,
		RefreshInterval: 20 * time.Millisecond,
	})

	waitResolved(t, r)
	require.Eventually(t, func() bool { return ft.count() >= 3 },
		time.Second, 5*time.Millisecond)
}

func TestResource_DestroyAbortsInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	ft := &fakeTransport{do: func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	c := newTestCache(t)
	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Cache: c, Retry: noRetry})

	<-started
	r.Destroy()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, c.Size(), "a cancelled fetch never stores")
	assert.Nil(t, r.Err().Get())
}

func TestResource_RetryRecoversTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return jsonResponse(user{Name: "ok"}), nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Retry: resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false},
	})

	waitResolved(t, r)
	assert.Equal(t, "ok", r.Value().Get().Name)
	assert.Equal(t, 3, ft.count())
	assert.False(t, r.Disabled(), "the breaker counts one terminal outcome, not attempts")
}

func TestResource_AttemptTimeout(t *testing.T) {
	ft := &fakeTransport{do: func(ctx context.Context, d *fingerprint.Descriptor) (*Response, error) {
		time.Sleep(200 * time.Millisecond)
		return jsonResponse(user{Name: "late"}), nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Retry:   noRetry,
		Timeout: 20 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return r.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Err().Get(), resilience.ErrTimeout)
}

func TestResource_DecodeErrorSurfaces(t *testing.T) {
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return &Response{Body: []byte("not json"), Status: 200}, nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})

	require.Eventually(t, func() bool { return r.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, r.Err().Get(), "decode response")
}

func TestResource_ErrorStatusCodeSurfaces(t *testing.T) {
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return &Response{Status: 503}, nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})

	require.Eventually(t, func() bool { return r.Status().Get() == StatusErrored },
		time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, r.Err().Get(), "unexpected status 503")
}

func TestResource_SetSynthesizesCacheEntry(t *testing.T) {
	c := newTestCache(t)
	d := descFor("/users")
	key, err := fingerprint.Key(d)
	require.NoError(t, err)

	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(d), Options[user]{Cache: c, Retry: noRetry})
	waitResolved(t, r)

	r.Set(user{Name: "manual"})
	assert.Equal(t, "manual", r.Value().Get().Name)
	assert.Equal(t, StatusResolved, r.Status().Get())

	e, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "manual", e.Value.Name)
}

func TestResource_UpdateAppliesFunction(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})
	waitResolved(t, r)

	r.Update(func(u user) user {
		u.Name += "!"
		return u
	})
	assert.Equal(t, "ok!", r.Value().Get().Name)
}

func TestResource_CustomHashKeysCache(t *testing.T) {
	c := newTestCache(t)
	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Cache: c,
		Retry: noRetry,
		Hash:  func(*fingerprint.Descriptor) (string, error) { return "fixed-key", nil },
	})

	waitResolved(t, r)
	require.Eventually(t, func() bool {
		_, ok := c.Get("fixed-key")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestResource_CustomDecode(t *testing.T) {
	ft := &fakeTransport{do: func(context.Context, *fingerprint.Descriptor) (*Response, error) {
		return &Response{Body: []byte("plain"), Status: 200}, nil
	}}

	r := newTestResource(t, ft, reactive.NewCell(descFor("/users")), Options[user]{
		Retry:  noRetry,
		Decode: func(resp *Response) (user, error) { return user{Name: string(resp.Body)}, nil },
	})

	waitResolved(t, r)
	assert.Equal(t, "plain", r.Value().Get().Name)
}

func TestResource_StaleTimeForwardedToStore(t *testing.T) {
	c := newTestCache(t)
	d := descFor("/users")
	key, err := fingerprint.Key(d)
	require.NoError(t, err)

	ft := &fakeTransport{}
	r := newTestResource(t, ft, reactive.NewCell(d), Options[user]{
		Cache:     c,
		Retry:     noRetry,
		StaleTime: 10 * time.Millisecond,
		TTL:       time.Minute,
	})
	waitResolved(t, r)

	require.Eventually(t, func() bool {
		_, ok := c.Get(key)
		return ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	e, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, e.IsStale)
}

func TestResource_DestroyIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	r, err := NewResource[user](ft, reactive.NewCell(descFor("/users")), Options[user]{Retry: noRetry})
	require.NoError(t, err)

	r.Destroy()
	r.Destroy()
}
