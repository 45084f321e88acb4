package resolver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KeremKalyoncu/reelgrab/internal/cache"
	"github.com/KeremKalyoncu/reelgrab/internal/classifier"
	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/normalizer"
	"github.com/KeremKalyoncu/reelgrab/internal/payload"
	"github.com/KeremKalyoncu/reelgrab/internal/strategy"
	"github.com/KeremKalyoncu/reelgrab/internal/testutil"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

const tiktokURL = "https://www.tiktok.com/@user/video/7123456789"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ogPayload() payload.Payload {
	return payload.TikTokOpenGraph{
		VideoID:  "7123456789",
		VideoURL: "https://v16.tiktokcdn.com/x.mp4",
		Title:    "dance #fyp",
	}
}

type fixture struct {
	resolver *Resolver
	stub     *testutil.StubStrategy
	clock    *testutil.ManualClock
	cache    *cache.ResolutionCache
}

func newFixture(t *testing.T, stub *testutil.StubStrategy, mutate func(*Options)) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(epoch)
	c := cache.NewResolutionCache(5*time.Minute, clock)
	opts := Options{
		Chains: map[types.Platform]*strategy.Chain{
			types.PlatformTikTok: strategy.NewChain(types.PlatformTikTok, []strategy.Strategy{stub}, zap.NewNop()),
		},
		Cache:      c,
		Normalizer: normalizer.New(clock.Now),
		Timeout:    time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{resolver: New(opts, zap.NewNop()), stub: stub, clock: clock, cache: c}
}

func TestResolveTwiceWithinTTLIsIdempotent(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, nil)

	first, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	f.clock.Advance(time.Minute)
	second, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.True(t, second.Cached)

	a, err := json.Marshal(first.Record)
	require.NoError(t, err)
	b, err := json.Marshal(second.Record)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, 1, f.stub.Calls())
}

func TestResolveAfterTTLRunsChainAgain(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, nil)

	_, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	res, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, f.stub.Calls())
}

func TestResolveReturnsIndependentCopies(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, nil)

	first, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	first.Record.RequiredHeaders["Referer"] = "mutated"

	second, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second.Record.RequiredHeaders["Referer"])
}

func TestResolveCoalescesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	stub := &testutil.StubStrategy{StrategyName: "slow", Fn: func(ctx context.Context, _ classifier.Target) (payload.Payload, error) {
		<-release
		return ogPayload(), nil
	}}
	f := newFixture(t, stub, nil)

	var wg sync.WaitGroup
	results := make([]*Resolution, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.resolver.Resolve(context.Background(), tiktokURL)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return f.resolver.InFlight() == 1 && stub.Calls() == 1 }, time.Second, 5*time.Millisecond)
	// let the remaining callers join the in-flight run
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, stub.Calls())
	for _, res := range results {
		if res != nil {
			assert.Equal(t, "https://v16.tiktokcdn.com/x.mp4", res.Record.MediaURL)
		}
	}
}

func TestResolveFailureIsNotCached(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: "private", Err: apperrors.ErrNotPublic}, nil)

	_, err := f.resolver.Resolve(context.Background(), tiktokURL)
	assert.Equal(t, apperrors.KindNotPublic, apperrors.KindOf(err))
	_, err = f.resolver.Resolve(context.Background(), tiktokURL)
	require.Error(t, err)

	assert.Equal(t, 2, f.stub.Calls())
	assert.Equal(t, 0, f.cache.Len())
}

func TestResolveClassificationErrors(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: "unused"}, nil)

	_, err := f.resolver.Resolve(context.Background(), "not a url")
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	_, err = f.resolver.Resolve(context.Background(), "https://www.instagram.com/p/Cabc123/")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedPlatform)
	assert.Equal(t, 0, f.stub.Calls())
}

func TestResolveMarksToolDelivery(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, func(o *Options) {
		o.ToolDelivery = map[types.Platform]bool{types.PlatformTikTok: true}
	})

	res, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryTool, res.Record.Delivery)
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]types.MediaRecord
	sets    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]types.MediaRecord)}
}

func (s *memoryStore) Get(ctx context.Context, p types.Platform, id string) (types.MediaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[string(p)+":"+id]
	return rec, ok, nil
}

func (s *memoryStore) Set(ctx context.Context, p types.Platform, id string, rec types.MediaRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[string(p)+":"+id] = rec
	s.sets++
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, p types.Platform, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, string(p)+":"+id)
	return nil
}

func (s *memoryStore) Ping(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                   { return nil }

func TestResolveUsesSharedStore(t *testing.T) {
	store := newMemoryStore()
	writer := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, func(o *Options) {
		o.Shared = store
	})
	_, err := writer.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.Equal(t, 1, store.sets)

	reader := newFixture(t, &testutil.StubStrategy{StrategyName: "unused"}, func(o *Options) {
		o.Shared = store
	})
	res, err := reader.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 0, reader.stub.Calls())
	assert.Equal(t, 1, reader.cache.Len())
}

func TestInvalidateClearsBothTiers(t *testing.T) {
	store := newMemoryStore()
	f := newFixture(t, &testutil.StubStrategy{StrategyName: strategy.NameTikTokOpenGraph, Payload: ogPayload()}, func(o *Options) {
		o.Shared = store
	})

	first, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	require.Equal(t, 1, f.stub.Calls())

	f.resolver.Invalidate(context.Background(), first.Target)
	assert.Equal(t, 0, f.cache.Len())
	_, ok, err := store.Get(context.Background(), types.PlatformTikTok, "7123456789")
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := f.resolver.Resolve(context.Background(), tiktokURL)
	require.NoError(t, err)
	assert.False(t, again.Cached)
	assert.Equal(t, 2, f.stub.Calls())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func redirectingClient(location string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    r,
		}
		if r.URL.Host == "vm.tiktok.com" {
			resp.StatusCode = http.StatusMovedPermanently
			resp.Header.Set("Location", location)
		}
		return resp, nil
	})}
}

func TestClassifyExpandsShortLinks(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: "unused"}, func(o *Options) {
		o.Client = redirectingClient(tiktokURL + "?_r=1")
	})

	target, err := f.resolver.Classify(context.Background(), "https://vm.tiktok.com/ZMabc123/")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformTikTok, target.Platform)
	assert.Equal(t, "7123456789", target.ID)
}

func TestClassifyShortLinkToNonVideo(t *testing.T) {
	f := newFixture(t, &testutil.StubStrategy{StrategyName: "unused"}, func(o *Options) {
		o.Client = redirectingClient("https://www.tiktok.com/@user")
	})

	_, err := f.resolver.Classify(context.Background(), "https://vm.tiktok.com/ZMabc123/")
	assert.ErrorIs(t, err, apperrors.ErrIDNotExtractable)
}
