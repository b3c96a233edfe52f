package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"downloadcenter/internal/config"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]time.Time
	ttls   map[string]time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]time.Time{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) GetTime(_ context.Context, key string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memoryCache) SetTime(_ context.Context, key string, value time.Time, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

func TestActiveNeverExceedsSimultaneously(t *testing.T) {
	r := NewRegistry(GroupPrefix, nil)
	r.Ensure(context.Background(), "g", Limits{Simultaneously: 2})

	started := 0
	for i := 0; i < 5; i++ {
		if r.CanStart("g") {
			r.AddRun("g")
			started++
		}
	}
	assert.Equal(t, 2, started)
	s, _ := r.Get("g")
	assert.Equal(t, 2, s.Active)

	r.RemoveRun("g")
	assert.True(t, r.CanStart("g"))
}

func TestZeroSimultaneouslyIsUnlimited(t *testing.T) {
	r := NewRegistry(SitePrefix, nil)
	r.Ensure(context.Background(), "s", Limits{})
	for i := 0; i < 100; i++ {
		require.True(t, r.CanStart("s"))
		r.AddRun("s")
	}
}

func TestDelayWindowDeniesAdmission(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(GroupPrefix, nil)
	r.now = func() time.Time { return now }
	r.Ensure(context.Background(), "g", Limits{Delay: 10 * time.Second})

	assert.True(t, r.CanStart("g"), "seeded last run must allow the first admission")
	r.AddRun("g")
	r.RemoveRun("g")

	now = now.Add(9 * time.Second)
	assert.False(t, r.CanStart("g"))
	now = now.Add(time.Second)
	assert.True(t, r.CanStart("g"))
}

func TestRemoveRunFlooredAtZero(t *testing.T) {
	r := NewRegistry(GroupPrefix, nil)
	r.Ensure(context.Background(), "g", Limits{Simultaneously: 1})
	r.RemoveRun("g")
	r.RemoveRun("g")
	s, _ := r.Get("g")
	assert.Equal(t, 0, s.Active)
	r.AddRun("g")
	assert.False(t, r.CanStart("g"))
}

func TestUnknownNameNeverStarts(t *testing.T) {
	r := NewRegistry(GroupPrefix, nil)
	assert.False(t, r.CanStart("missing"))
	r.AddRun("missing")
	r.RemoveRun("missing")
	assert.False(t, r.Exists("missing"))
}

func TestLastRunSeededFromCacheAndSaved(t *testing.T) {
	cache := newMemoryCache()
	recent := time.Now().Add(-2 * time.Second)
	cache.values["ss_author.today_last_run"] = recent

	r := NewRegistry(SitePrefix, cache)
	r.Ensure(context.Background(), "author.today", Limits{Delay: time.Minute})
	s, ok := r.Get("author.today")
	require.True(t, ok)
	assert.True(t, s.LastRun.Equal(recent))
	assert.False(t, r.CanStart("author.today"))

	r.Ensure(context.Background(), "ranobes.com", Limits{Delay: time.Minute})
	r.AddRun("ranobes.com")
	require.NoError(t, r.SaveLastRun(context.Background(), "ranobes.com", time.Hour))
	assert.Contains(t, cache.values, "ss_ranobes.com_last_run")
	assert.Equal(t, time.Hour, cache.ttls["ss_ranobes.com_last_run"])
}

func TestReconfigurePreservesCounters(t *testing.T) {
	r := NewRegistry(GroupPrefix, nil)
	r.Ensure(context.Background(), "g", Limits{Simultaneously: 1, Delay: time.Second})
	r.AddRun("g")
	before, _ := r.Get("g")

	r.Ensure(context.Background(), "g", Limits{Simultaneously: 3})
	after, _ := r.Get("g")
	assert.Equal(t, 1, after.Active)
	assert.Equal(t, 3, after.Simultaneously)
	assert.Equal(t, time.Duration(0), after.Delay)
	assert.True(t, before.LastRun.Equal(after.LastRun))
}

func TestRemoveKeepsBusyEntries(t *testing.T) {
	r := NewRegistry(SitePrefix, nil)
	r.Ensure(context.Background(), "busy", Limits{})
	r.Ensure(context.Background(), "idle", Limits{})
	r.AddRun("busy")

	r.Remove("busy")
	r.Remove("idle")

	s, ok := r.Get("busy")
	require.True(t, ok)
	assert.False(t, s.Enabled)
	assert.False(t, r.Exists("idle"))
}

func testConfig() config.Config {
	inactive := false
	cfg := config.Default()
	cfg.Groups = map[string]config.Group{
		"fast": {Simultaneously: 1, Formats: []string{"fb2", "epub"}},
		"slow": {Simultaneously: 1, Delay: 30},
	}
	cfg.Sites = map[string]config.Site{
		"author.today": {Group: "fast", Parameters: []string{"auth", "paging"}, Proxy: "socks5://p:1080", Downloader: "elib2ebook"},
		"ranobes.com":  {Group: "slow", Formats: []string{"txt"}},
		"litnet.com":   {Group: "fast", Active: &inactive, Parameters: []string{"auth"}},
	}
	return cfg
}

func TestRoutingCheckSite(t *testing.T) {
	r := NewRouting(nil)
	r.Apply(context.Background(), testConfig())

	info := r.CheckSite("author.today")
	assert.True(t, info.Allowed)
	assert.Equal(t, []string{"auth", "paging"}, info.Parameters)
	assert.Equal(t, []string{"fb2", "epub"}, info.Formats, "site without formats falls back to group")

	assert.Equal(t, []string{"txt"}, r.CheckSite("ranobes.com").Formats)
	assert.False(t, r.CheckSite("litnet.com").Allowed)
	assert.False(t, r.CheckSite("unknown.org").Allowed)

	assert.Equal(t, []string{"author.today", "ranobes.com"}, r.SitesActive())
	assert.Equal(t, []string{"author.today", "litnet.com"}, r.SitesWithAuth())

	group, ok := r.GroupOf("ranobes.com")
	assert.True(t, ok)
	assert.Equal(t, "slow", group)

	site, _ := r.Sites.Get("author.today")
	assert.Equal(t, "socks5://p:1080", site.Proxy)
	assert.Equal(t, "elib2ebook", site.Downloader)
}

func TestRoutingAdmissionGroupThenSite(t *testing.T) {
	r := NewRouting(nil)
	r.Apply(context.Background(), testConfig())

	require.True(t, r.CanStart("fast", "author.today"))
	r.AddRun("fast", "author.today")
	assert.False(t, r.CanStart("fast", "author.today"))

	r.RemoveRun("fast", "author.today")
	assert.True(t, r.CanStart("fast", "author.today"))
}

func TestRoutingApplyDropsRemovedSites(t *testing.T) {
	r := NewRouting(nil)
	cfg := testConfig()
	r.Apply(context.Background(), cfg)

	delete(cfg.Sites, "ranobes.com")
	r.Apply(context.Background(), cfg)
	_, ok := r.GroupOf("ranobes.com")
	assert.False(t, ok)
}

func TestResolveFormats(t *testing.T) {
	assert.Equal(t, []string{"epub"}, ResolveFormats([]string{"epub"}, []string{"fb2"}))
	assert.Equal(t, []string{"fb2"}, ResolveFormats(nil, []string{"fb2"}))
	assert.Equal(t, []string{}, ResolveFormats(nil, nil))
}
