package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Key prefixes for the persisted last run timestamps.
const (
	GroupPrefix = "sg_"
	SitePrefix  = "ss_"
)

// TimestampCache stores last run timestamps with an expiry.
type TimestampCache interface {
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTime(ctx context.Context, key string, value time.Time, ttl time.Duration) error
}

// Stat holds admission counters and limits for one group or site.
type Stat struct {
	PerUser        int
	Simultaneously int
	Active         int
	Delay          time.Duration
	LastRun        time.Time
	Formats        []string

	// site only
	Enabled    bool
	Group      string
	Parameters []string
	Downloader string
	Proxy      string
	Login      string
	Password   string
}

// Limits are the live-reconfigurable admission settings.
type Limits struct {
	PerUser        int
	Simultaneously int
	Delay          time.Duration
}

// Registry keeps Stat entries keyed by group or site name.
type Registry struct {
	mu     sync.RWMutex
	prefix string
	items  map[string]*Stat
	cache  TimestampCache
	now    func() time.Time
}

func NewRegistry(prefix string, cache TimestampCache) *Registry {
	return &Registry{
		prefix: prefix,
		items:  make(map[string]*Stat),
		cache:  cache,
		now:    time.Now,
	}
}

// CacheKey is the timestamp cache key for name.
func (r *Registry) CacheKey(name string) string {
	return r.prefix + name + "_last_run"
}

// Ensure creates the entry for name if missing. A new entry takes its
// LastRun from the timestamp cache, or now minus delay so the first
// admission is not held back.
func (r *Registry) Ensure(ctx context.Context, name string, limits Limits) {
	r.mu.RLock()
	_, ok := r.items[name]
	r.mu.RUnlock()
	if ok {
		r.SetLimits(name, limits)
		return
	}

	lastRun := r.now().Add(-limits.Delay)
	if r.cache != nil {
		cached, found, err := r.cache.GetTime(ctx, r.CacheKey(name))
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", r.CacheKey(name)).Msg("read last run failed")
		case found:
			lastRun = cached
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[name]; ok {
		applyLimits(existing, limits)
		return
	}
	r.items[name] = &Stat{
		PerUser:        limits.PerUser,
		Simultaneously: limits.Simultaneously,
		Delay:          limits.Delay,
		LastRun:        lastRun,
		Enabled:        true,
	}
}

// Exists reports whether name is known.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Get returns a copy of the entry.
func (r *Registry) Get(name string) (Stat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	if !ok {
		return Stat{}, false
	}
	out := *s
	out.Formats = append([]string(nil), s.Formats...)
	out.Parameters = append([]string(nil), s.Parameters...)
	return out, true
}

// Names returns known names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanStart reports whether one more task may start under name.
// Unknown names never start.
func (r *Registry) CanStart(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	if !ok {
		return false
	}
	if s.Simultaneously > 0 && s.Active >= s.Simultaneously {
		return false
	}
	return !r.now().Before(s.LastRun.Add(s.Delay))
}

// AddRun records an admission.
func (r *Registry) AddRun(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[name]; ok {
		s.Active++
		s.LastRun = r.now()
	}
}

// RemoveRun records a completion. Active never goes below zero.
func (r *Registry) RemoveRun(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[name]; ok && s.Active > 0 {
		s.Active--
	}
}

// SaveLastRun persists the LastRun of name to the timestamp cache.
func (r *Registry) SaveLastRun(ctx context.Context, name string, ttl time.Duration) error {
	if r.cache == nil {
		return nil
	}
	s, ok := r.Get(name)
	if !ok || s.LastRun.IsZero() {
		return nil
	}
	if err := r.cache.SetTime(ctx, r.CacheKey(name), s.LastRun, ttl); err != nil {
		return fmt.Errorf("save last run %s: %w", name, err)
	}
	return nil
}

// Remove drops name unless tasks are still running under it, in which case
// the entry is disabled and kept until its counters drain.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[name]
	if !ok {
		return
	}
	if s.Active > 0 {
		s.Enabled = false
		s.Group = ""
		return
	}
	delete(r.items, name)
}

func (r *Registry) update(name string, fn func(*Stat)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.items[name]; ok {
		fn(s)
	}
}

func applyLimits(s *Stat, limits Limits) {
	s.PerUser = limits.PerUser
	s.Simultaneously = limits.Simultaneously
	s.Delay = limits.Delay
}

func (r *Registry) SetLimits(name string, limits Limits) {
	r.update(name, func(s *Stat) { applyLimits(s, limits) })
}

func (r *Registry) SetFormats(name string, formats []string) {
	r.update(name, func(s *Stat) { s.Formats = append([]string(nil), formats...) })
}

func (r *Registry) SetParameters(name string, parameters []string) {
	r.update(name, func(s *Stat) { s.Parameters = append([]string(nil), parameters...) })
}

func (r *Registry) SetDownloader(name, downloader string) {
	r.update(name, func(s *Stat) { s.Downloader = downloader })
}

func (r *Registry) SetProxy(name, proxy string) {
	r.update(name, func(s *Stat) { s.Proxy = proxy })
}

func (r *Registry) SetAuth(name, login, password string) {
	r.update(name, func(s *Stat) {
		s.Login = login
		s.Password = password
	})
}

func (r *Registry) SetEnabled(name string, enabled bool) {
	r.update(name, func(s *Stat) { s.Enabled = enabled })
}

func (r *Registry) SetGroup(name, group string) {
	r.update(name, func(s *Stat) { s.Group = group })
}
