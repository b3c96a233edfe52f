package stats

import (
	"context"
	"slices"
	"time"

	"downloadcenter/internal/config"
	"downloadcenter/internal/model"
)

const authParameter = "auth"

// Routing maps sites to their scheduling group and owns both stat registries.
type Routing struct {
	Groups *Registry
	Sites  *Registry
}

func NewRouting(cache TimestampCache) *Routing {
	return &Routing{
		Groups: NewRegistry(GroupPrefix, cache),
		Sites:  NewRegistry(SitePrefix, cache),
	}
}

// Apply loads groups and sites from cfg. Known entries keep their Active
// counter and LastRun; entries missing from cfg are dropped.
func (r *Routing) Apply(ctx context.Context, cfg config.Config) {
	for name, group := range cfg.Groups {
		r.Groups.Ensure(ctx, name, Limits{
			PerUser:        group.PerUser,
			Simultaneously: group.Simultaneously,
			Delay:          seconds(group.Delay),
		})
		r.Groups.SetFormats(name, group.Formats)
	}
	for _, name := range r.Groups.Names() {
		if _, ok := cfg.Groups[name]; !ok {
			r.Groups.Remove(name)
		}
	}

	for name, site := range cfg.Sites {
		r.Sites.Ensure(ctx, name, Limits{
			PerUser:        site.PerUser,
			Simultaneously: site.Simultaneously,
			Delay:          seconds(site.Delay),
		})
		r.Sites.SetGroup(name, site.Group)
		r.Sites.SetEnabled(name, site.IsActive())
		r.Sites.SetFormats(name, site.Formats)
		r.Sites.SetParameters(name, site.Parameters)
		r.Sites.SetDownloader(name, site.Downloader)
		r.Sites.SetProxy(name, site.Proxy)
		r.Sites.SetAuth(name, site.Login, site.Password)
	}
	for _, name := range r.Sites.Names() {
		if _, ok := cfg.Sites[name]; !ok {
			r.Sites.Remove(name)
		}
	}
}

// GroupOf returns the group a site is scheduled in.
func (r *Routing) GroupOf(site string) (string, bool) {
	s, ok := r.Sites.Get(site)
	if !ok || s.Group == "" || !r.Groups.Exists(s.Group) {
		return "", false
	}
	return s.Group, true
}

// CanStart checks the group first, then the site.
func (r *Routing) CanStart(group, site string) bool {
	return r.Groups.CanStart(group) && r.Sites.CanStart(site)
}

func (r *Routing) AddRun(group, site string) {
	r.Groups.AddRun(group)
	r.Sites.AddRun(site)
}

func (r *Routing) RemoveRun(group, site string) {
	r.Sites.RemoveRun(site)
	r.Groups.RemoveRun(group)
}

// CheckSite reports whether downloads from site are accepted, with its
// parameters and formats.
func (r *Routing) CheckSite(site string) model.SiteInfo {
	info := model.SiteInfo{Parameters: []string{}, Formats: []string{}}
	s, ok := r.Sites.Get(site)
	if !ok || !s.Enabled {
		return info
	}
	group, ok := r.GroupOf(site)
	if !ok {
		return info
	}
	g, _ := r.Groups.Get(group)
	info.Allowed = true
	if s.Parameters != nil {
		info.Parameters = s.Parameters
	}
	info.Formats = ResolveFormats(s.Formats, g.Formats)
	return info
}

// SitesActive lists enabled sites mapped to a group.
func (r *Routing) SitesActive() []string {
	sites := []string{}
	for _, name := range r.Sites.Names() {
		s, ok := r.Sites.Get(name)
		if !ok || !s.Enabled {
			continue
		}
		if _, mapped := r.GroupOf(name); mapped {
			sites = append(sites, name)
		}
	}
	return sites
}

// SitesWithAuth lists sites declaring the auth parameter.
func (r *Routing) SitesWithAuth() []string {
	sites := []string{}
	for _, name := range r.Sites.Names() {
		s, ok := r.Sites.Get(name)
		if ok && slices.Contains(s.Parameters, authParameter) {
			sites = append(sites, name)
		}
	}
	return sites
}

// ResolveFormats returns site formats, falling back to the group's.
func ResolveFormats(site, group []string) []string {
	if len(site) > 0 {
		return append([]string(nil), site...)
	}
	if len(group) > 0 {
		return append([]string(nil), group...)
	}
	return []string{}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
