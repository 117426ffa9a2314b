// Package discovery builds the list of domain controllers to check from the
// static inventory, Active Directory and DNS SRV records.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"

	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// Resolver is the subset of net.Resolver used for SRV lookups.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Discoverer resolves the configured domains into domain controllers.
type Discoverer struct {
	resolver Resolver
	runner   probe.Runner
	logger   *slog.Logger
}

// New creates a discoverer. A nil resolver uses net.DefaultResolver. A nil
// runner skips the Active Directory query and uses SRV records only.
func New(resolver Resolver, runner probe.Runner, logger *slog.Logger) *Discoverer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{resolver: resolver, runner: runner, logger: logger}
}

// DomainControllersRecord returns the SRV name listing every DC of domain.
func DomainControllersRecord(domain string) string {
	return "_ldap._tcp.dc._msdcs." + domain
}

// SiteRecord returns the SRV name listing the DCs of one site.
func SiteRecord(domain, site string) string {
	return fmt.Sprintf("_ldap._tcp.%s._sites.dc._msdcs.%s", site, domain)
}

// Discover returns the merged inventory. Each domain is listed through
// Get-ADDomainController, which also yields site, address, OS and FSMO
// roles; when that is unavailable the SRV records are used instead. Static
// nodes win over discovered ones for every field they set. A domain that
// cannot be listed is logged and skipped; Discover only fails when nothing
// at all was found and at least one domain failed.
func (d *Discoverer) Discover(ctx context.Context, cfg config.DiscoveryConfig) ([]health.Identity, error) {
	var found []health.Identity
	var errs []error

	for _, dom := range cfg.Domains {
		ids, err := d.domain(ctx, dom)
		if err != nil {
			d.logger.Warn("discovery failed", "domain", dom.Name, "error", err)
			errs = append(errs, err)
		}
		found = append(found, ids...)
	}

	nodes := Merge(cfg.Nodes, found, cfg.Exclude)
	if len(nodes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	d.logger.Info("discovery complete", "nodes", len(nodes), "discovered", len(found), "static", len(cfg.Nodes))
	return nodes, nil
}

func (d *Discoverer) domain(ctx context.Context, dom config.DomainConfig) ([]health.Identity, error) {
	domain := strings.TrimSuffix(dom.Name, ".")

	if d.runner != nil {
		ids, err := d.directory(ctx, domain)
		if err == nil {
			d.logger.Debug("domain controllers listed from directory", "domain", domain, "count", len(ids))
			return ids, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("directory query failed, falling back to SRV records", "domain", domain, "error", err)
	}
	return d.srv(ctx, domain, dom.Sites)
}

// srv lists the domain controllers of domain from DNS. Sites are only
// known for the ones named in sites.
func (d *Discoverer) srv(ctx context.Context, domain string, sites []string) ([]health.Identity, error) {
	siteOf := make(map[string]string)

	for _, site := range sites {
		hosts, err := d.lookup(ctx, SiteRecord(domain, site))
		if err != nil {
			d.logger.Warn("site SRV lookup failed", "domain", domain, "site", site, "error", err)
			continue
		}
		for _, h := range hosts {
			if _, ok := siteOf[h]; !ok {
				siteOf[h] = site
			}
		}
	}

	hosts, err := d.lookup(ctx, DomainControllersRecord(domain))
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", DomainControllersRecord(domain), err)
	}

	out := make([]health.Identity, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, health.Identity{Hostname: h, Domain: domain, Site: siteOf[h]})
	}
	return out, nil
}

// lookup returns the lowercase targets of an SRV record without the
// trailing dot.
func (d *Discoverer) lookup(ctx context.Context, name string) ([]string, error) {
	_, srvs, err := d.resolver.LookupSRV(ctx, "", "", name)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(srvs))
	for _, s := range srvs {
		h := strings.ToLower(strings.TrimSuffix(s.Target, "."))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

// Merge combines static and discovered nodes, de-duplicated by lowercase
// host name, with excluded host names removed. Static fields take precedence
// over discovered ones. The result is sorted by domain, site and host name.
func Merge(static, discovered []health.Identity, exclude []string) []health.Identity {
	skip := make(map[string]bool, len(exclude))
	for _, h := range exclude {
		skip[strings.ToLower(h)] = true
	}

	byHost := make(map[string]*health.Identity)
	add := func(id health.Identity) {
		key := strings.ToLower(id.Hostname)
		if key == "" || skip[key] {
			return
		}
		existing, ok := byHost[key]
		if !ok {
			byHost[key] = &id
			return
		}
		overlay(existing, id)
	}

	for _, id := range discovered {
		add(id)
	}
	for _, id := range static {
		add(id)
	}

	out := make([]health.Identity, 0, len(byHost))
	for _, id := range byHost {
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !strings.EqualFold(a.Domain, b.Domain) {
			return strings.ToLower(a.Domain) < strings.ToLower(b.Domain)
		}
		if !strings.EqualFold(a.Site, b.Site) {
			return strings.ToLower(a.Site) < strings.ToLower(b.Site)
		}
		return strings.ToLower(a.Hostname) < strings.ToLower(b.Hostname)
	})
	return out
}

// overlay copies every non-empty field of src onto dst.
func overlay(dst *health.Identity, src health.Identity) {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.Domain != "" {
		dst.Domain = src.Domain
	}
	if src.Site != "" {
		dst.Site = src.Site
	}
	if src.IPv4 != "" {
		dst.IPv4 = src.IPv4
	}
	if src.OSVersion != "" {
		dst.OSVersion = src.OSVersion
	}
	if len(src.FSMORoles) > 0 {
		dst.FSMORoles = src.FSMORoles
	}
}
