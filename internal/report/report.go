// Package report renders a check run as HTML, JSON or CSV.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

// Formats lists the supported output formats.
var Formats = []string{"html", "json", "csv"}

// Options controls rendering.
type Options struct {
	Title string
	// Metrics fixes the column order. Nil uses the default engine order.
	Metrics []health.Metric
	// Now is used for relative times. Nil means time.Now.
	Now func() time.Time
}

func (o Options) metrics() []health.Metric {
	if o.Metrics != nil {
		return o.Metrics
	}
	return health.NewEngine(health.DefaultThresholds(), nil).Metrics()
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// SiteGroup is the nodes of one site.
type SiteGroup struct {
	Site  string
	Nodes []collector.NodeResult
}

// DomainGroup is the sites of one domain.
type DomainGroup struct {
	Domain string
	Sites  []SiteGroup
}

// Group arranges the run's nodes by domain then site. Groups and the
// nodes within them are sorted by name.
func Group(run *collector.Run) []DomainGroup {
	byDomain := make(map[string]map[string][]collector.NodeResult)
	for _, n := range run.Nodes {
		sites, ok := byDomain[n.Domain]
		if !ok {
			sites = make(map[string][]collector.NodeResult)
			byDomain[n.Domain] = sites
		}
		sites[n.Site] = append(sites[n.Site], n)
	}

	out := make([]DomainGroup, 0, len(byDomain))
	for domain, sites := range byDomain {
		g := DomainGroup{Domain: domain}
		for site, nodes := range sites {
			sort.Slice(nodes, func(i, j int) bool {
				return strings.ToLower(nodes[i].Hostname) < strings.ToLower(nodes[j].Hostname)
			})
			g.Sites = append(g.Sites, SiteGroup{Site: site, Nodes: nodes})
		}
		sort.Slice(g.Sites, func(i, j int) bool { return g.Sites[i].Site < g.Sites[j].Site })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Render writes run to w in the given format.
func Render(w io.Writer, format string, run *collector.Run, opts Options) error {
	switch format {
	case "html":
		return RenderHTML(w, run, opts)
	case "json":
		return RenderJSON(w, run)
	case "csv":
		return RenderCSV(w, run, opts)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// FileName returns the base file name for a run's report.
func FileName(run *collector.Run, format string) string {
	return fmt.Sprintf("dchealth-%s.%s", run.StartedAt.UTC().Format("20060102-150405"), format)
}

// WriteFile renders run once per format into dir and returns the paths
// written.
func WriteFile(dir string, formats []string, run *collector.Run, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, FileName(run, format))
		if err := writeOne(path, format, run, opts); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeOne(path, format string, run *collector.Run, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, format, run, opts); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", format, err)
	}
	return f.Close()
}

// Display formats one raw value for a report cell.
func Display(m health.Metric, v health.Value) string {
	switch v.Kind() {
	case health.KindMissing:
		return "n/a"
	case health.KindSuccess:
		return "Success"
	case health.KindFailure:
		if v.Reason() == health.ReasonFailed {
			return "Failed"
		}
		r := string(v.Reason())
		return strings.ToUpper(r[:1]) + r[1:]
	}

	n, _ := v.Number()
	switch m {
	case health.MetricUptimeHours:
		return units.HumanDuration(time.Duration(n * float64(time.Hour)))
	case health.MetricFreeGB:
		return units.BytesSize(n * 1024 * 1024 * 1024)
	case health.MetricFreePercent:
		return fmt.Sprintf("%.1f%%", n)
	case health.MetricTimeOffset:
		return fmt.Sprintf("%.3fs", n)
	default:
		return fmt.Sprintf("%g", n)
	}
}

// MeterFill returns the free space meter width in percent, 0 to 100.
// A node without a measured free percentage gets an empty meter.
func MeterFill(n *health.Node) float64 {
	pct, ok := n.Value(health.MetricFreePercent).Number()
	if !ok {
		return 0
	}
	return math.Max(0, math.Min(100, pct))
}
