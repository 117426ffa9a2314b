package report

import (
	"embed"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// cell is one rendered metric.
type cell struct {
	Text  string
	Class health.Class
}

type diagCell struct {
	Passed int
	Total  int
	Issues []cell
}

type nodeView struct {
	Hostname  string
	IPv4      string
	OSVersion string
	FSMORoles string
	State     health.State
	Triggers  string
	Meter     float64
	Cells     []cell
	DCDiag    diagCell
}

type siteView struct {
	Site  string
	Nodes []nodeView
}

type domainView struct {
	Domain string
	Sites  []siteView
}

type pageView struct {
	Title     string
	RunID     string
	Started   string
	Relative  string
	Duration  string
	Summary   collector.Summary
	Worst     health.State
	Columns   []string
	Domains   []domainView
	NoneFound bool
}

// columns are the fixed metric columns before the DCDIAG summary.
var columns = []struct {
	Title  string
	Metric health.Metric
}{
	{"DNS", health.MetricDNS},
	{"Ping", health.MetricPing},
	{"Uptime", health.MetricUptimeHours},
	{"Free", health.MetricFreeGB},
	{"Free %", health.MetricFreePercent},
	{"Time offset", health.MetricTimeOffset},
	{"DNS service", health.MetricDNSService},
	{"NTDS service", health.MetricNTDSService},
	{"Netlogon service", health.MetricNetlogonService},
}

// RenderHTML writes the run as a standalone HTML page.
func RenderHTML(w io.Writer, run *collector.Run, opts Options) error {
	title := opts.Title
	if title == "" {
		title = "Domain Controller Health Report"
	}
	page := pageView{
		Title:     title,
		RunID:     run.ID.String(),
		Started:   run.StartedAt.Format(time.RFC1123),
		Relative:  humanize.RelTime(run.StartedAt, opts.now(), "ago", "from now"),
		Duration:  units.HumanDuration(run.Duration()),
		Summary:   run.Summary(),
		Worst:     run.Worst(),
		NoneFound: len(run.Nodes) == 0,
	}
	for _, c := range columns {
		page.Columns = append(page.Columns, c.Title)
	}

	for _, g := range Group(run) {
		dv := domainView{Domain: orUnknown(g.Domain)}
		for _, s := range g.Sites {
			sv := siteView{Site: orUnknown(s.Site)}
			for i := range s.Nodes {
				sv.Nodes = append(sv.Nodes, viewNode(&s.Nodes[i], opts.metrics()))
			}
			dv.Sites = append(dv.Sites, sv)
		}
		page.Domains = append(page.Domains, dv)
	}

	return htmlTemplate.Execute(w, page)
}

func viewNode(n *collector.NodeResult, metrics []health.Metric) nodeView {
	v := nodeView{
		Hostname:  n.Hostname,
		IPv4:      n.IPv4,
		OSVersion: n.OSVersion,
		FSMORoles: strings.Join(n.FSMORoles, ", "),
		State:     n.Verdict.State,
		Meter:     MeterFill(&n.Node),
	}
	var triggers []string
	for _, m := range n.Verdict.Triggers {
		triggers = append(triggers, string(m))
	}
	v.Triggers = strings.Join(triggers, ", ")

	for _, c := range columns {
		v.Cells = append(v.Cells, cell{Text: Display(c.Metric, n.Value(c.Metric)), Class: classOf(n, c.Metric)})
	}

	for _, m := range metrics {
		test, ok := m.DCDiagTest()
		if !ok {
			continue
		}
		v.DCDiag.Total++
		class := classOf(n, m)
		if class == health.ClassPass {
			v.DCDiag.Passed++
			continue
		}
		text := test
		if val := n.Value(m); val.IsFailure() && val.Reason() != health.ReasonFailed {
			text += " (" + string(val.Reason()) + ")"
		}
		v.DCDiag.Issues = append(v.DCDiag.Issues, cell{Text: text, Class: class})
	}
	return v
}

func classOf(n *collector.NodeResult, m health.Metric) health.Class {
	if c, ok := n.Verdict.Classes[m]; ok {
		return c
	}
	return health.ClassNeutral
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
