package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/jandubois/dchealth/internal/collector"
	"github.com/jandubois/dchealth/internal/health"
)

type jsonReport struct {
	*collector.Run
	Summary collector.Summary `json:"summary"`
	Worst   health.State      `json:"worst"`
}

// RenderJSON writes the run with its summary as indented JSON.
func RenderJSON(w io.Writer, run *collector.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Run: run, Summary: run.Summary(), Worst: run.Worst()})
}

// RenderCSV writes one row per node. Metric columns hold the raw value
// token or number; Healthy/Warning/Critical is in the state column.
func RenderCSV(w io.Writer, run *collector.Run, opts Options) error {
	metrics := opts.metrics()
	cw := csv.NewWriter(w)

	header := []string{"domain", "site", "hostname", "ipv4", "os_version", "fsmo_roles", "state", "triggers"}
	for _, m := range metrics {
		header = append(header, string(m))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, g := range Group(run) {
		for _, s := range g.Sites {
			for _, n := range s.Nodes {
				triggers := make([]string, len(n.Verdict.Triggers))
				for i, m := range n.Verdict.Triggers {
					triggers[i] = string(m)
				}
				row := []string{
					n.Domain, n.Site, n.Hostname, n.IPv4, n.OSVersion,
					strings.Join(n.FSMORoles, ";"),
					string(n.Verdict.State),
					strings.Join(triggers, ";"),
				}
				for _, m := range metrics {
					row = append(row, n.Value(m).String())
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
