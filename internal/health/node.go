// Package health classifies domain controller probe results into a
// Healthy/Warning/Critical verdict. It performs no I/O.
package health

import "strings"

// Metric names one probe measurement on a node.
type Metric string

const (
	MetricDNS             Metric = "dns"
	MetricPing            Metric = "ping"
	MetricDNSService      Metric = "service_dns"
	MetricNTDSService     Metric = "service_ntds"
	MetricNetlogonService Metric = "service_netlogon"
	MetricUptimeHours     Metric = "uptime_hours"
	MetricFreePercent     Metric = "free_percent"
	MetricFreeGB          Metric = "free_gb"
	MetricTimeOffset      Metric = "time_offset_seconds"
)

const dcdiagPrefix = "dcdiag_"

// DCDiagMetric returns the metric name for a DCDIAG sub-test.
func DCDiagMetric(test string) Metric {
	return Metric(dcdiagPrefix + test)
}

// DCDiagTest returns the sub-test name of a DCDIAG metric.
func (m Metric) DCDiagTest() (string, bool) {
	if !strings.HasPrefix(string(m), dcdiagPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(m), dcdiagPrefix), true
}

// FSMO role names as reported by the directory.
const (
	RoleSchemaMaster         = "SchemaMaster"
	RoleDomainNamingMaster   = "DomainNamingMaster"
	RolePDCEmulator          = "PDCEmulator"
	RoleRIDMaster            = "RIDMaster"
	RoleInfrastructureMaster = "InfrastructureMaster"
)

// Identity describes a domain controller independent of its measurements.
type Identity struct {
	Hostname  string   `json:"hostname" yaml:"hostname"`
	Domain    string   `json:"domain" yaml:"domain"`
	Site      string   `json:"site" yaml:"site"`
	IPv4      string   `json:"ipv4,omitempty" yaml:"ipv4"`
	OSVersion string   `json:"os_version,omitempty" yaml:"os_version"`
	FSMORoles []string `json:"fsmo_roles,omitempty" yaml:"fsmo_roles"`
}

// Node is one domain controller together with its collected probe results.
type Node struct {
	Identity
	Results map[Metric]Value `json:"results"`
}

// Value returns the raw value for m. Missing metrics return the zero Value.
func (n *Node) Value(m Metric) Value {
	if n.Results == nil {
		return Value{}
	}
	return n.Results[m]
}
