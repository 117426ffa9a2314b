package dcdiag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probe/probetest"
)

// report builds dcdiag-style output with every table test passing except
// those listed in failing.
func report(failing ...string) string {
	fail := make(map[string]bool)
	for _, f := range failing {
		fail[f] = true
	}
	var b strings.Builder
	b.WriteString("Directory Server Diagnosis\n\nPerforming initial setup:\n")
	b.WriteString("   Testing server: HQ\\DC01\n")
	for _, r := range health.DCDiagTests {
		test, _ := r.Metric.DCDiagTest()
		outcome := "passed"
		if fail[test] {
			outcome = "failed"
		}
		fmt.Fprintf(&b, "      Starting test: %s\n         ......................... DC01 %s test %s\n", test, outcome, test)
	}
	return b.String()
}

func runWith(stdout string) *probe.Result {
	runner := &probetest.Runner{Responses: map[string]probetest.Response{
		"dcdiag": {Output: probe.Output{Stdout: stdout}},
	}}
	return Run(context.Background(), runner, "dc01")
}

func TestRunAllPassed(t *testing.T) {
	result := runWith(report())
	require.Equal(t, probe.StatusOK, result.Status, result.Message)
	assert.Len(t, result.Values, 21)
	for m, v := range result.Values {
		assert.True(t, v.IsSuccess(), "expected %s success, got %v", m, v)
	}
}

func TestRunFailedTests(t *testing.T) {
	result := runWith(report("Replications", "SystemLog"))
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.Equal(t, health.ReasonFailed, result.Values[health.DCDiagMetric("Replications")].Reason())
	assert.Equal(t, "failed: Replications, SystemLog", result.Message)
}

func TestRunSkippedTests(t *testing.T) {
	out := `   Testing server: HQ\DC02
      Starting test: Connectivity
         The host 1b2c could not be resolved to an IP address.
         ......................... DC02 failed test Connectivity

   Doing primary tests
      Skipping all tests, because server DC02 is not responding to directory service requests.
`
	result := runWith(out)
	assert.Equal(t, health.ReasonFailed, result.Values[health.DCDiagMetric("Connectivity")].Reason())
	assert.Equal(t, health.ReasonNotMeasured, result.Values[health.DCDiagMetric("Advertising")].Reason())
	assert.EqualValues(t, 20, result.Metrics["tests_missing"])
}

func TestRunNoOutput(t *testing.T) {
	runner := &probetest.Runner{Responses: map[string]probetest.Response{
		"dcdiag": {Output: probe.Output{Stderr: "Ldap search capability attribute search failed on server dc01"}},
	}}
	result := Run(context.Background(), runner, "dc01")
	assert.Equal(t, probe.StatusUnknown, result.Status)
	assert.Contains(t, result.Message, "Ldap search")
}

func TestParsePartitionTests(t *testing.T) {
	out := `   Running partition tests on : ForestDnsZones
      Starting test: CheckSDRefDom
         ......................... ForestDnsZones passed test CheckSDRefDom
   Running partition tests on : DomainDnsZones
      Starting test: CheckSDRefDom
         ......................... DomainDnsZones failed test CheckSDRefDom
   Running partition tests on : Schema
      Starting test: CheckSDRefDom
         ......................... Schema passed test CheckSDRefDom
   Running enterprise tests on : contoso.com
      Starting test: LocatorCheck
         ......................... contoso.com passed test LocatorCheck
      Starting test: DNS
         ......................... contoso.com passed test DNS
`
	outcomes := Parse(out)
	assert.False(t, outcomes["checksdrefdom"], "CheckSDRefDom should fail when any partition fails")
	assert.True(t, outcomes["locatorcheck"])
	assert.Equal(t, []string{"dns"}, Unknown(outcomes))
}
