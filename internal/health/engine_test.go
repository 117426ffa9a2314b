package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nominalNode returns a node where every consulted metric passes.
func nominalNode() *Node {
	n := &Node{
		Identity: Identity{Hostname: "dc01.contoso.com", Domain: "contoso.com", Site: "HQ"},
		Results:  map[Metric]Value{},
	}
	for _, r := range DefaultRules() {
		n.Results[r.Metric] = Success()
	}
	n.Results[MetricUptimeHours] = Numeric(720)
	n.Results[MetricFreeGB] = Numeric(80)
	n.Results[MetricFreePercent] = Numeric(60)
	n.Results[MetricTimeOffset] = Numeric(0.01)
	return n
}

func testEngine() *Engine {
	return NewEngine(DefaultThresholds(), nil)
}

func TestClassifyBinary(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name   string
		metric Metric
		value  Value
		want   Class
	}{
		{"dns success", MetricDNS, Success(), ClassPass},
		{"ping unreachable", MetricPing, Failure(ReasonUnreachable), ClassFail},
		{"service failed", MetricNTDSService, Failure(ReasonFailed), ClassFail},
		{"dcdiag not measured", DCDiagMetric("Replications"), Failure(ReasonNotMeasured), ClassFail},
		{"warning dcdiag failed", DCDiagMetric("SystemLog"), Failure(ReasonFailed), ClassFail},
		{"binary metric with number", MetricDNS, Numeric(1), ClassNeutral},
		{"binary metric missing", MetricPing, Value{}, ClassNeutral},
		{"unknown metric success", Metric("mystery"), Success(), ClassNeutral},
		{"unknown metric failure", Metric("mystery"), Failure(ReasonFailed), ClassNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Classify(tt.metric, tt.value))
		})
	}
}

func TestClassifyThresholds(t *testing.T) {
	e := NewEngine(Thresholds{
		UptimeWarnHours: 24,
		FreePercentFail: 5,
		FreePercentWarn: 30,
		FreeGBFail:      5,
		FreeGBWarn:      10,
		TimeWarnSeconds: 0.5,
		TimeFailSeconds: 1.0,
	}, nil)

	tests := []struct {
		name   string
		metric Metric
		value  Value
		want   Class
	}{
		{"uptime sentinel", MetricUptimeHours, Failure(ReasonNotMeasured), ClassFail},
		{"uptime at warn", MetricUptimeHours, Numeric(24), ClassWarn},
		{"uptime recent reboot", MetricUptimeHours, Numeric(2), ClassWarn},
		{"uptime long", MetricUptimeHours, Numeric(25), ClassPass},
		{"percent fail and warn overlap", MetricFreePercent, Numeric(3), ClassFail},
		{"percent at fail", MetricFreePercent, Numeric(5), ClassFail},
		{"percent at warn", MetricFreePercent, Numeric(30), ClassWarn},
		{"percent ok", MetricFreePercent, Numeric(30.1), ClassPass},
		{"gb below fail", MetricFreeGB, Numeric(4.9), ClassFail},
		{"gb at fail", MetricFreeGB, Numeric(5), ClassWarn},
		{"gb below warn", MetricFreeGB, Numeric(8), ClassWarn},
		{"gb at warn", MetricFreeGB, Numeric(10), ClassPass},
		{"time at fail", MetricTimeOffset, Numeric(1.0), ClassFail},
		{"time over fail", MetricTimeOffset, Numeric(1.2), ClassFail},
		{"time at warn", MetricTimeOffset, Numeric(0.5), ClassWarn},
		{"time negative drift", MetricTimeOffset, Numeric(-0.7), ClassWarn},
		{"time ok", MetricTimeOffset, Numeric(0.1), ClassPass},
		{"time unreachable", MetricTimeOffset, Failure(ReasonUnreachable), ClassFail},
		{"threshold metric with success token", MetricFreeGB, Success(), ClassNeutral},
		{"threshold metric missing", MetricFreeGB, Value{}, ClassNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Classify(tt.metric, tt.value))
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	e := testEngine()
	for _, m := range e.Metrics() {
		for _, v := range []Value{Success(), Failure(ReasonFailed), Numeric(3), Value{}} {
			assert.Equal(t, e.Classify(m, v), e.Classify(m, v), "metric %s value %v", m, v)
		}
	}
}

func TestEvaluateHealthy(t *testing.T) {
	v := testEngine().Evaluate(nominalNode())
	assert.Equal(t, StateHealthy, v.State)
	assert.Empty(t, v.Triggers)
	for m, c := range v.Classes {
		assert.Equal(t, ClassPass, c, "metric %s", m)
	}
}

func TestEvaluateCriticalBinaryDominates(t *testing.T) {
	for _, m := range DefaultPolicy().Critical() {
		t.Run(string(m), func(t *testing.T) {
			n := nominalNode()
			n.Results[m] = Failure(ReasonFailed)
			// Warning-level conditions must not soften the verdict.
			n.Results[MetricUptimeHours] = Numeric(1)
			n.Results[DCDiagMetric("SystemLog")] = Failure(ReasonFailed)

			v := testEngine().Evaluate(n)
			assert.Equal(t, StateCritical, v.State)
			assert.Equal(t, []Metric{m}, v.Triggers)
		})
	}
}

func TestEvaluateWarningBinary(t *testing.T) {
	for _, m := range DefaultPolicy().Warning() {
		t.Run(string(m), func(t *testing.T) {
			n := nominalNode()
			n.Results[m] = Failure(ReasonFailed)

			v := testEngine().Evaluate(n)
			assert.Equal(t, StateWarning, v.State)
			assert.Contains(t, v.Triggers, m)
		})
	}
}

func TestScenarioFreePercentCritical(t *testing.T) {
	e := NewEngine(Thresholds{FreePercentFail: 5, FreePercentWarn: 30, FreeGBFail: 5, FreeGBWarn: 10, UptimeWarnHours: 24, TimeWarnSeconds: 0.5, TimeFailSeconds: 1}, nil)
	n := nominalNode()
	n.Results[MetricFreePercent] = Numeric(3)

	assert.Equal(t, ClassFail, e.Classify(MetricFreePercent, n.Results[MetricFreePercent]))
	v := e.Evaluate(n)
	assert.Equal(t, StateCritical, v.State)
	assert.Equal(t, []Metric{MetricFreePercent}, v.Triggers)
}

func TestScenarioFreeGBWarning(t *testing.T) {
	e := testEngine()
	n := nominalNode()
	n.Results[MetricFreeGB] = Numeric(8)

	v := e.Evaluate(n)
	assert.Equal(t, ClassWarn, v.Classes[MetricFreeGB])
	assert.Equal(t, StateWarning, v.State)
	assert.Equal(t, []Metric{MetricFreeGB}, v.Triggers)
}

func TestScenarioAllSentinels(t *testing.T) {
	e := testEngine()
	n := &Node{Results: map[Metric]Value{}}
	for _, m := range e.Metrics() {
		n.Results[m] = Failure(ReasonUnreachable)
	}

	v := e.Evaluate(n)
	assert.Equal(t, StateCritical, v.State)
	assert.Contains(t, v.Triggers, MetricDNS)
	assert.Contains(t, v.Triggers, MetricPing)
	assert.Contains(t, v.Triggers, MetricNTDSService)
	for m, c := range v.Classes {
		assert.Equal(t, ClassFail, c, "metric %s", m)
	}
}

func TestScenarioRecentReboot(t *testing.T) {
	n := nominalNode()
	n.Results[MetricUptimeHours] = Numeric(2)

	v := testEngine().Evaluate(n)
	assert.Equal(t, ClassWarn, v.Classes[MetricUptimeHours])
	assert.Equal(t, StateWarning, v.State)
}

func TestScenarioTimeOffsetFailEscalates(t *testing.T) {
	n := nominalNode()
	n.Results[MetricTimeOffset] = Numeric(1.2)
	n.Results[MetricUptimeHours] = Numeric(2)

	v := testEngine().Evaluate(n)
	assert.Equal(t, ClassFail, v.Classes[MetricTimeOffset])
	assert.Equal(t, StateCritical, v.State)
	assert.Equal(t, []Metric{MetricTimeOffset}, v.Triggers)
}

func TestEvaluateTimeOffsetWarn(t *testing.T) {
	n := nominalNode()
	n.Results[MetricTimeOffset] = Numeric(-0.6)

	v := testEngine().Evaluate(n)
	assert.Equal(t, StateWarning, v.State)
	assert.Equal(t, []Metric{MetricTimeOffset}, v.Triggers)
}

func TestEvaluateMissingAndMistypedValues(t *testing.T) {
	e := testEngine()

	t.Run("empty results", func(t *testing.T) {
		v := e.Evaluate(&Node{})
		assert.Equal(t, StateHealthy, v.State)
		assert.Equal(t, ClassNeutral, v.Classes[MetricPing])
	})

	t.Run("threshold sentinel does not breach", func(t *testing.T) {
		n := nominalNode()
		n.Results[MetricFreeGB] = Failure(ReasonNotMeasured)
		n.Results[MetricFreePercent] = Failure(ReasonNotMeasured)

		v := e.Evaluate(n)
		assert.Equal(t, StateHealthy, v.State)
		assert.Equal(t, ClassFail, v.Classes[MetricFreeGB])
	})

	t.Run("wrong kind skips numeric rule", func(t *testing.T) {
		n := nominalNode()
		n.Results[MetricUptimeHours] = Success()

		v := e.Evaluate(n)
		assert.Equal(t, StateHealthy, v.State)
		assert.Equal(t, ClassNeutral, v.Classes[MetricUptimeHours])
	})

	t.Run("extra metric is classified neutral", func(t *testing.T) {
		n := nominalNode()
		n.Results["replication_latency"] = Numeric(12)

		v := e.Evaluate(n)
		assert.Equal(t, StateHealthy, v.State)
		assert.Equal(t, ClassNeutral, v.Classes["replication_latency"])
	})
}

func TestEvaluateAllMatchesSequential(t *testing.T) {
	e := testEngine()

	nodes := make([]Node, 0, 30)
	for i := 0; i < 30; i++ {
		n := nominalNode()
		switch i % 3 {
		case 1:
			n.Results[MetricFreeGB] = Numeric(7)
		case 2:
			n.Results[MetricPing] = Failure(ReasonUnreachable)
		}
		nodes = append(nodes, *n)
	}

	sequential := e.EvaluateAll(nodes, 1)
	parallel := e.EvaluateAll(nodes, 8)
	require.Len(t, parallel, len(nodes))
	assert.Equal(t, sequential, parallel)
	assert.Equal(t, StateHealthy, parallel[0].State)
	assert.Equal(t, StateWarning, parallel[1].State)
	assert.Equal(t, StateCritical, parallel[2].State)
}

func TestCustomPolicy(t *testing.T) {
	p, err := NewPolicy([]Rule{
		{MetricPing, SeverityCritical},
		{MetricDNS, SeverityWarning},
	})
	require.NoError(t, err)

	n := nominalNode()
	n.Results[MetricDNS] = Failure(ReasonFailed)
	v := NewEngine(DefaultThresholds(), p).Evaluate(n)
	assert.Equal(t, StateWarning, v.State)
	// Metrics outside the custom table are unknown to this engine.
	assert.Equal(t, ClassNeutral, v.Classes[MetricNTDSService])
}

func TestNewPolicyRejectsBadTables(t *testing.T) {
	_, err := NewPolicy([]Rule{{MetricPing, SeverityCritical}, {MetricPing, SeverityWarning}})
	assert.ErrorContains(t, err, "more than once")

	_, err = NewPolicy([]Rule{{MetricFreeGB, SeverityCritical}})
	assert.ErrorContains(t, err, "threshold metric")

	_, err = NewPolicy([]Rule{{MetricPing, "fatal"}})
	assert.ErrorContains(t, err, "unknown severity")
}

func TestDefaultPolicyCoversDCDiag(t *testing.T) {
	assert.Len(t, DCDiagTests, 21)
	p := DefaultPolicy()
	assert.Len(t, p.Metrics(), 26)
	assert.Len(t, p.Critical(), 16)
	assert.Len(t, p.Warning(), 10)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.FreePercentFail = 40
	assert.ErrorContains(t, bad.Validate(), "free_percent_fail")

	bad = DefaultThresholds()
	bad.TimeWarnSeconds = 2
	assert.ErrorContains(t, bad.Validate(), "time_warn_seconds")

	bad = DefaultThresholds()
	bad.FreeGBFail = -1
	assert.ErrorContains(t, bad.Validate(), "must not be negative")
}
