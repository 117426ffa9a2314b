package ping

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probe/probetest"
)

type fakeDialer struct {
	err     error
	address string
}

func (f *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	f.address = address
	if f.err != nil {
		return nil, f.err
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

const linuxReply = `PING dc01 (10.0.0.10) 56(84) bytes of data.
64 bytes from 10.0.0.10: icmp_seq=1 ttl=128 time=0.412 ms
`

const windowsUnreachable = `Pinging 10.0.0.99 with 32 bytes of data:
Reply from 10.0.0.1: Destination host unreachable.
`

func TestRunReply(t *testing.T) {
	runner := &probetest.Runner{Responses: map[string]probetest.Response{
		"ping": {Output: probe.Output{Stdout: linuxReply}},
	}}

	result := Run(context.Background(), runner, &fakeDialer{}, "dc01", time.Second)
	require.Equal(t, probe.StatusOK, result.Status, result.Message)
	assert.True(t, result.Values[health.MetricPing].IsSuccess())
	assert.Equal(t, 0.412, result.Metrics["rtt_ms"])
}

func TestRunNoReply(t *testing.T) {
	runner := &probetest.Runner{Responses: map[string]probetest.Response{
		"ping": {Output: probe.Output{Stdout: windowsUnreachable}},
	}}

	result := Run(context.Background(), runner, &fakeDialer{}, "10.0.0.99", time.Second)
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.Equal(t, health.ReasonUnreachable, result.Values[health.MetricPing].Reason())
}

func TestRunFallsBackToTCP(t *testing.T) {
	runner := &probetest.Runner{}
	dialer := &fakeDialer{}

	result := Run(context.Background(), runner, dialer, "dc01", time.Second)
	assert.Equal(t, probe.StatusOK, result.Status, result.Message)
	assert.Equal(t, "dc01:389", dialer.address)
	assert.Equal(t, "tcp", result.Data["method"])
}

func TestRunFallbackFails(t *testing.T) {
	runner := &probetest.Runner{}
	dialer := &fakeDialer{err: errors.New("connection refused")}

	result := Run(context.Background(), runner, dialer, "dc01", time.Second)
	assert.True(t, result.Values[health.MetricPing].IsFailure())
}

func TestPingArgs(t *testing.T) {
	win := pingArgs("windows", "dc01", 1500*time.Millisecond)
	require.Len(t, win, 5)
	assert.Equal(t, "1500", win[3])

	lin := pingArgs("linux", "dc01", 200*time.Millisecond)
	require.Len(t, lin, 5)
	assert.Equal(t, "1", lin[3])
}
