package dnslookup

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

type fakeResolver struct {
	addrs []net.IPAddr
	err   error
}

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return f.addrs, f.err
}

func TestRunEmptyHost(t *testing.T) {
	result := Run(context.Background(), fakeResolver{}, "")
	assert.Equal(t, probe.StatusUnknown, result.Status)
	assert.Equal(t, "host argument is required", result.Message)
}

func TestRunResolves(t *testing.T) {
	resolver := fakeResolver{addrs: []net.IPAddr{
		{IP: net.ParseIP("fe80::1")},
		{IP: net.ParseIP("10.0.0.10")},
	}}

	result := Run(context.Background(), resolver, "dc01.contoso.com")
	assert.Equal(t, probe.StatusOK, result.Status)
	assert.True(t, result.Values[health.MetricDNS].IsSuccess())
	assert.Equal(t, "10.0.0.10", result.Data["ipv4"])
}

func TestRunLookupError(t *testing.T) {
	result := Run(context.Background(), fakeResolver{err: errors.New("no such host")}, "dc99.contoso.com")
	assert.Equal(t, probe.StatusCritical, result.Status)
	assert.True(t, result.Values[health.MetricDNS].IsFailure())
}

func TestRunNoAddresses(t *testing.T) {
	result := Run(context.Background(), fakeResolver{}, "dc01.contoso.com")
	assert.Equal(t, health.ReasonFailed, result.Values[health.MetricDNS].Reason())
}
