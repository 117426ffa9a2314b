package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jandubois/dchealth/internal/config"
	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
	"github.com/jandubois/dchealth/internal/probe/probetest"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupSRV(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
	targets, ok := f[name]
	if !ok {
		return "", nil, errors.New("no such host")
	}
	var out []*net.SRV
	for _, t := range targets {
		out = append(out, &net.SRV{Target: t, Port: 389})
	}
	return name, out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscover(t *testing.T) {
	resolver := fakeResolver{
		"_ldap._tcp.dc._msdcs.contoso.com": {"DC02.contoso.com.", "dc01.contoso.com.", "dc03.contoso.com."},
		"_ldap._tcp.HQ._sites.dc._msdcs.contoso.com": {"dc01.contoso.com.", "dc02.contoso.com."},
		"_ldap._tcp.Branch._sites.dc._msdcs.contoso.com": {"dc03.contoso.com."},
	}
	cfg := config.DiscoveryConfig{
		Domains: []config.DomainConfig{{Name: "contoso.com", Sites: []string{"HQ", "Branch"}}},
		Nodes: []health.Identity{
			{Hostname: "DC01.contoso.com", FSMORoles: []string{health.RolePDCEmulator}},
		},
	}

	nodes, err := New(resolver, nil, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	assert.Equal(t, "dc03.contoso.com", nodes[0].Hostname)
	assert.Equal(t, "Branch", nodes[0].Site)

	assert.Equal(t, "DC01.contoso.com", nodes[1].Hostname)
	assert.Equal(t, "HQ", nodes[1].Site, "site from SRV kept when static leaves it empty")
	assert.Equal(t, "contoso.com", nodes[1].Domain)
	assert.Equal(t, []string{health.RolePDCEmulator}, nodes[1].FSMORoles)

	assert.Equal(t, "dc02.contoso.com", nodes[2].Hostname)
}

func TestDiscover_FailedDomainKeepsStatic(t *testing.T) {
	cfg := config.DiscoveryConfig{
		Domains: []config.DomainConfig{{Name: "fabrikam.com"}},
		Nodes:   []health.Identity{{Hostname: "dc01.contoso.com", Domain: "contoso.com"}},
	}
	nodes, err := New(fakeResolver{}, nil, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestDiscover_NothingFound(t *testing.T) {
	cfg := config.DiscoveryConfig{Domains: []config.DomainConfig{{Name: "fabrikam.com"}}}
	_, err := New(fakeResolver{}, nil, quietLogger()).Discover(context.Background(), cfg)
	assert.ErrorContains(t, err, "_ldap._tcp.dc._msdcs.fabrikam.com")
}

func TestMerge(t *testing.T) {
	static := []health.Identity{
		{Hostname: "dc9.b.com", Domain: "b.com", Site: "S1"},
		{Hostname: "excluded.a.com", Domain: "a.com"},
	}
	discovered := []health.Identity{
		{Hostname: "dc2.a.com", Domain: "a.com", Site: "S2"},
		{Hostname: "dc1.a.com", Domain: "a.com", Site: "S2"},
		{Hostname: "dc3.a.com", Domain: "a.com", Site: "S1"},
		{Hostname: "DC9.B.COM", Domain: "b.com", IPv4: "10.0.0.9"},
	}

	got := Merge(static, discovered, []string{"EXCLUDED.a.com"})

	var hosts []string
	for _, id := range got {
		hosts = append(hosts, id.Hostname)
	}
	assert.Equal(t, []string{"dc3.a.com", "dc1.a.com", "dc2.a.com", "dc9.b.com"}, hosts)
	assert.Equal(t, "10.0.0.9", got[3].IPv4)
	assert.Equal(t, "S1", got[3].Site)
}

func TestRecordNames(t *testing.T) {
	assert.Equal(t, "_ldap._tcp.dc._msdcs.contoso.com", DomainControllersRecord("contoso.com"))
	assert.Equal(t, "_ldap._tcp.HQ._sites.dc._msdcs.contoso.com", SiteRecord("contoso.com", "HQ"))
}

func adRunner(stdout string) *probetest.Runner {
	return &probetest.Runner{Responses: map[string]probetest.Response{
		"powershell.exe": {Output: probe.Output{Stdout: stdout}},
	}}
}

func TestDiscover_Directory(t *testing.T) {
	runner := adRunner(`[
		{"HostName":"DC01.contoso.com","Site":"HQ","IPv4Address":"10.0.0.1","OperatingSystem":"Windows Server 2022 Standard","OperationMasterRoles":["PDCEmulator","RIDMaster"]},
		{"HostName":"dc02.contoso.com","Site":"Branch","IPv4Address":"10.1.0.2","OperatingSystem":"Windows Server 2019 Standard","OperationMasterRoles":[]}
	]`)
	cfg := config.DiscoveryConfig{Domains: []config.DomainConfig{{Name: "contoso.com"}}}

	nodes, err := New(fakeResolver{}, runner, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, health.Identity{
		Hostname:  "dc02.contoso.com",
		Domain:    "contoso.com",
		Site:      "Branch",
		IPv4:      "10.1.0.2",
		OSVersion: "Windows Server 2019 Standard",
	}, nodes[0])
	assert.Equal(t, health.Identity{
		Hostname:  "dc01.contoso.com",
		Domain:    "contoso.com",
		Site:      "HQ",
		IPv4:      "10.0.0.1",
		OSVersion: "Windows Server 2022 Standard",
		FSMORoles: []string{health.RolePDCEmulator, health.RoleRIDMaster},
	}, nodes[1])

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "Get-ADDomainController -Filter * -Server 'contoso.com'")
}

func TestDiscover_DirectorySingleControllerNumericRoles(t *testing.T) {
	runner := adRunner(`{"HostName":"dc01.fabrikam.com","Site":"Default-First-Site-Name","IPv4Address":"10.2.0.1","OperatingSystem":"Windows Server 2016 Datacenter","OperationMasterRoles":[0,1,2,3,4]}`)
	cfg := config.DiscoveryConfig{Domains: []config.DomainConfig{{Name: "fabrikam.com"}}}

	nodes, err := New(fakeResolver{}, runner, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Default-First-Site-Name", nodes[0].Site)
	assert.Equal(t, []string{
		health.RolePDCEmulator,
		health.RoleRIDMaster,
		health.RoleInfrastructureMaster,
		health.RoleSchemaMaster,
		health.RoleDomainNamingMaster,
	}, nodes[0].FSMORoles)
}

func TestDiscover_DirectoryUnavailableFallsBackToSRV(t *testing.T) {
	resolver := fakeResolver{
		"_ldap._tcp.dc._msdcs.contoso.com": {"dc01.contoso.com.", "dc02.contoso.com."},
	}
	runner := &probetest.Runner{Responses: map[string]probetest.Response{
		"powershell.exe": {Output: probe.Output{
			Stderr:   "Import-Module : The specified module 'ActiveDirectory' was not loaded",
			ExitCode: 1,
		}},
	}}
	cfg := config.DiscoveryConfig{Domains: []config.DomainConfig{{Name: "contoso.com"}}}

	nodes, err := New(resolver, runner, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "dc01.contoso.com", nodes[0].Hostname)
	assert.Empty(t, nodes[0].FSMORoles)
}

func TestDiscover_DirectoryMergesStatic(t *testing.T) {
	runner := adRunner(`{"HostName":"dc01.contoso.com","Site":"HQ","IPv4Address":"10.0.0.1","OperatingSystem":"Windows Server 2022 Standard","OperationMasterRoles":"SchemaMaster"}`)
	cfg := config.DiscoveryConfig{
		Domains: []config.DomainConfig{{Name: "contoso.com"}},
		Nodes:   []health.Identity{{Hostname: "DC01.contoso.com", Site: "Core"}},
	}

	nodes, err := New(fakeResolver{}, runner, quietLogger()).Discover(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Core", nodes[0].Site)
	assert.Equal(t, "10.0.0.1", nodes[0].IPv4)
	assert.Equal(t, []string{health.RoleSchemaMaster}, nodes[0].FSMORoles)
}

func TestParseControllers_Empty(t *testing.T) {
	_, err := parseControllers("  ", "contoso.com")
	assert.Error(t, err)
}
