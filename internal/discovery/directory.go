package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jandubois/dchealth/internal/health"
	"github.com/jandubois/dchealth/internal/probe"
)

// directoryController is one element of Get-ADDomainController output.
type directoryController struct {
	HostName             string          `json:"HostName"`
	Site                 string          `json:"Site"`
	IPv4Address          string          `json:"IPv4Address"`
	OperatingSystem      string          `json:"OperatingSystem"`
	OperationMasterRoles json.RawMessage `json:"OperationMasterRoles"`
}

// directoryRoles maps the numeric ADOperationMasterRole values that
// Windows PowerShell emits for enums.
var directoryRoles = map[int]string{
	0: health.RolePDCEmulator,
	1: health.RoleRIDMaster,
	2: health.RoleInfrastructureMaster,
	3: health.RoleSchemaMaster,
	4: health.RoleDomainNamingMaster,
}

// DirectoryScript returns the PowerShell that lists the domain controllers
// of domain with their site, address, OS and FSMO roles.
func DirectoryScript(domain string) string {
	return fmt.Sprintf(
		"Import-Module ActiveDirectory -ErrorAction Stop; "+
			"Get-ADDomainController -Filter * -Server %s -ErrorAction Stop | "+
			"Select-Object HostName,Site,IPv4Address,OperatingSystem,"+
			"@{n='OperationMasterRoles';e={@($_.OperationMasterRoles | ForEach-Object { $_.ToString() })}} | "+
			"ConvertTo-Json -Compress -Depth 3",
		probe.QuotePS(domain),
	)
}

// directory asks Active Directory for the domain controllers of domain.
// It fails when the ActiveDirectory module is not installed.
func (d *Discoverer) directory(ctx context.Context, domain string) ([]health.Identity, error) {
	out, err := probe.PowerShell(ctx, d.runner, DirectoryScript(domain))
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("Get-ADDomainController: %s", probe.Truncate(strings.TrimSpace(out.Stderr), 500))
	}
	return parseControllers(out.Stdout, domain)
}

// parseControllers decodes ConvertTo-Json output, which is a single object
// when the domain has one controller and an array otherwise.
func parseControllers(stdout, domain string) ([]health.Identity, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, errors.New("no domain controllers returned")
	}

	var list []directoryController
	if strings.HasPrefix(stdout, "[") {
		if err := json.Unmarshal([]byte(stdout), &list); err != nil {
			return nil, fmt.Errorf("parse domain controllers: %w", err)
		}
	} else {
		var single directoryController
		if err := json.Unmarshal([]byte(stdout), &single); err != nil {
			return nil, fmt.Errorf("parse domain controllers: %w", err)
		}
		list = []directoryController{single}
	}

	out := make([]health.Identity, 0, len(list))
	for _, dc := range list {
		host := strings.ToLower(strings.TrimSuffix(dc.HostName, "."))
		if host == "" {
			continue
		}
		out = append(out, health.Identity{
			Hostname:  host,
			Domain:    domain,
			Site:      dc.Site,
			IPv4:      dc.IPv4Address,
			OSVersion: dc.OperatingSystem,
			FSMORoles: parseRoles(dc.OperationMasterRoles),
		})
	}
	if len(out) == 0 {
		return nil, errors.New("no domain controllers returned")
	}
	return out, nil
}

// parseRoles accepts a role or a list of roles, each a name or an enum
// number.
func parseRoles(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		items = []json.RawMessage{raw}
	}

	var roles []string
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name != "" {
				roles = append(roles, name)
			}
			continue
		}
		var n int
		if err := json.Unmarshal(item, &n); err == nil {
			if name, ok := directoryRoles[n]; ok {
				roles = append(roles, name)
			}
		}
	}
	return roles
}
