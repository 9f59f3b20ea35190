package graph

import (
	"strings"

	"github.com/kandev/execwatch/internal/execution/models"
)

// AgentResolver finds an agent for a reference, or returns nil.
type AgentResolver func(agents []*models.Agent, ref string) *models.Agent

// DefaultAgentResolvers is the fallback chain used to resolve agent
// references carried by orchestrator events. The first match wins; two
// agents sharing a role resolve to the one that appears first in the graph.
var DefaultAgentResolvers = []AgentResolver{
	ResolveByInternalID,
	ResolveByExternalID,
	ResolveByRole,
	ResolveByRoleContainment,
}

// ResolveByInternalID matches Agent.ID.
func ResolveByInternalID(agents []*models.Agent, ref string) *models.Agent {
	for _, a := range agents {
		if a.ID == ref {
			return a
		}
	}
	return nil
}

// ResolveByExternalID matches the orchestrator-assigned Agent.AgentID.
func ResolveByExternalID(agents []*models.Agent, ref string) *models.Agent {
	for _, a := range agents {
		if a.AgentID != "" && a.AgentID == ref {
			return a
		}
	}
	return nil
}

// ResolveByRole matches the role name, ignoring case.
func ResolveByRole(agents []*models.Agent, ref string) *models.Agent {
	for _, a := range agents {
		if a.Role != "" && strings.EqualFold(a.Role, ref) {
			return a
		}
	}
	return nil
}

// ResolveByRoleContainment matches when either the role or the reference
// contains the other, ignoring case.
func ResolveByRoleContainment(agents []*models.Agent, ref string) *models.Agent {
	needle := strings.ToLower(ref)
	for _, a := range agents {
		if a.Role == "" {
			continue
		}
		role := strings.ToLower(a.Role)
		if strings.Contains(role, needle) || strings.Contains(needle, role) {
			return a
		}
	}
	return nil
}

// resolveAgent runs the chain strategy by strategy, trying every reference
// at each step, so an exact id on any reference beats a role match on another.
func resolveAgent(resolvers []AgentResolver, agents []*models.Agent, refs ...string) *models.Agent {
	var usable []string
	for _, ref := range refs {
		if strings.TrimSpace(ref) != "" {
			usable = append(usable, ref)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	for _, r := range resolvers {
		for _, ref := range usable {
			if a := r(agents, ref); a != nil {
				return a
			}
		}
	}
	return nil
}
