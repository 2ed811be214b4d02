package authz

import (
	"fmt"
	"strings"

	"github.com/CobaltCoveLabs/lanyard/internal/accounts"
)

// Capabilities consulted by the invite pipeline.
const (
	CapabilityCreateAccounts  = "create_accounts"
	CapabilityPromoteAccounts = "promote_accounts"
)

// Roles known to a default deployment, lowest privilege first.
const (
	RoleSubscriber    = "subscriber"
	RoleContributor   = "contributor"
	RoleAuthor        = "author"
	RoleEditor        = "editor"
	RoleAdministrator = "administrator"
)

// RegistryConfig describes the role set of a deployment. Zero values select
// the default role set and grants.
type RegistryConfig struct {
	Roles       []string
	DefaultRole string
	// Grants maps a role to the capabilities accounts holding it possess.
	Grants map[string][]string
}

// Registry answers role-existence and capability questions for the fixed
// role set of a deployment.
type Registry struct {
	defaultRole string
	roles       map[string]struct{}
	grants      map[string]map[string]struct{}
}

// NewRegistry constructs a registry, applying default roles and grants when
// the configuration leaves them unset.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	roleNames := cfg.Roles
	if len(roleNames) == 0 {
		roleNames = []string{RoleSubscriber, RoleContributor, RoleAuthor, RoleEditor, RoleAdministrator}
	}

	roles := make(map[string]struct{}, len(roleNames))
	for _, role := range roleNames {
		normalized := strings.TrimSpace(role)
		if normalized == "" {
			continue
		}
		roles[normalized] = struct{}{}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("authz: at least one role required")
	}

	defaultRole := strings.TrimSpace(cfg.DefaultRole)
	if defaultRole == "" {
		defaultRole = RoleSubscriber
	}
	if _, ok := roles[defaultRole]; !ok {
		return nil, fmt.Errorf("authz: default role %q is not a known role", defaultRole)
	}

	grantSource := cfg.Grants
	if grantSource == nil {
		grantSource = map[string][]string{
			RoleAdministrator: {CapabilityCreateAccounts, CapabilityPromoteAccounts},
			RoleEditor:        {CapabilityCreateAccounts},
		}
	}
	grants := make(map[string]map[string]struct{}, len(grantSource))
	for role, capabilities := range grantSource {
		set := make(map[string]struct{}, len(capabilities))
		for _, capability := range capabilities {
			set[strings.TrimSpace(capability)] = struct{}{}
		}
		grants[strings.TrimSpace(role)] = set
	}

	return &Registry{
		defaultRole: defaultRole,
		roles:       roles,
		grants:      grants,
	}, nil
}

// Known reports whether the role belongs to the deployment's role set.
func (r *Registry) Known(role string) bool {
	_, ok := r.roles[strings.TrimSpace(role)]
	return ok
}

// DefaultRole returns the lowest-privilege role assigned when an invite
// names no other.
func (r *Registry) DefaultRole() string {
	return r.defaultRole
}

// AccountHasCapability reports whether the account's role grants the
// capability.
func (r *Registry) AccountHasCapability(account accounts.Account, capability string) bool {
	grants, ok := r.grants[account.Role]
	if !ok {
		return false
	}
	_, ok = grants[capability]
	return ok
}
