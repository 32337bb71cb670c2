package provisioner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"

	"platformenv/cache"
	"platformenv/database"
	"platformenv/environment"
	"platformenv/platform"
	"platformenv/services"
)

// provisionDatabase hands the database relationship to the config store.
// The store's previous record is replaced outright.
func (p *Provisioner) provisionDatabase() (string, error) {
	if p.opts.Database == nil {
		return "", errSkip("no database config store")
	}
	cred, err := p.provider.Credentials(p.opts.DatabaseRelationship)
	if err != nil {
		return "", fmt.Errorf("read %q credentials: %w", p.opts.DatabaseRelationship, err)
	}
	cfg := DatabaseConfigFrom(cred)
	if err := p.opts.Database.SetConfig(cfg); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s@%s/%s", cfg.Username, cred.Address(), cfg.Database), nil
}

// DatabaseConfigFrom maps a platform credential to a database record
func DatabaseConfigFrom(cred platform.Credential) database.Config {
	return database.Config{
		Server:   cred.Host,
		Port:     cred.Port,
		Username: cred.Username,
		Password: cred.Password,
		Database: cred.Path,
		Type:     database.DriverPostgres,
	}
}

// relationshipChecker is implemented by providers that can tell an unbound
// relationship apart from a broken one
type relationshipChecker interface {
	HasRelationship(relationship string) bool
}

// provisionCache is skipped rather than failed when the provider knows the
// cache relationship is not bound. The cache is optional.
func (p *Provisioner) provisionCache() (string, error) {
	if p.opts.Cache == nil {
		return "", errSkip("no cache config store")
	}
	if rc, ok := p.provider.(relationshipChecker); ok && !rc.HasRelationship(p.opts.CacheRelationship) {
		return "", errSkip(fmt.Sprintf("relationship %q not bound", p.opts.CacheRelationship))
	}
	cred, err := p.provider.Credentials(p.opts.CacheRelationship)
	if err != nil {
		return "", fmt.Errorf("read %q credentials: %w", p.opts.CacheRelationship, err)
	}
	cfg := cache.Config{
		Host:     cred.Host,
		Port:     cred.Port,
		Username: cred.Username,
		Password: cred.Password,
	}
	if err := p.opts.Cache.SetConfig(cfg); err != nil {
		return "", err
	}
	return cfg.Addr(), nil
}

// applyTier sets the deployment tier named by SS_ENVIRONMENT_TYPE. An absent
// value selects the default tier; an unknown one leaves the tier untouched.
func (p *Provisioner) applyTier(vars platform.Variables) (environment.Tier, string, error) {
	if p.opts.Kernel == nil {
		return "", "", errSkip("no kernel")
	}
	tier := environment.DefaultTier
	if raw := strings.TrimSpace(vars[EnvironmentTypeVariable]); raw != "" {
		parsed, err := environment.ParseTier(raw)
		if err != nil {
			return "", "", err
		}
		tier = parsed
	}
	p.opts.Kernel.SetTier(tier)
	return tier, string(tier), nil
}

// mergeVariables overlays the allow-listed platform variables on the current
// environment and writes the result back in one call.
func (p *Provisioner) mergeVariables(vars platform.Variables) ([]string, string, error) {
	if p.opts.Environment == nil {
		return nil, "", errSkip("no environment store")
	}
	filtered := FilterVariables(vars, p.opts.AllowedVariables)
	if len(filtered) == 0 {
		return nil, "", errSkip("no allow-listed variables present")
	}

	snap := p.opts.Environment.Variables().Clone()
	merged, err := MergeVariables(snap.Env, filtered)
	if err != nil {
		return nil, "", err
	}
	snap.Env = merged
	if err := p.opts.Environment.SetVariables(snap); err != nil {
		return nil, "", fmt.Errorf("write environment: %w", err)
	}

	names := make([]string, 0, len(filtered))
	for k := range filtered {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, fmt.Sprintf("%d of %d variables", len(filtered), len(vars)), nil
}

// FilterVariables keeps only the variables whose name is in the allow-list
func FilterVariables(vars platform.Variables, allow services.Allowlist) map[string]string {
	out := make(map[string]string)
	for k, v := range vars {
		if allow.Allows(k) {
			out[k] = v
		}
	}
	return out
}

// MergeVariables returns base with overlay applied on top; overlay wins on conflicts.
// Neither input is modified.
func MergeVariables(base, overlay map[string]string) (map[string]string, error) {
	dst := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		dst[k] = v
	}
	if err := mergo.Merge(&dst, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge variables: %w", err)
	}
	return dst, nil
}

// resetAdmin replaces the default admin when both credentials are supplied
func (p *Provisioner) resetAdmin(ctx context.Context, vars platform.Variables) (string, error) {
	username := vars[AdminUsernameVariable]
	password := vars[AdminPasswordVariable]
	if username == "" || password == "" {
		return "", errSkip("default admin not requested")
	}
	if p.opts.Admin == nil {
		return "", errSkip("no admin store")
	}
	if err := p.opts.Admin.ClearDefaultAdmin(ctx); err != nil {
		return "", fmt.Errorf("clear default admin: %w", err)
	}
	if err := p.opts.Admin.SetDefaultAdmin(ctx, username, password); err != nil {
		return "", fmt.Errorf("set default admin: %w", err)
	}
	return username, nil
}
