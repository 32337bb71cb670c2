// Package provisioner copies hosting-platform configuration into the running
// application at boot: database and cache credentials, the deployment tier,
// allow-listed variables, and optionally a default admin credential.
//
// Provisioning is best effort. Initialize never fails; every step reports an
// outcome instead, and the caller decides what to log.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"platformenv/cache"
	"platformenv/crypto"
	"platformenv/database"
	"platformenv/environment"
	"platformenv/metrics"
	"platformenv/platform"
	"platformenv/services"
	"platformenv/utils"
)

// Variable names with a meaning of their own inside the platform variables
const (
	EnvironmentTypeVariable = "SS_ENVIRONMENT_TYPE"
	AdminUsernameVariable   = "SS_DEFAULT_ADMIN_USERNAME"
	AdminPasswordVariable   = "SS_DEFAULT_ADMIN_PASSWORD"
)

// DefaultDatabaseRelationship is the relationship name read when none is configured
const DefaultDatabaseRelationship = "database"

// Provider is the source of platform configuration
type Provider interface {
	IsValidPlatform() bool
	Credentials(relationship string) (platform.Credential, error)
	Variables() (platform.Variables, error)
	Variable(name string) string
}

// EnvironmentStore is the process-visible environment
type EnvironmentStore interface {
	Variables() environment.Snapshot
	SetVariables(snap environment.Snapshot) error
	Getenv(name string) string
}

// DatabaseConfigStore receives the database connection record
type DatabaseConfigStore interface {
	SetConfig(cfg database.Config) error
}

// CacheConfigStore receives the cache connection record
type CacheConfigStore interface {
	SetConfig(cfg cache.Config) error
}

// AdminStore holds the default administrative credential
type AdminStore interface {
	ClearDefaultAdmin(ctx context.Context) error
	SetDefaultAdmin(ctx context.Context, username, password string) error
}

// Kernel receives the deployment tier
type Kernel interface {
	SetTier(t environment.Tier)
}

// Options wires a Provisioner to its collaborators. Database and Environment
// are required; the rest are optional and their steps are skipped when nil.
type Options struct {
	// NewProvider is called once, on the first Initialize
	NewProvider func() (Provider, error)

	Environment EnvironmentStore
	Database    DatabaseConfigStore
	Cache       CacheConfigStore
	Admin       AdminStore
	Kernel      Kernel

	AllowedVariables services.Allowlist

	DatabaseRelationship string
	// CacheRelationship enables the cache step when non-empty
	CacheRelationship string

	Logger *log.Entry
}

// HostingContext records whether the process runs on the platform
type HostingContext int

const (
	HostingUnknown HostingContext = iota
	HostingEnabled
	HostingDisabled
)

func (h HostingContext) String() string {
	switch h {
	case HostingEnabled:
		return "enabled"
	case HostingDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// VariableCheck compares one variable between the environment and the platform
type VariableCheck struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
	Platform    string `json:"platform"`
	Equal       bool   `json:"equal"`
}

// Provisioner owns the hosting context and the provider handle for one process
type Provisioner struct {
	opts     Options
	logger   *log.Entry
	hosting  HostingContext
	provider Provider
}

// New builds a Provisioner. Nothing is read until Initialize is called.
func New(opts Options) *Provisioner {
	if opts.NewProvider == nil {
		opts.NewProvider = func() (Provider, error) {
			return platform.NewReader(), nil
		}
	}
	if opts.DatabaseRelationship == "" {
		opts.DatabaseRelationship = DefaultDatabaseRelationship
	}
	if opts.AllowedVariables == nil {
		opts.AllowedVariables = services.NewAllowlist()
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.Logger("provisioner")
	}
	return &Provisioner{opts: opts, logger: logger}
}

// Hosting returns the cached hosting context
func (p *Provisioner) Hosting() HostingContext {
	return p.hosting
}

// detect resolves the hosting context once; later calls reuse the result
func (p *Provisioner) detect() {
	if p.hosting != HostingUnknown {
		return
	}
	p.hosting = HostingDisabled

	provider, err := p.opts.NewProvider()
	if err != nil {
		p.logger.WithError(err).Warn("platform config provider unavailable")
		return
	}
	if provider == nil {
		return
	}
	p.provider = provider

	valid, err := safeBool(provider.IsValidPlatform)
	if err != nil {
		p.logger.WithError(err).Warn("platform validity check failed")
		return
	}
	if valid {
		p.hosting = HostingEnabled
	}
}

// Initialize runs the provisioning steps against the platform configuration.
// When the process is not on the platform it returns without touching any
// collaborator. Failures are recorded in the report, never returned.
func (p *Provisioner) Initialize(ctx context.Context) *Report {
	start := time.Now()
	p.detect()

	report := &Report{Hosting: p.hosting, StartedAt: start}
	if p.hosting != HostingEnabled {
		p.logger.Debug("not running on the hosting platform, provisioning skipped")
		report.Duration = time.Since(start)
		metrics.RecordProvisionRun(false, report.Duration)
		return report
	}
	report.Enabled = true

	report.add(p.run(StepDatabase, p.provisionDatabase))
	if p.opts.CacheRelationship != "" {
		report.add(p.run(StepCache, p.provisionCache))
	}

	vars, fetched := p.fetchVariables(report)
	if !fetched {
		for _, step := range []string{StepTier, StepMerge, StepAdmin} {
			report.add(skipped(step, "no platform variables"))
		}
	} else {
		report.add(p.run(StepTier, func() (string, error) {
			tier, detail, err := p.applyTier(vars)
			if err == nil {
				report.Tier = tier
			}
			return detail, err
		}))
		report.add(p.run(StepMerge, func() (string, error) {
			merged, detail, err := p.mergeVariables(vars)
			report.Merged = merged
			return detail, err
		}))
		report.add(p.run(StepAdmin, func() (string, error) {
			return p.resetAdmin(ctx, vars)
		}))
	}

	report.Duration = time.Since(start)
	metrics.RecordProvisionRun(true, report.Duration)
	for _, s := range report.Steps {
		metrics.RecordProvisionStep(s.Step, s.Outcome.String())
	}
	metrics.SetVariablesMerged(len(report.Merged))

	p.logReport(report)
	return report
}

func (p *Provisioner) fetchVariables(report *Report) (platform.Variables, bool) {
	var vars platform.Variables
	result := p.run(StepVariables, func() (string, error) {
		v, err := p.provider.Variables()
		if err != nil {
			return "", fmt.Errorf("read platform variables: %w", err)
		}
		if len(v) == 0 {
			return "", errSkip("no platform variables defined")
		}
		vars = v
		return fmt.Sprintf("%d variables", len(v)), nil
	})
	report.add(result)
	return vars, result.Outcome == OutcomeApplied
}

// TestVariable reports a variable as seen by the environment and by the
// platform. The second result is false when hosting is not enabled.
func (p *Provisioner) TestVariable(name string) (VariableCheck, bool) {
	if p.hosting != HostingEnabled || p.provider == nil {
		return VariableCheck{}, false
	}
	envValue := ""
	if p.opts.Environment != nil {
		envValue = p.opts.Environment.Getenv(name)
	}
	platformValue := p.provider.Variable(name)
	return VariableCheck{
		Name:        name,
		Environment: envValue,
		Platform:    platformValue,
		Equal:       crypto.EqualStrings(envValue, platformValue),
	}, true
}

// run executes one step and converts its result, including panics, into a StepResult
func (p *Provisioner) run(step string, fn func() (string, error)) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = StepResult{Step: step, Outcome: OutcomeFailed, Err: fmt.Errorf("%s: panic: %v", step, r)}
		}
	}()

	detail, err := fn()
	var skip skipError
	switch {
	case err == nil:
		return StepResult{Step: step, Outcome: OutcomeApplied, Detail: detail}
	case errors.As(err, &skip):
		return StepResult{Step: step, Outcome: OutcomeSkipped, Detail: skip.reason}
	default:
		return StepResult{Step: step, Outcome: OutcomeFailed, Detail: detail, Err: fmt.Errorf("%s: %w", step, err)}
	}
}

func (p *Provisioner) logReport(report *Report) {
	for _, s := range report.Steps {
		entry := p.logger.WithFields(log.Fields{"step": s.Step, "outcome": s.Outcome.String()})
		if s.Detail != "" {
			entry = entry.WithField("detail", s.Detail)
		}
		if s.Err != nil {
			entry.WithError(s.Err).Warn("provisioning step failed")
			continue
		}
		entry.Debug("provisioning step finished")
	}
	p.logger.WithFields(log.Fields{
		"tier":     string(report.Tier),
		"merged":   len(report.Merged),
		"failures": len(report.Failed()),
		"duration": report.Duration.String(),
	}).Info("platform provisioning finished")
}

func safeBool(fn func() bool) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(), nil
}
