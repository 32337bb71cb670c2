package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"platformenv/bootstrap"
	"platformenv/config"
	"platformenv/environment"
	"platformenv/platform"
	"platformenv/provisioner"
	"platformenv/utils"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// NewRootCommand builds the CLI. environ is the environment the commands
// read from; it is never written back to the process.
func NewRootCommand(ctx context.Context, environ []string) *cobra.Command {
	opts := &CommonOptions{environ: environ}
	cmd := &cobra.Command{
		Use:   "platformenv",
		Short: "inspects and applies the platform environment",
		Long: "platformenv reads the relationships and variables the platform exposes and shows how the\n" +
			"application environment would be provisioned from them. Nothing is written to the process.",
		SilenceUsage: true,
	}
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		NewProvisionCommand(ctx, opts),
		NewCheckCommand(ctx, opts),
		NewVersionCommand(),
	)
	return cmd
}

// CommonOptions describes the options shared by all commands
type CommonOptions struct {
	// ConfigFile is an optional YAML configuration file
	ConfigFile string
	// Allow adds names to the variable allow-list
	Allow []string
	// LogLevel overrides the configured log level
	LogLevel string

	environ []string
}

// AddFlags adds flags for the options to a flagset
func (o *CommonOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "path to a YAML configuration file")
	fs.StringSliceVar(&o.Allow, "allow", nil, "variable names to merge in addition to the configured allow-list")
	fs.StringVar(&o.LogLevel, "log-level", "warn", "log level")
}

// Config resolves the configuration for a dry run. Overrides are read from
// the command's environment the same way the service reads its own.
func (o *CommonOptions) Config() (*config.Config, error) {
	getenv := environment.NewMemoryStoreFromEnviron(o.environ).Getenv

	var cfg *config.Config
	if o.ConfigFile != "" {
		fileCfg, err := config.LoadFile(o.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read config %q: %w", o.ConfigFile, err)
		}
		cfg = fileCfg
		cfg.ApplyOverridesFrom(getenv)
	} else {
		cfg = config.LoadFrom(getenv)
	}
	cfg.AllowedVariables = append(cfg.AllowedVariables, o.Allow...)
	cfg.ApplyDefaults()
	// dry runs never touch real backends
	cfg.Database.Connect = false
	return cfg, nil
}

// DryRun is a provisioning runtime over an in-memory copy of the environment
type DryRun struct {
	*bootstrap.Runtime
	Env    *environment.MemoryStore
	Reader *platform.Reader
}

// Phase names where the platform reader thinks it runs
func (d *DryRun) Phase() string {
	switch {
	case d.Reader.InRuntime():
		return "runtime"
	case d.Reader.InBuild():
		return "build"
	default:
		return "none"
	}
}

// DryRun builds the runtime the commands provision against
func (o *CommonOptions) DryRun() (*DryRun, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	utils.InitLogging(o.LogLevel, cfg.Logging.Format)
	// stdout carries command output
	log.SetOutput(os.Stderr)

	readerOpts := []platform.ReaderOption{platform.WithEnviron(o.environ)}
	if cfg.PlatformPrefix != "" {
		readerOpts = append(readerOpts, platform.WithPrefix(cfg.PlatformPrefix))
	}
	reader := platform.NewReader(readerOpts...)

	env := environment.NewMemoryStoreFromEnviron(o.environ)
	rt := bootstrap.New(cfg, env, bootstrap.WithProvider(func() (provisioner.Provider, error) {
		return reader, nil
	}))
	return &DryRun{Runtime: rt, Env: env, Reader: reader}, nil
}
