package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"platformenv/provisioner"
)

const masked = "********"

func NewProvisionCommand(ctx context.Context, common *CommonOptions) *cobra.Command {
	opts := &ProvisionOptions{CommonOptions: common}
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "runs the provisioning steps against a copy of the environment and prints the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return opts.Run(ctx, cmd.OutOrStdout())
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// ProvisionOptions defines the options of the provision command
type ProvisionOptions struct {
	*CommonOptions
	// Output is one of text, json or yaml
	Output string
	// Reveal prints variable values instead of masking them
	Reveal bool
}

// AddFlags adds flags for the options to a flagset
func (o *ProvisionOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", "text", "output format: text, json or yaml")
	fs.BoolVar(&o.Reveal, "reveal", false, "print merged variable values")
}

func (o *ProvisionOptions) Validate() error {
	switch o.Output {
	case "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q", o.Output)
}

func (o *ProvisionOptions) Run(ctx context.Context, out io.Writer) error {
	run, err := o.DryRun()
	if err != nil {
		return err
	}
	defer run.Close()

	report := run.Provision(ctx)

	result := provisionResult{
		Hosting:   report.Hosting.String(),
		Phase:     run.Phase(),
		Tier:      string(run.Kernel.Tier()),
		Variables: make(map[string]string, len(report.Merged)),
	}
	for _, s := range report.Steps {
		step := stepResult{Step: s.Step, Outcome: s.Outcome.String(), Detail: s.Detail}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		result.Steps = append(result.Steps, step)
	}
	for _, name := range report.Merged {
		value := masked
		if o.Reveal {
			value = run.Env.Getenv(name)
		}
		result.Variables[name] = value
	}

	if err := writeResult(out, o.Output, result); err != nil {
		return err
	}
	return report.Err()
}

type provisionResult struct {
	Hosting   string            `json:"hosting" yaml:"hosting"`
	Phase     string            `json:"phase" yaml:"phase"`
	Tier      string            `json:"tier" yaml:"tier"`
	Steps     []stepResult      `json:"steps" yaml:"steps"`
	Variables map[string]string `json:"variables" yaml:"variables"`
}

type stepResult struct {
	Step    string `json:"step" yaml:"step"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func writeResult(out io.Writer, format string, result provisionResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(out, "hosting: %s\nphase:   %s\ntier:    %s\n\n", result.Hosting, result.Phase, result.Tier)
	if result.Hosting != provisioner.HostingEnabled.String() {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tOUTCOME\tDETAIL")
	for _, s := range result.Steps {
		detail := s.Detail
		if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Step, s.Outcome, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	names := make([]string, 0, len(result.Variables))
	for name := range result.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out)
	for _, name := range names {
		fmt.Fprintf(out, "%s=%s\n", name, result.Variables[name])
	}
	return nil
}
