package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ErrVariableMismatch is returned by check when the values differ
var ErrVariableMismatch = errors.New("environment value differs from the platform value")

func NewCheckCommand(ctx context.Context, common *CommonOptions) *cobra.Command {
	opts := &CheckOptions{CommonOptions: common}
	cmd := &cobra.Command{
		Use:   "check NAME",
		Short: "compares a variable in the provisioned environment with the platform value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			return opts.Run(ctx, cmd.OutOrStdout())
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// CheckOptions defines the options of the check command
type CheckOptions struct {
	*CommonOptions
	Name   string
	Reveal bool
}

// AddFlags adds flags for the options to a flagset
func (o *CheckOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Reveal, "reveal", false, "print both values")
}

func (o *CheckOptions) Run(ctx context.Context, out io.Writer) error {
	run, err := o.DryRun()
	if err != nil {
		return err
	}
	defer run.Close()

	run.Provision(ctx)
	check, ok := run.Provisioner.TestVariable(o.Name)
	if !ok {
		return fmt.Errorf("not running on the platform, %s cannot be compared", o.Name)
	}

	if o.Reveal {
		fmt.Fprintf(out, "environment: %q\nplatform:    %q\n", check.Environment, check.Platform)
	}
	if !check.Equal {
		fmt.Fprintf(out, "%s: differs\n", check.Name)
		return ErrVariableMismatch
	}
	fmt.Fprintf(out, "%s: equal\n", check.Name)
	return nil
}
