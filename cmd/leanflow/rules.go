package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule documents",
	}
	cmd.AddCommand(newRulesValidateCmd(), newRulesListCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate a rule directory, or the configured one when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rulesDir(args)
			if err != nil {
				return err
			}
			return validateRules(cmd.OutOrStdout(), dir)
		},
	}
}

func newRulesListCmd() *cobra.Command {
	var framework string
	cmd := &cobra.Command{
		Use:   "list [dir]",
		Short: "List the rules of a directory, or the configured one when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := rulesDir(args)
			if err != nil {
				return err
			}
			return listRules(cmd.OutOrStdout(), dir, model.Framework(framework))
		},
	}
	cmd.Flags().StringVar(&framework, "framework", "", "only list rules of this framework")
	return cmd
}

func rulesDir(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.Rules.Directory, nil
}

// validateRules prints every validation problem and returns a
// REGISTRY_LOAD error when there is at least one.
func validateRules(out io.Writer, dir string) error {
	reg, err := rules.Load(dir)
	if err != nil {
		var env *model.ErrorEnvelope
		if errors.As(err, &env) {
			for _, d := range env.Details {
				fmt.Fprintf(out, "%s: %s (%s)\n", d.Field, d.Message, d.Code)
			}
		}
		return err
	}
	source := dir
	if source == "" {
		source = "built-in catalogue"
	}
	fmt.Fprintf(out, "%s: %d rules, version %s, checksum %s\n", source, reg.Len(), reg.Version(), reg.Checksum())
	return nil
}

func listRules(out io.Writer, dir string, fw model.Framework) error {
	reg, err := rules.Load(dir)
	if err != nil {
		return err
	}
	list := reg.All()
	if fw != "" {
		if !fw.Valid() {
			return model.NewBadRequestError(fmt.Sprintf("unknown framework %q", fw))
		}
		list = reg.RulesFor(fw)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFRAMEWORK\tSEVERITY\tCAUSE\tPOTENTIAL")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f-%.0f%%\n", r.ID, r.Framework, r.Severity, r.Cause, r.Potential.Low, r.Potential.High)
	}
	return tw.Flush()
}
