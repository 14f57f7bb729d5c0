// Package main is the entry point for the leanflow optimizer. It wires the
// rule registry, run store and reasoning providers into the pipeline and
// exposes it over HTTP, MCP or a one-shot CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

// Process exit codes.
const (
	exitOK              = 0
	exitFailure         = 1
	exitInputValidation = 2
	exitRegistryLoad    = 3
	exitQualityGate     = 4
	exitUpstream        = 5
	exitPersistence     = 6
)

var configPath string

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	observability.Version = version
	observability.Commit = commit

	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitCode(err)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "leanflow",
		Short:         "Analyse workflows and synthesize optimization plans",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (defaults plus LEANFLOW_* environment when empty)")

	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newRulesCmd(), newMCPCmd())
	return root
}

// exitCode maps an error's taxonomy code to the process exit status.
func exitCode(err error) int {
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		return exitFailure
	}
	switch env.Code {
	case model.ErrInputValidation, model.ErrBadRequest:
		return exitInputValidation
	case model.ErrRegistryLoad:
		return exitRegistryLoad
	case model.ErrQualityGateFailure:
		return exitQualityGate
	case model.ErrUpstreamTimeout, model.ErrUpstreamSchema, model.ErrUpstreamUnavailable:
		return exitUpstream
	case model.ErrPersistence:
		return exitPersistence
	default:
		return exitFailure
	}
}
