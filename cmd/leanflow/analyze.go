package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/config"
	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/reasoning"
	"github.com/pitabwire/leanflow/model"
)

type analyzeOptions struct {
	format             string
	store              string
	raw                bool
	baselineCost       float64
	implementationCost float64
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Run one optimization and print the report",
		Long: `Reads a request from a file, or stdin when the argument is "-", runs it
through the pipeline and prints the report. The request is a JSON object with
"workflow", "raw_description" and "org_context" fields; with --raw the input
is taken as a free-text description.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", reasoning.FormatMarkdown, "report format: json, markdown or narrative")
	cmd.Flags().StringVar(&opts.store, "store", config.DriverMemory, "run store driver: memory, postgres, redis or sqlite")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "treat the input as a free-text workflow description")
	cmd.Flags().Float64Var(&opts.baselineCost, "baseline-cost", 0, "annual cost of the workflow today")
	cmd.Flags().Float64Var(&opts.implementationCost, "implementation-cost", 0, "budget for implementing the plan")
	return cmd
}

func runAnalyze(ctx context.Context, stdout io.Writer, stdin io.Reader, path string, opts analyzeOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Store.Driver = opts.store
	cfg.Observability.LogOutput = "stderr"

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	in, err := readRunInput(stdin, path, opts)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger, opts.format, nil)
	if err != nil {
		return err
	}
	defer a.close()

	run, err := a.optimizer.Run(ctx, in)
	if err != nil {
		if run != nil {
			logger.Error("run failed", zap.String("session_id", run.SessionID), zap.String("code", model.ErrorCode(err)))
		}
		return err
	}
	_, err = io.WriteString(stdout, run.Report+"\n")
	return err
}

// readRunInput reads the request from path, where "-" is stdin. Cost flags
// override the org context of the request.
func readRunInput(stdin io.Reader, path string, opts analyzeOptions) (model.RunInput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.RunInput{}, model.NewBadRequestError(fmt.Sprintf("reading %s: %v", path, err))
	}

	var in model.RunInput
	if opts.raw {
		in.RawDescription = string(bytes.TrimSpace(data))
	} else {
		if err := json.Unmarshal(data, &in); err != nil {
			return in, model.NewBadRequestError(fmt.Sprintf("%s is not a valid request: %v", path, err))
		}
	}

	if opts.baselineCost > 0 || opts.implementationCost > 0 {
		if in.Org == nil {
			in.Org = &model.OrgContext{}
		}
		if opts.baselineCost > 0 {
			in.Org.BaselineAnnualCost = model.Float(opts.baselineCost)
		}
		if opts.implementationCost > 0 {
			in.Org.ImplementationCost = model.Float(opts.implementationCost)
		}
	}
	return in, nil
}
