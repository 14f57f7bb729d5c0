// Package mcpserver exposes the optimizer as Model Context Protocol tools so
// assistant clients can submit workflows and browse the rule catalogue.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/pitabwire/leanflow/internal/observability"
	"github.com/pitabwire/leanflow/internal/rules"
	"github.com/pitabwire/leanflow/model"
)

// Tool names exposed to MCP clients.
const (
	// ToolOptimize runs the full pipeline on a descriptor or description.
	ToolOptimize = "optimize_workflow"
	// ToolListRules lists the rules of the active registry version.
	ToolListRules = "list_rules"
)

// Runner executes one optimization synchronously.
type Runner interface {
	Run(ctx context.Context, in model.RunInput) (*model.PipelineRun, error)
}

// Server exposes the optimizer as MCP tools over stdio or SSE.
type Server struct {
	mcpServer *server.MCPServer
	runner    Runner
	rules     *rules.Holder
	logger    *zap.Logger
}

// New builds the MCP server and registers its tools.
func New(runner Runner, holder *rules.Holder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"leanflow",
			observability.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		runner: runner,
		rules:  holder,
		logger: logger,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools over stdin and stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// SSEHandler serves the tools over server-sent events below basePath.
func (s *Server) SSEHandler(basePath string) http.Handler {
	return server.NewSSEServer(s.mcpServer, server.WithStaticBasePath(basePath))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(ToolOptimize,
			mcp.WithDescription("Analyse a workflow against lean, agile and operating-model rules and return a prioritised optimization plan"),
			mcp.WithString("workflow",
				mcp.Description("Workflow descriptor as a JSON object, e.g. {\"domain\":\"domestic\",\"approval_levels\":5}"),
			),
			mcp.WithString("description",
				mcp.Description("Free-text workflow description, used when no descriptor is given"),
			),
			mcp.WithNumber("baseline_annual_cost",
				mcp.Description("Annual cost of running the workflow today, enables ROI estimation"),
			),
			mcp.WithNumber("implementation_cost",
				mcp.Description("Budget for implementing the whole plan"),
			),
		),
		s.handleOptimize,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(ToolListRules,
			mcp.WithDescription("List the active rule catalogue"),
			mcp.WithString("framework",
				mcp.Description("Restrict the listing to one framework"),
				mcp.Enum(string(model.FrameworkLean), string(model.FrameworkAgile), string(model.FrameworkOperatingModel)),
			),
		),
		s.handleListRules,
	)
}

func (s *Server) handleOptimize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := runInput(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	run, err := s.runner.Run(ctx, in)
	if err != nil {
		s.logger.Info("optimization failed", zap.String("code", model.ErrorCode(err)), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", model.ErrorCode(err), err)), nil
	}

	body, err := json.Marshal(run.Plan)
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(body)),
			mcp.NewTextContent(run.Report),
		},
	}, nil
}

func (s *Server) handleListRules(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reg := s.rules.Current()
	if reg == nil {
		return mcp.NewToolResultError("no rule registry loaded"), nil
	}

	list := reg.All()
	if fw := model.Framework(request.GetString("framework", "")); fw != "" {
		if !fw.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown framework %q", fw)), nil
		}
		list = reg.RulesFor(fw)
	}

	type entry struct {
		ID        string             `json:"id"`
		Framework model.Framework    `json:"framework"`
		Severity  model.Severity     `json:"severity"`
		Cause     string             `json:"cause,omitempty"`
		Potential model.PercentRange `json:"potential"`
	}
	out := struct {
		Version string  `json:"version"`
		Rules   []entry `json:"rules"`
	}{Version: reg.Version(), Rules: make([]entry, 0, len(list))}
	for _, r := range list {
		out.Rules = append(out.Rules, entry{ID: r.ID, Framework: r.Framework, Severity: r.Severity, Cause: r.Cause, Potential: r.Potential})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// runInput builds a RunInput from tool arguments.
func runInput(args map[string]any) (model.RunInput, error) {
	var in model.RunInput

	if raw, ok := args["workflow"].(string); ok && raw != "" {
		var w model.WorkflowDescriptor
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return in, fmt.Errorf("workflow is not a valid descriptor: %v", err)
		}
		in.Workflow = &w
	}
	if desc, ok := args["description"].(string); ok {
		in.RawDescription = desc
	}
	if in.Workflow == nil && in.RawDescription == "" {
		return in, fmt.Errorf("one of workflow or description is required")
	}

	baseline, hasBaseline := args["baseline_annual_cost"].(float64)
	impl, hasImpl := args["implementation_cost"].(float64)
	if hasBaseline || hasImpl {
		in.Org = &model.OrgContext{}
		if hasBaseline {
			in.Org.BaselineAnnualCost = model.Float(baseline)
		}
		if hasImpl {
			in.Org.ImplementationCost = model.Float(impl)
		}
	}
	return in, nil
}
