package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"channel-automation/api/pkg/config"
	"channel-automation/api/pkg/logging"
	"channel-automation/api/services/workflow"
)

// Globals are flags shared by every subcommand.
type Globals struct {
	Config   string `help:"Path to a YAML config file." type:"path"`
	LogLevel string `help:"Log level." default:"warn" name:"log-level"`
}

type cli struct {
	Globals

	Validate ValidateCmd `cmd:"" help:"Check a workflow file for structural errors."`
	Compile  CompileCmd  `cmd:"" help:"Compile a workflow file and print its execution plan."`
	Fire     FireCmd     `cmd:"" help:"Compile a workflow file and dispatch one trigger to the bridge."`
}

type runEnv struct {
	out    io.Writer
	cfg    config.Config
	logger logging.Logger
}

func (env *runEnv) graphOptions() workflow.GraphOptions {
	return workflow.GraphOptions{AllowChaining: env.cfg.Graph.AllowChaining}
}

// ValidateCmd checks a workflow file without compiling it.
type ValidateCmd struct {
	File string `arg:"" type:"existingfile" help:"Workflow file (YAML or JSON)."`
}

func (c *ValidateCmd) Run(env *runEnv) error {
	wf, err := workflow.LoadWorkflowFile(c.File)
	if err != nil {
		return err
	}
	if err := workflow.ValidateGraph(wf.Nodes, wf.Edges, env.graphOptions()); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "ok: %d nodes, %d edges\n", len(wf.Nodes), len(wf.Edges))
	return nil
}

// CompileCmd prints the execution plan of a workflow file.
type CompileCmd struct {
	File       string `arg:"" type:"existingfile" help:"Workflow file (YAML or JSON)."`
	References string `help:"Templates and overlays file; overrides references embedded in the workflow file." type:"path"`
}

func (c *CompileCmd) Run(env *runEnv) error {
	_, plan, err := compileFile(c.File, c.References, env.graphOptions())
	if err != nil {
		return err
	}
	return printJSON(env.out, plan)
}

// FireCmd compiles a workflow file and sends one trigger's actions to the bridge.
type FireCmd struct {
	File       string            `arg:"" type:"existingfile" help:"Workflow file (YAML or JSON)."`
	References string            `help:"Templates and overlays file." type:"path"`
	Category   string            `required:"" help:"Trigger category of the event."`
	EventID    string            `name:"event-id" help:"Event id the trigger is bound to."`
	Streamer   string            `help:"Streamer the event belongs to; defaults to the workflow's streamer."`
	Data       map[string]string `help:"Event data as key=value pairs."`
	BridgeURL  string            `name:"bridge-url" help:"Bridge base URL; overrides config."`
	Token      string            `help:"Bridge bearer token; overrides config."`
	Timeout    time.Duration     `help:"Per-call timeout; overrides config."`
}

func (c *FireCmd) Run(env *runEnv) error {
	wf, plan, err := compileFile(c.File, c.References, env.graphOptions())
	if err != nil {
		return err
	}

	bridgeCfg := env.cfg.Bridge
	if c.BridgeURL != "" {
		bridgeCfg.URL = c.BridgeURL
	}
	if c.Token != "" {
		bridgeCfg.Token = c.Token
	}
	if c.Timeout > 0 {
		bridgeCfg.Timeout = c.Timeout
	}
	streamer := c.Streamer
	if streamer == "" {
		streamer = wf.StreamerID
	}
	eventData := make(map[string]any, len(c.Data))
	for k, v := range c.Data {
		eventData[k] = v
	}

	dispatcher := workflow.NewDispatcher(
		workflow.NewHTTPBridge(bridgeCfg.URL, bridgeCfg.Token, bridgeCfg.Timeout),
		workflow.WithCallTimeout(bridgeCfg.Timeout),
		workflow.WithDispatchLogger(env.logger),
	)
	key := workflow.TriggerKey{Category: workflow.Category(c.Category), EventID: c.EventID}
	outcome, dispatchErr := dispatcher.Dispatch(context.Background(), plan, key, streamer, eventData)
	if outcome != nil {
		outcome.WorkflowID = wf.ID
		if err := printJSON(env.out, outcome); err != nil {
			return err
		}
	}
	return dispatchErr
}

func compileFile(path, referencesPath string, opts workflow.GraphOptions) (*workflow.WorkflowFile, *workflow.ExecutionPlan, error) {
	wf, err := workflow.LoadWorkflowFile(path)
	if err != nil {
		return nil, nil, err
	}
	refs := wf.References
	if referencesPath != "" {
		if refs, err = workflow.LoadResolverFile(referencesPath); err != nil {
			return nil, nil, err
		}
	}

	tr := workflow.Apply(workflow.NewEditorState(opts), workflow.Reset{Nodes: wf.Nodes, Edges: wf.Edges})
	if tr.Diagnostic != nil {
		return nil, nil, *tr.Diagnostic
	}
	plan, err := workflow.Compile(tr.State, refs)
	if err != nil {
		return nil, nil, err
	}
	return wf, plan, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run(args []string, out io.Writer) error {
	var c cli
	parser, err := kong.New(&c,
		kong.Name("workflowctl"),
		kong.Description("Validate, compile and fire channel automation workflows."),
		kong.UsageOnError(),
		kong.Writers(out, os.Stderr),
	)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	env := &runEnv{
		out:    out,
		cfg:    cfg,
		logger: logging.New(c.LogLevel, "console", os.Stderr),
	}
	return ctx.Run(env)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "workflowctl:", err)
		os.Exit(1)
	}
}
