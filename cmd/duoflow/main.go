// Command duoflow runs one workflow goal end to end against a GitLab
// instance and prints the host-facing stream as it arrives. It is the demo
// surface for the bridge: agent text goes to stdout, tool calls and lifecycle
// events are logged.
//
// Configuration comes from a YAML file and DUOFLOW_* environment variables;
// a .env file in the working directory is honored.
//
//	duoflow -config duoflow.yaml "fix the failing pipeline"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"goa.design/clue/log"

	bridge "github.com/duoflow/bridge"
	"github.com/duoflow/bridge/adapter"
	"github.com/duoflow/bridge/config"
	"github.com/duoflow/bridge/prompt"
	"github.com/duoflow/bridge/stream"
)

func main() {
	var (
		configF  = flag.String("config", "", "Path to YAML configuration (DUOFLOW_* variables apply on top)")
		envF     = flag.String("env", "", "Path to a .env file loaded before the configuration")
		sessionF = flag.String("session", "", "Host session ID to resume (default: a fresh ID)")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	goal := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if goal == "" {
		fmt.Fprintln(os.Stderr, "usage: duoflow [flags] <goal>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *envF != "" {
		if err := godotenv.Load(*envF); err != nil {
			log.Fatalf(ctx, err, "load env file %s", *envF)
		}
	} else {
		// Best-effort: a missing .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	a, cleanup, err := bridge.New(cfg, bridge.WithCWD(cwd))
	if err != nil {
		log.Fatalf(ctx, err, "assemble bridge")
	}
	defer cleanup(ctx)

	sessionID := *sessionF
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log.Print(ctx, log.KV{K: "msg", V: "starting turn"},
		log.KV{K: "session", V: sessionID},
		log.KV{K: "workflow_definition", V: cfg.WorkflowDefinition},
		log.KV{K: "instance", V: cfg.InstanceURL})

	// SIGINT aborts the turn; the stream still ends with a finish event.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	turn := &adapter.TurnRequest{
		Messages: []prompt.Message{{Role: prompt.RoleUser, Content: goal}},
		ProviderOptions: map[string]map[string]any{
			cfg.ProviderID: {"workflowSessionID": sessionID},
		},
	}
	ts, err := a.StreamTurn(ctx, turn)
	if err != nil {
		log.Fatalf(ctx, err, "start turn")
	}
	defer ts.Close()

	for {
		ev, err := ts.Recv()
		if err != nil {
			break
		}
		render(ctx, ev)
	}
	log.Print(ctx, log.KV{K: "msg", V: "turn complete"}, log.KV{K: "session", V: sessionID})
}

// render prints one stream event: agent text flows to stdout, everything
// else becomes a log line.
func render(ctx context.Context, ev stream.Event) {
	switch e := ev.(type) {
	case *stream.TextDelta:
		fmt.Print(e.Data.Delta)
	case *stream.TextEnd:
		fmt.Println()
	case *stream.ToolCall:
		input, _ := json.Marshal(e.Data.Input)
		log.Print(ctx, log.KV{K: "tool_call", V: e.Data.ToolName},
			log.KV{K: "id", V: e.Data.ToolCallID},
			log.KV{K: "input", V: string(input)})
	case *stream.Error:
		log.Print(ctx, log.KV{K: "stream_error", V: e.Data.Error})
	case *stream.Finish:
		log.Print(ctx, log.KV{K: "finish", V: string(e.Data.FinishReason)})
	}
}
