// Command bridge runs the workflow-bridge core standalone: it wires a
// session registry, token service, and model adapter against a real
// Service instance and drives turns from stdin, printing the resulting
// Host-facing stream events to stdout. Embedding the core behind an
// actual Host's native tool-calling surface is left to that Host's own
// process; this binary exists to exercise the core end to end.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/duo-workflow-bridge/bridge/internal/httpclient"
	"github.com/duo-workflow-bridge/bridge/internal/statefile"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgeconfig"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgelog"
	"github.com/duo-workflow-bridge/bridge/pkg/bridgemetrics"
	"github.com/duo-workflow-bridge/bridge/pkg/modeladapter"
	"github.com/duo-workflow-bridge/bridge/pkg/promptextract"
	"github.com/duo-workflow-bridge/bridge/pkg/sessionregistry"
	"github.com/duo-workflow-bridge/bridge/pkg/token"
	"github.com/duo-workflow-bridge/bridge/pkg/workflowsession"
	"github.com/duo-workflow-bridge/bridge/pkg/wsocket"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Connect to a Service instance and drive turns from stdin."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"bridge.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("duo-workflow-bridge %s\n", version)
	return nil
}

// ServeCmd wires the core's dependencies and runs an interactive loop.
type ServeCmd struct {
	ModelID       string `help:"Model identifier used to key the session registry." default:"bridge-default"`
	HostSessionID string `help:"Host conversation ID for this run." default:""`
	NoMetrics     bool   `name:"no-metrics" help:"Disable the Prometheus /metrics server."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	_ = bridgeconfig.LoadDotEnv()

	cfg, err := bridgeconfig.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := initLogger(cli.LogLevel, cfg); err != nil {
		return err
	}

	client := httpclient.New()

	credentials := token.CredentialProvider(func(ctx context.Context) (string, error) {
		if v := os.Getenv("DUO_WORKFLOW_BRIDGE_CREDENTIAL"); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("DUO_WORKFLOW_BRIDGE_CREDENTIAL is not set")
	})
	tokens := token.New(cfg.Service.WorkflowDefinition, token.NewHTTPFetch(client, cfg.Service.InstanceURL, credentials))

	store := statefile.New(cfg.StateDir + "/workflows.json")

	var metrics *bridgemetrics.Metrics
	if !c.NoMetrics && cfg.Metrics.Enabled {
		metrics, err = bridgemetrics.New()
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				bridgelog.Error(ctx, "metrics server exited", "error", err)
			}
		}()
	}

	mcpTools := make([]workflowsession.MCPTool, 0, len(cfg.Host.MCPTools))
	for _, name := range cfg.Host.MCPTools {
		mcpTools = append(mcpTools, workflowsession.MCPTool{Name: name})
	}
	sessionCfg := workflowsession.Config{
		SocketURL:          cfg.Service.SocketURLOrDefault(),
		WorkflowDefinition: cfg.Service.WorkflowDefinition,
		Environment:        cfg.Service.Environment,
		ClientVersion:      cfg.Host.ClientVersion,
		RootNamespaceID:    cfg.Service.RootNamespaceID,
		MCPTools:           mcpTools,
	}

	workflowCreator := workflowsession.NewRESTWorkflowCreator(client, cfg.Service.InstanceURL, tokens)
	httpPassthrough := workflowsession.NewRESTHTTPPassthrough(client, cfg.Service.InstanceURL, tokens)

	socketFactory := func(url string, header http.Header) workflowsession.Socket {
		return wsocket.New(url, wsocket.WithHeader(header))
	}

	registry := sessionregistry.New(func(key workflowsession.Key) *workflowsession.Session {
		sess := workflowsession.New(key, sessionCfg, socketFactory, workflowCreator, tokens, store)
		sess.SetHTTPPassthrough(httpPassthrough)
		if metrics != nil {
			metrics.IncSessionsCreated(context.Background())
		}
		return sess
	})

	adapter := modeladapter.New(registry)

	hostSessionID := c.HostSessionID
	if hostSessionID == "" {
		hostSessionID = uuid.NewString()
	}
	sessionKey := workflowsession.Key{
		InstanceURL:   cfg.Service.InstanceURL,
		ModelID:       c.ModelID,
		HostSessionID: hostSessionID,
	}

	bridgelog.Info(ctx, "bridge ready", "instance_url", cfg.Service.InstanceURL, "host_session_id", hostSessionID)
	fmt.Fprintf(os.Stderr, "duo-workflow-bridge ready (session %s). Type a goal and press enter.\n", hostSessionID)

	return runREPL(ctx, adapter, sessionKey, metrics, registry)
}

// runREPL reads one goal per line from stdin, drives it through the
// adapter, and prints each resulting Host-facing event as a JSON line.
func runREPL(ctx context.Context, adapter *modeladapter.Adapter, key workflowsession.Key, metrics *bridgemetrics.Metrics, registry *sessionregistry.Registry) error {
	scanner := bufio.NewScanner(os.Stdin)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		turnCtx, cancelTurn := context.WithCancel(ctx)
		abort := make(chan struct{})
		go func() {
			<-turnCtx.Done()
			close(abort)
		}()

		events, err := adapter.Stream(turnCtx, modeladapter.StreamOptions{
			SessionKey: key,
			Messages: []promptextract.Message{
				{Role: promptextract.RoleUser, TextParts: []promptextract.TextPart{{Text: line}}},
			},
			Abort: abort,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
			cancelTurn()
			continue
		}

		for ev := range events {
			_ = enc.Encode(ev)
		}
		cancelTurn()

		if metrics != nil {
			metrics.SetActiveSessions(ctx, registry.Count())
		}
	}
	return scanner.Err()
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bridge"),
		kong.Description("Workflow-bridge core: translates between a Host's turn-based chat and a remote workflow Service."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
