package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentnet/kernel/common/crypto"
	"github.com/agentnet/kernel/internal/agentnet/actor"
	"github.com/agentnet/kernel/internal/agentnet/config"
	"github.com/agentnet/kernel/internal/agentnet/environments"
	"github.com/agentnet/kernel/internal/agentnet/gateway"
	"github.com/agentnet/kernel/internal/agentnet/identity"
	"github.com/agentnet/kernel/internal/agentnet/lexicon"
	"github.com/agentnet/kernel/internal/agentnet/memory"
	"github.com/agentnet/kernel/internal/agentnet/relay"
	"github.com/agentnet/kernel/internal/agentnet/runtime"
	"github.com/agentnet/kernel/internal/agentnet/scheduler"
	"github.com/agentnet/kernel/internal/agentnet/store"
	"github.com/agentnet/kernel/internal/agentnet/store/postgres"
	"github.com/agentnet/kernel/internal/agentnet/telemetry"
	"github.com/agentnet/kernel/internal/agentnet/tools"
	"github.com/agentnet/kernel/internal/gitai/llm"
)

// internalLoopPrompt is what the scheduler feeds an agent on every scheduled
// tick, standing in for a user's prompt text (§4.6: "prompt with the
// internal system message and tools").
const internalLoopPrompt = "This is your scheduled think-loop tick. Review your goals and memory, and take any action that moves them forward."

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and actor pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", getEnv("AGENTNET_ADDR", ":8080"), "listen address")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	logger := slog.Default()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("agentnetd: open store: %w", err)
	}
	defer st.Close()

	masterKey, err := crypto.LoadMasterKey()
	if err != nil {
		return fmt.Errorf("agentnetd: load master key: %w (generate one with: openssl rand -hex 32)", err)
	}

	tp, err := telemetry.NewTracerProvider(ctx)
	if err != nil {
		return fmt.Errorf("agentnetd: tracer provider: %w", err)
	}
	defer tp.Shutdown(ctx)

	idSvc := identity.New(st, masterKey)
	memSvc := memory.New(st, idSvc)
	cfgSvc := config.New(st)
	lex, err := lexicon.New()
	if err != nil {
		return fmt.Errorf("agentnetd: lexicon: %w", err)
	}

	provider := newLLMProvider()
	factory := runtime.New(provider, nil)

	// gm is left unwired: it is gated to an opaque "environment"
	// collaborator this kernel never implements (§1 Non-goals). An
	// operator running a game-master environment wires its own
	// tools.GMHandler here.
	var gmHandler tools.GMHandler

	names := newNameCache(st)

	var r *relay.Relay
	var sched *scheduler.Scheduler

	spawn := func(did, name string) *actor.Actor {
		names.remember(did, name)
		toolsFor := func(enabledTools []string) *tools.Host {
			return tools.NewHost(tools.HostParams{
				DID: did, AgentName: name, EnabledTools: enabledTools,
				Memory: memSvc, Config: cfgSvc, Lexicon: lex, GM: gmHandler,
			})
		}
		return actor.New(actor.Params{
			DID: did, Name: name,
			Store: st, Identity: idSvc, Memory: memSvc, Config: cfgSvc,
			Scheduler: sched, ToolsFor: toolsFor, Factory: factory,
			Logger: logger,
		})
	}

	tick := func(ctx context.Context, did string) error {
		name, err := names.lookup(ctx, did)
		if err != nil {
			return err
		}
		a := r.ActorByDID(did, name)
		_, err = a.Prompt(ctx, actor.PromptRequest{Prompt: internalLoopPrompt})
		return err
	}

	sched = scheduler.New(st, tick, nil)
	r = relay.New(st, nil, spawn)
	defer r.Shutdown()

	if err := rearmActiveLoops(ctx, st, sched); err != nil {
		logger.Warn("agentnetd: rearm active loops", "error", err)
	}

	envClient := newEnvironmentsClient()

	gw := gateway.New(gateway.Config{
		AdminToken:      mustAdminToken(),
		CORSOrigin:      getEnv("AGENTNET_CORS_ORIGIN", "*"),
		RequiredEnv:     map[string]string{"AGENTNET_ADMIN_TOKEN": getEnv("AGENTNET_ADMIN_TOKEN", "")},
		RateLimitPerSec: getEnvFloat("AGENTNET_RATE_LIMIT_PER_SEC", 0),
		RateLimitBurst:  getEnvInt("AGENTNET_RATE_LIMIT_BURST", 0),
	}, r, lex, idSvc, cfgSvc, envClient, logger)

	srv := &http.Server{Addr: addr, Handler: gw}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("agentnetd: listening", "addr", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("agentnetd: serve: %w", err)
		}
	case <-stop:
		logger.Info("agentnetd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("agentnetd: graceful shutdown: %w", err)
		}
	}
	return nil
}

func mustAdminToken() string {
	tok := os.Getenv("AGENTNET_ADMIN_TOKEN")
	if tok == "" {
		fmt.Fprintln(os.Stderr, "agentnetd: AGENTNET_ADMIN_TOKEN is required")
		os.Exit(1)
	}
	return tok
}

// openStore picks sqlite (default) or postgres, keyed off
// AGENTNET_POSTGRES_DSN so an operator opts into postgres explicitly
// rather than the kernel guessing from a connection string's shape.
func openStore(ctx context.Context) (store.Store, error) {
	if dsn := getEnv("AGENTNET_POSTGRES_DSN", ""); dsn != "" {
		return postgres.New(ctx, dsn)
	}
	return store.New(getEnv("AGENTNET_DB_PATH", "./agentnet.db"))
}

func newLLMProvider() llm.Provider {
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  os.Getenv("AGENTNET_LLM_API_KEY"),
		BaseURL: getEnv("AGENTNET_LLM_BASE_URL", ""),
		Model:   getEnv("AGENTNET_LLM_MODEL", "gpt-4o-mini"),
	})
}

func newEnvironmentsClient() environments.Client {
	base := getEnv("AGENTNET_ENVIRONMENTS_URL", "")
	if base == "" {
		return environments.NoopClient{}
	}
	return environments.NewHTTPClient(base, getEnv("AGENTNET_ENVIRONMENTS_TOKEN", ""))
}

// rearmActiveLoops re-schedules every agent whose persisted loop state
// still has loopRunning=true, so a scheduler rebuilt fresh on process
// restart honors P5 (an armed loop always has a live alarm) instead of
// silently going quiet until the next explicit /loop/start call.
func rearmActiveLoops(ctx context.Context, st store.Store, sched *scheduler.Scheduler) error {
	rows, err := st.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		ls, ok, err := st.GetLoopState(ctx, row.DID)
		if err != nil || !ok || !ls.LoopRunning {
			continue
		}
		cfg, ok2, err := st.GetConfig(ctx, row.DID)
		intervalMs := 0
		if err == nil && ok2 {
			intervalMs = cfg.LoopIntervalMs
		}
		if _, err := sched.Start(ctx, row.DID, intervalMs); err != nil {
			return fmt.Errorf("rearm %s: %w", row.Name, err)
		}
	}
	return nil
}

// nameCache remembers the did->name mapping as actors are spawned, so a
// scheduled tick firing for an agent whose actor was never resolved this
// process lifetime (e.g. right after restart) can still spawn it with its
// real name instead of an empty one.
type nameCache struct {
	store store.Store
	mu    sync.RWMutex
	names map[string]string
}

func newNameCache(st store.Store) *nameCache {
	return &nameCache{store: st, names: make(map[string]string)}
}

func (c *nameCache) remember(did, name string) {
	c.mu.Lock()
	c.names[did] = name
	c.mu.Unlock()
}

func (c *nameCache) lookup(ctx context.Context, did string) (string, error) {
	c.mu.RLock()
	name, ok := c.names[did]
	c.mu.RUnlock()
	if ok {
		return name, nil
	}
	rows, err := c.store.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		c.remember(row.DID, row.Name)
		if row.DID == did {
			name = row.Name
		}
	}
	return name, nil
}
