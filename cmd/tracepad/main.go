// Command tracepad runs the agent chat server: the HTMX/SSE web UI, the
// agent loop over an OpenAI-compatible model gateway, and per-user Docker
// sandboxes for code execution.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracepad/tracepad"
	"github.com/tracepad/tracepad/internal/config"
	"github.com/tracepad/tracepad/internal/session"
	"github.com/tracepad/tracepad/internal/web"
	"github.com/tracepad/tracepad/observer"
	"github.com/tracepad/tracepad/provider/openaicompat"
	"github.com/tracepad/tracepad/sandbox"
	"github.com/tracepad/tracepad/tools/runcode"
	"github.com/tracepad/tracepad/tools/weather"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[tracepad] ")

	configPath := flag.String("config", "", "path to tracepad.toml")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if cfg.LLM.APIKey == "" {
		log.Fatal("TRACEPAD_LLM_API_KEY is required")
	}
	secret := []byte(cfg.Server.Secret)
	if len(secret) == 0 {
		// Ephemeral secret: sessions survive only this process.
		buf := make([]byte, 32)
		rand.Read(buf)
		secret = []byte(hex.EncodeToString(buf))
		log.Println("no cookie secret configured, using an ephemeral one")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observability: spans around turns, model calls, and tool dispatch,
	// plus token metrics, exported over OTLP when enabled.
	var tracer tracepad.Tracer
	var gateway tracepad.Provider = openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, cfg.Observer.Endpoint)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutCtx); err != nil {
				log.Printf("observer shutdown: %v", err)
			}
		}()
		tracer = observer.NewTracer()
		gateway = observer.WrapProvider(gateway, cfg.LLM.Model, inst)
	}
	gateway = tracepad.WithRetry(gateway, tracepad.RetryLogger(logger))

	host, err := sandbox.NewDockerHost(cfg.Sandbox.StateRoot, sandbox.DockerLogger(logger))
	if err != nil {
		log.Fatalf("docker host: %v", err)
	}
	defer host.Close()

	startOpts := sandbox.StartOptions{
		AppName:     cfg.Sandbox.AppName,
		Image:       cfg.Sandbox.Image,
		CPUs:        cfg.Sandbox.CPUs,
		MemoryMiB:   cfg.Sandbox.MemoryMiB,
		Timeout:     cfg.Sandbox.Timeout.Std(),
		IdleTimeout: cfg.Sandbox.IdleTimeout.Std(),
	}
	factory := func(ctx context.Context, remoteID string) (tracepad.CodeRunner, error) {
		return sandbox.New(ctx, host, startOpts,
			sandbox.WithRemoteID(remoteID),
			sandbox.WithInitScript(cfg.Sandbox.InitScript),
			sandbox.WithMaxRuntime(cfg.Sandbox.MaxRuntime.Std()),
			sandbox.WithLogger(logger))
	}
	sweep := func(ctx context.Context) {
		sandbox.Sweep(ctx, host, cfg.Sandbox.AppName, logger)
	}

	registry := session.NewRegistry(factory,
		session.WithTTL(cfg.Session.TTL.Std()),
		session.WithCapacity(cfg.Session.Capacity),
		session.WithSweep(sweep),
		session.WithLogger(logger))
	defer registry.Close()

	tools := tracepad.NewToolRegistry()
	tools.Add(runcode.New(registry.Sandbox))
	tools.Add(weather.New())

	agentOpts := []tracepad.AgentOption{
		tracepad.WithReasoningEffort(cfg.LLM.ReasoningEffort),
		tracepad.WithLogger(logger),
	}
	if tracer != nil {
		agentOpts = append(agentOpts, tracepad.WithTracer(tracer))
	}
	agent := tracepad.NewAgent(gateway, tools, agentOpts...)

	server := web.NewServer(agent, registry, secret, web.WithLogger(logger))
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     server.Routes(),
		ReadTimeout: time.Minute,
		IdleTimeout: 2 * time.Minute,
	}

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}
