package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npcmediator/engine/internal/buffer"
	"github.com/npcmediator/engine/internal/config"
	"github.com/npcmediator/engine/internal/convlog"
	"github.com/npcmediator/engine/internal/conversation"
	"github.com/npcmediator/engine/internal/decision"
	"github.com/npcmediator/engine/internal/dispatch"
	"github.com/npcmediator/engine/internal/httpapi"
	"github.com/npcmediator/engine/internal/llm"
	"github.com/npcmediator/engine/internal/memstore"
	"github.com/npcmediator/engine/internal/persona"
	"github.com/npcmediator/engine/internal/ratelimit"
	"github.com/npcmediator/engine/internal/statemachine"
)

func main() {
	cfg := config.Load()

	p, err := persona.Load(cfg.Server.PersonaPath)
	if err != nil {
		log.Fatalf("failed to load persona: %v", err)
	}

	if len(p.TriggerWords) > 0 {
		cfg.Decision.TriggerWords = p.TriggerWords
	}

	mem := memstore.New()
	p.SeedMemory(mem)

	buf := buffer.New(cfg.BufferConfig())
	decider := decision.New(cfg.DecisionConfig(), nil)

	logger, err := convlog.Open(cfg.Server.ConvLogPath)
	if err != nil {
		log.Fatalf("failed to open conversation log: %v", err)
	}
	defer logger.Close()

	conv := conversation.New(p.SystemPrompt, cfg.ConversationConfig(), mem, logger)

	sm := statemachine.New(cfg.StateMachineConfig(), buf, decider)

	gen, err := llm.NewChatGenerator(cfg.ProviderConfig())
	if err != nil {
		log.Fatalf("failed to construct LLM client: %v", err)
	}

	if hc, ok := gen.(llm.HealthChecker); ok {
		hcCtx, hcCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := hc.HealthCheck(hcCtx)
		hcCancel()
		if err != nil {
			log.Fatalf("llm provider failed readiness check: %v", err)
		}
		log.Println("npcserver: llm provider passed readiness check")
	}

	dispatchCfg := dispatch.Config{
		ListeningTimeout:  cfg.StateMachineConfig().ListeningMs,
		MemoryEnabled:     cfg.Memory.Enabled,
		MemoryTokenBudget: cfg.Memory.TokenBudget,
		BudgetingEnabled:  cfg.History.MaxContextTokens > 0,
	}
	adapter := dispatch.New(dispatchCfg, buf, decider, conv, sm, gen)

	limiter := ratelimit.New(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	handler := httpapi.NewHandler(adapter, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Enabled {
		sm.Run(ctx)
		log.Println("npcserver: engagement engine ticking")
	} else {
		log.Println("npcserver: NPC_ENABLED=false, engine is idle (every ingest will decline)")
	}

	addr, err := httpapi.Start(ctx, cfg.Server.ListenAddr, handler)
	if err != nil {
		log.Fatalf("failed to start HTTP server: %v", err)
	}
	log.Printf("npcserver: listening on %s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("npcserver: shutting down gracefully")
	cancel()
	sm.Stop()
}
