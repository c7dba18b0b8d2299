// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicebridge is the real-time voice-to-voice bridge daemon
// (§1). It wires up the three process-wide singleton pools, the Session
// Store, the Agent Registry, and the HTTP/WebSocket surface named in
// §6, then serves until SIGTERM (§9: "close transports and wait up to 5s
// for sessions to end naturally, then force cancellation").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/voicebridge/internal/agent"
	"github.com/rapidaai/voicebridge/internal/callcontext"
	"github.com/rapidaai/voicebridge/internal/callcontrol"
	"github.com/rapidaai/voicebridge/internal/commons"
	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/health"
	"github.com/rapidaai/voicebridge/internal/llm"
	"github.com/rapidaai/voicebridge/internal/session"
	"github.com/rapidaai/voicebridge/internal/stt"
	"github.com/rapidaai/voicebridge/internal/transport"
	"github.com/rapidaai/voicebridge/internal/tts"
	"github.com/rapidaai/voicebridge/internal/vad"
)

// Exit codes (§6): 0 normal, 1 config error, 2 upstream credentials
// missing at startup, 3 shared-cache unreachable at startup.
const (
	exitOK                = 0
	exitConfigError       = 1
	exitMissingCredential = 2
	exitCacheUnreachable  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := commons.NewApplicationLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return exitConfigError
	}

	v, err := config.InitConfig()
	if err != nil {
		logger.Errorf("config init failed: %v", err)
		return exitConfigError
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		logger.Errorf("config invalid: %v", err)
		return exitConfigError
	}

	if cfg.LogFile != "" {
		if lvl, lerr := commons.NewRotatingFileLogger(cfg.LogLevel, cfg.LogFile, cfg.LogMaxSize); lerr == nil {
			logger = lvl
		} else {
			logger.Warnf("rotating file logger init failed, falling back to stdout: %v", lerr)
		}
	} else if lvl, lerr := commons.NewLoggerAtLevel(cfg.LogLevel); lerr == nil {
		logger = lvl
	}

	ownerID := fmt.Sprintf("%s-%d", cfg.Name, os.Getpid())

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Errorf("session cache unreachable: %v", err)
		return exitCacheUnreachable
	}
	store := session.NewRedisStore(redisClient, logger, time.Duration(cfg.SessionTTLSeconds)*time.Second, cfg.HistoryWindowTurns)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Errorf("call context store unreachable: %v", err)
		return exitCacheUnreachable
	}
	if sqlDB, derr := db.DB(); derr == nil {
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnection)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdealConnection)
	}
	contexts := callcontext.NewStore(db, logger)

	sttPool, err := buildSTTPool(cfg, logger)
	if err != nil {
		logger.Errorf("stt pool init failed: %v", err)
		return exitMissingCredential
	}
	ttsPool, err := buildTTSPool(cfg, logger)
	if err != nil {
		logger.Errorf("tts pool init failed: %v", err)
		return exitMissingCredential
	}
	llmPool, err := buildLLMPool(cfg, logger)
	if err != nil {
		logger.Errorf("llm pool init failed: %v", err)
		return exitMissingCredential
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Errorf("agent registry init failed: %v", err)
		return exitConfigError
	}

	deps := &transport.Deps{
		Config:             cfg,
		Logger:             logger,
		STTPool:            sttPool,
		TTSPool:            ttsPool,
		LLMPool:            llmPool,
		Registry:           registry,
		Store:              store,
		OwnerID:            ownerID,
		DefaultSTTProvider: "deepgram",
		VoiceProfile: func(rec *session.Record) (string, string) {
			if rec.ActiveAgent != "" {
				if spec, ok := registry.Get(rec.ActiveAgent); ok {
					return "cartesia", spec.VoiceProfile
				}
			}
			return "cartesia", ""
		},
		FallbackPhrase:   "I'm sorry, I ran into a problem there. Could you say that again?",
		GreeterAgentKey:  agent.GreeterKey,
		GreetingText:     "Hi, thanks for calling. How can I help you today?",
		GreetingProvider: "cartesia",
		GreetingVoice:    "",
		GoodbyeText:      cfg.GoodbyePhrase,
	}
	if cfg.VAD.ModelPath != "" {
		deps.VADFactory = vad.NewSileroFactory(cfg.VAD.ModelPath, 16000, cfg.VAD.Threshold, logger)
	}

	credSource := func(provider string) (callcontrol.Credentials, error) {
		cred, ok := cfg.Credentials[provider]
		if !ok {
			return nil, fmt.Errorf("no credentials configured for provider %q", provider)
		}
		return callcontrol.Credentials(cred), nil
	}
	facade := callcontrol.New(logger, contexts, credSource, func(sessionID string) string {
		return fmt.Sprintf("wss://%s:%d/call/stream?session_id=%s", cfg.Host, cfg.Port, sessionID)
	})
	callHandlers := callcontrol.NewHandlers(facade, logger)

	healthHandlers := health.New(readinessCheckers(sttPool, ttsPool, llmPool, redisClient), registry, deps.ActiveSessions)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	transport.RegisterRoutes(engine, deps)
	callcontrol.RegisterRoutes(engine, callHandlers)
	health.RegisterRoutes(engine, healthHandlers)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("voicebridge listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		logger.Errorf("server failed: %v", err)
		return exitConfigError
	case <-sigCh:
		logger.Infof("shutdown signal received, draining sessions")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown timed out, forcing close", "err", err)
		_ = srv.Close()
	}
	return exitOK
}

// buildSTTPool registers the Deepgram, Azure and Google factories behind C2
// (each only when its credentials are configured),
// keyed by the provider name a session or agent selects at Acquire time.
func buildSTTPool(cfg *config.AppConfig, logger commons.Logger) (stt.Pool, error) {
	factories := map[string]stt.Factory{}
	if cred, ok := cfg.Credentials["deepgram"]; ok {
		factories["deepgram"] = stt.NewDeepgramFactory(toMap(cred), stt.ProviderOptions{}, logger)
	}
	if cred, ok := cfg.Credentials["azure"]; ok {
		factories["azure"] = stt.NewAzureFactory(toMap(cred), "en-US", logger)
	}
	if cred, ok := cfg.Credentials["google"]; ok {
		factories["google"] = stt.NewGoogleFactory(toMap(cred), stt.ProviderOptions{}, logger)
	}
	if len(factories) == 0 {
		return nil, fmt.Errorf("no stt provider credentials configured")
	}
	return stt.NewPool(logger, cfg.PoolSizes.STT, factories), nil
}

// buildTTSPool registers the Deepgram, Cartesia and Google factories behind
// C3, each only when its credentials are configured.
func buildTTSPool(cfg *config.AppConfig, logger commons.Logger) (tts.Pool, error) {
	factories := map[string]tts.Factory{}
	if cred, ok := cfg.Credentials["deepgram"]; ok {
		factories["deepgram"] = tts.NewDeepgramFactory(toMap(cred), logger)
	}
	if cred, ok := cfg.Credentials["cartesia"]; ok {
		factories["cartesia"] = tts.NewCartesiaFactory(toMap(cred), logger)
	}
	if cred, ok := cfg.Credentials["google"]; ok {
		factories["google"] = tts.NewGoogleFactory(toMap(cred), logger)
	}
	if len(factories) == 0 {
		return nil, fmt.Errorf("no tts provider credentials configured")
	}
	return tts.NewPool(logger, cfg.PoolSizes.TTS, factories), nil
}

// buildLLMPool registers the OpenAI/Anthropic/Gemini/Bedrock/Cohere chat
// factories and the realtime-voice websocket factory behind C4.
func buildLLMPool(cfg *config.AppConfig, logger commons.Logger) (llm.Pool, error) {
	chatFactories := map[string]llm.ChatFactory{}
	if cred, ok := cfg.Credentials["openai"]; ok {
		model := cred["model"]
		if model == "" {
			model = "gpt-4o"
		}
		chatFactories["openai"] = llm.NewOpenAIChatFactory(cred["api_key"], model, logger)
	}
	if cred, ok := cfg.Credentials["anthropic"]; ok {
		model := cred["model"]
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		chatFactories["anthropic"] = llm.NewAnthropicChatFactory(cred["api_key"], anthropic.Model(model), logger)
	}
	if cred, ok := cfg.Credentials["gemini"]; ok {
		model := cred["model"]
		if model == "" {
			model = "gemini-2.0-flash"
		}
		chatFactories["gemini"] = llm.NewGeminiChatFactory(cred["api_key"], model, logger)
	}
	if cred, ok := cfg.Credentials["bedrock"]; ok {
		model := cred["model"]
		if model == "" {
			model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
		}
		chatFactories["bedrock"] = llm.NewBedrockChatFactory(cred["access_key_id"], cred["secret_access_key"], cred["region"], model, logger)
	}
	if cred, ok := cfg.Credentials["cohere"]; ok {
		model := cred["model"]
		if model == "" {
			model = "command-r-plus"
		}
		chatFactories["cohere"] = llm.NewCohereChatFactory(cred["api_key"], model, logger)
	}
	if len(chatFactories) == 0 {
		return nil, fmt.Errorf("no llm chat provider credentials configured")
	}

	realtimeFactories := map[string]llm.RealtimeFactory{}
	if cred, ok := cfg.Credentials["openai_realtime"]; ok {
		headers := http.Header{"Authorization": {"Bearer " + cred["api_key"]}}
		realtimeFactories["openai_realtime"] = llm.NewRealtimeWebsocketFactory(cred["url"], headers, logger)
	}

	return llm.NewPool(logger, cfg.PoolSizes.LLM, chatFactories, realtimeFactories), nil
}

// buildRegistry populates C6's immutable Registry: the mandatory greeter
// plus a claims specialist that is always registered; its Replicate and
// MCP tools (D4) are attached only when the corresponding credentials are
// present (S3/S4).
func buildRegistry(cfg *config.AppConfig, logger commons.Logger) (*agent.Registry, error) {
	specs := []*agent.Spec{
		{
			Key:          agent.GreeterKey,
			DisplayName:  "Greeter",
			SystemPrompt: "You are a friendly front-desk voice assistant. Greet the caller, understand their need, and route them to a specialist when appropriate.",
			Provider:     "openai",
			CanEscalateTo: []string{"claims"},
		},
	}

	claims := &agent.Spec{
		Key:          "claims",
		DisplayName:  "Claims Specialist",
		SystemPrompt: "You help callers look up and file insurance claims. Use lookup_policy to resolve a policy number before answering questions about it.",
		Provider:     "anthropic",
		VoiceProfile: "claims-voice",
	}
	if cred, ok := cfg.Credentials["replicate"]; ok {
		claims.Tools = append(claims.Tools, agent.NewReplicateInferenceTool(cred["api_token"], cred["model_version"], logger))
	}
	if url, ok := cfg.Credentials["mcp_claims"]; ok && url["url"] != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		caller, err := agent.NewMCPCaller(ctx, "claims-mcp", url["url"], logger)
		cancel()
		if err != nil {
			logger.Warnw("claims mcp caller unavailable, agent will rely on native tools only", "err", err)
		} else if mcpTools, terr := caller.Tools(context.Background()); terr == nil {
			claims.Tools = append(claims.Tools, mcpTools...)
		}
	}
	specs = append(specs, claims)

	return agent.NewRegistry(specs)
}

func toMap(cred config.ProviderCredential) map[string]interface{} {
	out := make(map[string]interface{}, len(cred))
	for k, v := range cred {
		out[k] = v
	}
	return out
}

// readinessCheckers builds the §6 `GET /readiness` probe set: the cache
// gets a real ping and reports unhealthy when it fails; each pool check
// always reports healthy with its current lease count and does not
// reflect provider errors.
func readinessCheckers(sttPool stt.Pool, ttsPool tts.Pool, llmPool llm.Pool, redisClient *redis.Client) []health.Checker {
	return []health.Checker{
		health.CheckerFunc{Label: "session_store", Fn: func(ctx context.Context) (string, string) {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return health.StatusUnhealthy, err.Error()
			}
			return health.StatusHealthy, ""
		}},
		health.CheckerFunc{Label: "stt_pool", Fn: func(ctx context.Context) (string, string) {
			return health.StatusHealthy, fmt.Sprintf("%d leased", sttPool.Len())
		}},
		health.CheckerFunc{Label: "tts_pool", Fn: func(ctx context.Context) (string, string) {
			return health.StatusHealthy, fmt.Sprintf("%d leased", ttsPool.Len())
		}},
		health.CheckerFunc{Label: "llm_pool", Fn: func(ctx context.Context) (string, string) {
			return health.StatusHealthy, fmt.Sprintf("%d leased", llmPool.Len())
		}},
	}
}
