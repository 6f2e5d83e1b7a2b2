// Command ctxcore-agent wires the four context-management modules
// (message store, sensory overlay, semantic retrieval, marker parser)
// into the turn-ordering loop described in spec §5: poll sensory, fill
// page slots from auto-retrieval, assemble the prompt, stream the
// model's reply through the marker parser, append the turn, and
// compact if the high watermark was crossed. It is a demonstration
// harness, not the provider-agnostic runtime itself — the tool-
// execution loop, CLI flag parsing, and provider HTTP drivers' full
// surface stay out of scope here same as they do for the library.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ctxcore/internal/bus"
	"ctxcore/internal/config"
	"ctxcore/internal/llm"
	"ctxcore/internal/llm/embedder"
	"ctxcore/internal/markers"
	"ctxcore/internal/observability"
	"ctxcore/internal/overlay"
	"ctxcore/internal/persistence"
	"ctxcore/internal/retrieval"
	"ctxcore/internal/store"
	"ctxcore/internal/version"

	"github.com/rs/zerolog/log"
)

// echoDriver is a minimal llm.ChatDriver stand-in so this demo runs
// without real provider credentials; it streams back a canned reply
// containing one in-band marker, exercising the parser end to end.
type echoDriver struct{}

func (echoDriver) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	return llm.Response{Text: "ok"}, nil
}

func (echoDriver) ChatStream(ctx context.Context, messages []llm.Message, opts llm.Options, cb llm.StreamCallbacks) (llm.Response, error) {
	chunks := []string{"Sure, let me check. ", "@@thinking(0.4)@@", "Here is the answer."}
	var full string
	for _, c := range chunks {
		if cb.OnToken != nil {
			cb.OnToken(c)
		}
		full += c
	}
	return llm.Response{Text: full}, nil
}

func budgetsFromConfig(c config.StoreConfig) store.Budgets {
	working := int(float64(c.ContextWindowTokens) * 0.9)
	return store.Budgets{
		ContextTokens:      c.ContextWindowTokens,
		ReserveHeader:      c.ContextWindowTokens - working,
		ReserveResponse:    4096,
		PageSlotTokens:     c.MaxSummaryChunkTok,
		HighWatermark:      c.HighWatermark,
		LowWatermark:       c.LowWatermark,
		MinRecentPerLane:   c.MinKeepLastMessages,
		KeepRecentTools:    c.MinKeepLastMessages,
		ToolContentMaxChar: 4000,
	}
}

func main() {
	cfg := config.Defaults()
	if path := os.Getenv("CTXCORE_CONFIG"); path != "" {
		loaded, err := config.Load(path, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	observability.InitLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)
	log.Info().Str("version", version.Version).Msg("starting ctxcore-agent")
	ctx := context.Background()

	pageStore, err := persistence.NewPageStore(ctx, cfg.Persistence)
	if err != nil {
		log.Fatal().Err(err).Msg("construct page store")
	}

	driver := echoDriver{}
	summarizer := llm.NewChatSummarizer(driver, cfg.Providers.Anthropic.Model)

	eventBus := bus.Bus(bus.NopBus{})
	if cfg.Bus.Backend == "kafka" {
		eventBus = bus.NewKafkaBus(cfg.Bus.KafkaBrokers, cfg.Bus.KafkaTopic)
	} else {
		ch := bus.NewChannelBus(256)
		eventBus = ch
	}
	defer eventBus.Close()

	sessionID := "demo-session"
	budgets := budgetsFromConfig(cfg.Store)

	msgStore := store.New(sessionID, cfg.Providers.Anthropic.Model, budgets, pageStore, summarizer,
		store.WithOnPageCreated(func(id, summary, label string) {
			eventBus.Publish(ctx, bus.Event{Kind: bus.KindPageCreated, SessionID: sessionID,
				Timestamp: time.Now(), Payload: map[string]any{"page_id": id, "label": label}})
		}),
	)

	dim := cfg.Providers.Embedding.Dimension
	if dim <= 0 {
		dim = 64
	}
	emb := embedder.NewDeterministic(dim, 42)
	index := retrieval.NewFileIndex(".", emb)
	if err := index.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("load retrieval index")
	}
	if err := retrieval.Backfill(ctx, index, pageStore, sessionID); err != nil {
		log.Warn().Err(err).Msg("backfill retrieval index")
	}
	auto := &retrieval.AutoRetriever{Index: index, K: cfg.Retrieval.TopK, MinScore: 0}

	batch := &retrieval.BatchSummarizer{
		SessionID:     sessionID,
		Dir:           ".",
		PageStore:     pageStore,
		Summarizer:    summarizer,
		Embedder:      emb,
		Lock:          retrieval.NewLocalBatchLock(),
		Bus:           eventBus,
		PersistEveryN: cfg.Retrieval.BatchBatchSize,
	}

	sessionStart := time.Now()
	turnCount := 0

	sensory := overlay.New()
	storePtr := &msgStore
	sensory.Register(overlay.NewContextChannel(storePtr))
	sensory.Register(overlay.NewTimeChannel(time.Now, sessionStart, &turnCount))
	sensory.Register(overlay.NewConfigChannel(
		func() string { return cfg.Providers.Anthropic.Model },
		func() string { return "engaged" },
	))
	_ = sensory.SwitchView(overlay.ChannelContext, 0)
	_ = sensory.SwitchView(overlay.ChannelTime, 1)
	_ = sensory.SwitchView(overlay.ChannelConfig, 2)

	userTurn := llm.Message{Role: "user", Content: "What did we decide about the rollout plan?"}
	runTurn(ctx, msgStore, sensory, auto, driver, sessionID, &turnCount, userTurn)

	// Re-summarize any page left stale by this session before exiting,
	// same cadence a cron-driven deployment would run on BatchInterval
	// (cfg.Retrieval.BatchInterval here, parsed and scheduled by the
	// caller of this demo's Run loop in a long-lived process).
	if err := batch.Run(ctx, false); err != nil {
		log.Warn().Err(err).Msg("batch re-summarize")
	}
}

func runTurn(ctx context.Context, s *store.Store, sensory *overlay.Overlay, auto *retrieval.AutoRetriever,
	driver llm.ChatDriver, sessionID string, turnCount *int, userTurn llm.Message) {

	sensory.PollSources(ctx)

	if err := s.Add(ctx, userTurn); err != nil {
		log.Error().Err(err).Msg("append user turn")
		return
	}

	if query, ok := auto.SelectQuery(s.Messages()); ok {
		loaded := map[string]bool{}
		if _, err := auto.Run(ctx, sessionID, s.Messages(), loaded, s); err != nil {
			log.Warn().Err(err).Str("query", query).Msg("auto-retrieval failed, continuing without results")
		}
	}

	panel := sensory.Render()
	if panel != "" {
		log.Debug().Str("panel", panel).Msg("sensory overlay rendered")
	}

	parser := markers.New()
	parser.OnEvent = func(ev markers.Event) {
		log.Info().Str("marker", ev.Name).Msg("directive parsed")
	}

	var clean string
	_, err := driver.ChatStream(ctx, s.Messages(), llm.Options{}, llm.StreamCallbacks{
		OnToken: func(chunk string) { clean += parser.Feed(chunk) },
	})
	if err != nil {
		log.Error().Err(err).Msg("chat stream")
		return
	}
	clean += parser.Flush()

	if err := s.Add(ctx, llm.Message{Role: "assistant", Content: clean}); err != nil {
		log.Error().Err(err).Msg("append assistant turn")
		return
	}

	*turnCount++
	fmt.Println(clean)
}
