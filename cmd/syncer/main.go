package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/checkpoint"
	"github.com/chainsync/syncer/internal/config"
	"github.com/chainsync/syncer/internal/coordinator"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/metrics"
	"github.com/chainsync/syncer/internal/realtime"
	"github.com/chainsync/syncer/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Logging)
	log.Info().Msg("Starting chainsync syncer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("Syncer shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	st, err := store.Open(cfg.Persistence.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Str("path", cfg.Persistence.SQLitePath).Msg("Sync store opened")

	chainsByName := make(map[string]config.ChainConfig, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		chainsByName[cc.Name] = cc
	}

	sourcesByChain := make(map[string][]filter.Filter, len(cfg.Chains))
	for i, sc := range cfg.Sources {
		cc := chainsByName[sc.Chain]
		f, err := translateSource(cc.ChainID, sc)
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		sourcesByChain[sc.Chain] = append(sourcesByChain[sc.Chain], f)
	}

	var chainSpecs []coordinator.ChainSpec
	g, gCtx := errgroup.WithContext(ctx)

	for _, cc := range cfg.Chains {
		cc := cc
		client, err := chain.Dial(ctx, chain.Chain{
			Name:                 cc.Name,
			ID:                   cc.ChainID,
			PollingInterval:      cc.PollingInterval,
			FinalityBlockCount:   cc.FinalityBlockCount,
			MaxRequestsPerSecond: cc.MaxRequestsPerSecond,
			RPCURL:               cc.RPCURL,
			DisableCache:         cc.DisableCache,
		})
		if err != nil {
			return fmt.Errorf("chain %s: %w", cc.Name, err)
		}
		defer client.Close()
		log.Info().Str("chain", cc.Name).Uint64("chainId", cc.ChainID).Msg("RPC client connected")

		spec := coordinator.ChainSpec{
			Chain:   chainFromConfig(cc),
			RPC:     client,
			Sources: sourcesByChain[cc.Name],
		}

		if cc.WSURL != "" {
			sub := realtime.NewNewHeadSubscriber(cc.WSURL)
			if err := sub.Connect(ctx); err != nil {
				log.Warn().Err(err).Str("chain", cc.Name).Msg("newHeads subscriber failed to connect, realtime syncer falls back to plain polling")
			} else {
				if err := sub.Subscribe(ctx); err != nil {
					log.Warn().Err(err).Str("chain", cc.Name).Msg("newHeads subscribe request failed")
				}
				spec.Nudges = sub.Nudges()
				m.SetNewHeadSubscribed(cc.ChainID, true)

				g.Go(func() error {
					defer sub.Close()
					go sub.StartPingLoop(gCtx)
					if err := sub.ReadNotifications(gCtx); err != nil && gCtx.Err() == nil {
						log.Warn().Err(err).Str("chain", cc.Name).Msg("newHeads subscriber disconnected")
					}
					m.SetNewHeadSubscribed(cc.ChainID, false)
					return nil
				})
			}
		}

		chainSpecs = append(chainSpecs, spec)
	}

	syncCfg := coordinator.DefaultConfig()
	syncCfg.Historical.Concurrency = cfg.Historical.Concurrency
	syncCfg.Historical.MaxBlockRange = cfg.Historical.MaxBlockRange
	syncCfg.Historical.EventChunkSize = cfg.Historical.EventChunkSize
	syncCfg.Realtime.PollInterval = cfg.Realtime.PollInterval
	syncCfg.Realtime.SafeDepth = cfg.Realtime.SafeDepth
	syncCfg.Realtime.FinalizedDepth = cfg.Realtime.FinalizedDepth
	syncCfg.Realtime.MaxUnfinalized = cfg.Realtime.MaxUnfinalized

	runtime := newLoggingRuntime(m)

	co := coordinator.New(st, runtime, chainSpecs, syncCfg, m)

	g.Go(func() error {
		log.Info().Int("chains", len(chainSpecs)).Msg("Starting coordinator")
		return co.Run(gCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// chainFromConfig rebuilds the chain.Chain value for ChainSpec. Kept
// separate from the chain.Dial call above since ChainSpec.Chain is a
// value the coordinator reads repeatedly, not the dialed client itself.
func chainFromConfig(cc config.ChainConfig) chain.Chain {
	return chain.Chain{
		Name:                 cc.Name,
		ID:                   cc.ChainID,
		PollingInterval:      cc.PollingInterval,
		FinalityBlockCount:   cc.FinalityBlockCount,
		MaxRequestsPerSecond: cc.MaxRequestsPerSecond,
		RPCURL:               cc.RPCURL,
		DisableCache:         cc.DisableCache,
	}
}

// translateSource converts one declarative config.SourceConfig into the
// filter.Filter it names. This translation is deliberately kept out of
// internal/config: SourceConfig is a flat, kind-tagged shape that package
// has no business interpreting, since doing so would give it a dependency
// on internal/filter for what is purely a wiring concern.
func translateSource(chainID uint64, sc config.SourceConfig) (filter.Filter, error) {
	switch sc.Kind {
	case "log":
		var topics [4]filter.TopicSpec
		for i, t := range sc.Topics {
			topics[i] = filter.Topic(t...)
		}
		return filter.Filter{
			Kind: filter.KindLog,
			Log: &filter.LogFilter{
				ChainID:         chainID,
				Address:         addressSpec(sc.Addresses, sc.FromFactory),
				Topics:          topics,
				FromBlock:       sc.FromBlock,
				ToBlock:         sc.ToBlock,
				IncludeReceipts: sc.IncludeReceipts,
			},
		}, nil

	case "trace":
		return filter.Filter{
			Kind: filter.KindTrace,
			Trace: &filter.TraceFilter{
				ChainID:          chainID,
				FromAddress:      addressSpec(sc.FromAddress, sc.FromFactory),
				ToAddress:        addressSpec(sc.ToAddress, sc.ToFactory),
				FunctionSelector: sc.FunctionSelector,
				CallType:         sc.CallType,
				IncludeReverted:  sc.IncludeReverted,
				IncludeReceipts:  sc.IncludeReceipts,
				FromBlock:        sc.FromBlock,
				ToBlock:          sc.ToBlock,
			},
		}, nil

	case "transfer":
		return filter.Filter{
			Kind: filter.KindTransfer,
			Transfer: &filter.TransferFilter{
				ChainID:         chainID,
				FromAddress:     addressSpec(sc.FromAddress, sc.FromFactory),
				ToAddress:       addressSpec(sc.ToAddress, sc.ToFactory),
				IncludeReverted: sc.IncludeReverted,
				IncludeReceipts: sc.IncludeReceipts,
				FromBlock:       sc.FromBlock,
				ToBlock:         sc.ToBlock,
			},
		}, nil

	case "transaction":
		return filter.Filter{
			Kind: filter.KindTransaction,
			Transaction: &filter.TransactionFilter{
				ChainID:         chainID,
				FromAddress:     addressSpec(sc.FromAddress, sc.FromFactory),
				ToAddress:       addressSpec(sc.ToAddress, sc.ToFactory),
				IncludeReverted: sc.IncludeReverted,
				FromBlock:       sc.FromBlock,
				ToBlock:         sc.ToBlock,
			},
		}, nil

	case "block":
		return filter.Filter{
			Kind: filter.KindBlock,
			Block: &filter.BlockFilter{
				ChainID:   chainID,
				Interval:  sc.Interval,
				Offset:    sc.Offset,
				FromBlock: sc.FromBlock,
				ToBlock:   sc.ToBlock,
			},
		}, nil

	case "log_factory":
		loc, err := parseChildAddressLocation(sc.ChildAddressLocation)
		if err != nil {
			return filter.Filter{}, err
		}
		return filter.Filter{
			Kind: filter.KindLogFactory,
			LogFactory: &filter.LogFactoryFilter{
				ChainID:              chainID,
				Address:              addressSpec(sc.Addresses, ""),
				EventSelector:        sc.EventSelector,
				ChildAddressLocation: loc,
				FromBlock:            sc.FromBlock,
				ToBlock:              sc.ToBlock,
			},
		}, nil

	default:
		return filter.Filter{}, fmt.Errorf("unrecognized source kind %q", sc.Kind)
	}
}

func addressSpec(literal []string, factoryID string) filter.AddressSpec {
	if factoryID != "" {
		return filter.Factory(factoryID)
	}
	if len(literal) > 0 {
		return filter.Literal(literal...)
	}
	return filter.None()
}

func parseChildAddressLocation(s string) (filter.ChildAddressLocation, error) {
	switch s {
	case "topic1":
		return filter.ChildAddressLocation{Kind: filter.ChildAddressTopic1}, nil
	case "topic2":
		return filter.ChildAddressLocation{Kind: filter.ChildAddressTopic2}, nil
	case "topic3":
		return filter.ChildAddressLocation{Kind: filter.ChildAddressTopic3}, nil
	}
	if rest, ok := strings.CutPrefix(s, "offset"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return filter.ChildAddressLocation{}, fmt.Errorf("invalid child_address_location %q", s)
		}
		return filter.ChildAddressLocation{Kind: filter.ChildAddressOffset, Offset: n}, nil
	}
	return filter.ChildAddressLocation{}, fmt.Errorf("invalid child_address_location %q", s)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// loggingRuntime is a minimal IndexingRuntime that logs every batch it is
// handed, standing in for the user-supplied indexing runtime spec.md §9
// treats as an external black box, so this binary runs standalone.
type loggingRuntime struct {
	m *metrics.Metrics
}

func newLoggingRuntime(m *metrics.Metrics) *loggingRuntime {
	return &loggingRuntime{m: m}
}

func (r *loggingRuntime) ProcessSetupEvents(ctx context.Context, sourceIndex int) error {
	log.Debug().Int("source", sourceIndex).Msg("setup events")
	return nil
}

func (r *loggingRuntime) ProcessHistoricalEvents(ctx context.Context, batch []event.Event) error {
	return r.log(batch, "historical")
}

func (r *loggingRuntime) ProcessRealtimeEvents(ctx context.Context, batch []event.Event) error {
	return r.log(batch, "realtime")
}

func (r *loggingRuntime) log(batch []event.Event, phase string) error {
	for _, ev := range batch {
		cp, err := checkpoint.Parse(ev.Checkpoint)
		if err != nil {
			return fmt.Errorf("parsing checkpoint %q: %w", ev.Checkpoint, err)
		}

		log.Info().
			Uint64("chainId", ev.ChainID).
			Uint64("block", cp.BlockNumber).
			Str("kind", eventKind(ev)).
			Str("phase", phase).
			Msg("event emitted")
		if r.m != nil {
			r.m.RecordEventEmitted(ev.ChainID, phase, time.Unix(int64(cp.BlockTimestamp), 0))
		}
	}
	return nil
}

// eventKind names the one non-nil record an Event carries.
func eventKind(ev event.Event) string {
	switch {
	case ev.Block != nil:
		return "block"
	case ev.Log != nil:
		return "log"
	case ev.Transaction != nil:
		return "transaction"
	case ev.Trace != nil:
		return "trace"
	case ev.Receipt != nil:
		return "receipt"
	default:
		return "unknown"
	}
}
