// README: Entry point; loads config, wires stores and services, runs the HTTP API, the Telegram bot and the expiry sweep.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drillflow/internal/ai"
	"drillflow/internal/bot"
	"drillflow/internal/config"
	httptransport "drillflow/internal/http"
	"drillflow/internal/infra"
	"drillflow/internal/maps"
	"drillflow/internal/modules/aiusage"
	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/dispatch"
	"drillflow/internal/modules/location"
	"drillflow/internal/modules/matching"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/notify"
	"drillflow/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("drillflow stopped", zap.Error(err))
	}
}

// stores is the storage backend selected by DRILLFLOW_STORAGE.
type stores struct {
	users    user.Repository
	zones    location.ZoneStore
	index    location.ZoneWriter
	source   matching.ContractorSource
	orders   order.Repository
	sessions conversation.Store
	offers   matching.OfferStore
	usage    aiusage.Repository
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, opts order.StoreOptions, logger *zap.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		profiles := user.NewMemoryStore()
		return &stores{
			users:    profiles,
			zones:    profiles,
			source:   profiles,
			orders:   order.NewMemoryStore(profiles, opts),
			sessions: conversation.NewMemoryStore(cfg.Conversation.SessionTTL, time.Now),
			offers:   matching.NewMemoryOfferStore(),
			usage:    aiusage.NewMemoryStore(cfg.AI.MonthlyTokens),
			close:    func() {},
		}, nil
	}

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if err := infra.RunMigrations(ctx, db, cfg.DB.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, err
	}
	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		db.Close()
		return nil, err
	}

	userStore := user.NewStore(db)
	geoIndex := location.NewGeoIndex(rdb)
	s := &stores{
		users:    userStore,
		zones:    userStore,
		index:    geoIndex,
		source:   userStore,
		orders:   order.NewStore(db, opts),
		sessions: conversation.NewRedisStore(rdb, cfg.Conversation.SessionTTL),
		offers:   matching.NewRedisOfferStore(rdb, cfg.Dispatch.OfferTTL),
		usage:    aiusage.NewStore(db, cfg.AI.MonthlyTokens),
		close: func() {
			_ = rdb.Close()
			db.Close()
		},
	}
	if cfg.Matching.UseGeoIndex {
		s.source = location.NewGeoSource(geoIndex, userStore, float64(cfg.Conversation.MaxRadiusKm))
	}
	return s, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	strategy, err := order.NewRatingStrategy(cfg.Dispatch.RatingStrategy, cfg.Dispatch.RatingAlpha)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg, order.StoreOptions{Rating: strategy, AutoBusy: cfg.Dispatch.AutoBusyOnAccept}, logger)
	if err != nil {
		return err
	}
	defer st.close()

	users := user.NewService(st.users, float64(cfg.Conversation.MaxRadiusKm))
	orders := order.NewService(st.orders)
	zones := location.NewService(st.zones, st.index, logger)
	if err := zones.RebuildIndex(ctx); err != nil {
		logger.Warn("zone index rebuild failed; matching falls back to stored zones", zap.Error(err))
		st.source = st.users
	}
	engine, err := matching.NewEngine(st.source, orders, cfg.Matching, logger)
	if err != nil {
		return err
	}

	var notifier dispatch.Notifier = notify.NewLog(logger)
	var botAPI bot.API
	var replier bot.Replier
	if cfg.Telegram.Token != "" {
		api, err := infra.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.Debug)
		if err != nil {
			return err
		}
		tg := notify.NewTelegram(api, cfg.Telegram.MessagesPerSec, logger)
		notifier, replier, botAPI = tg, tg, api
		logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	} else {
		logger.Warn("DRILLFLOW_TELEGRAM_TOKEN not set; notifications go to the log")
	}

	var geocoder dispatch.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey, cfg.Maps.Region, cfg.Maps.Language)
		if err != nil {
			return err
		}
		geocoder = g
	}

	var classifier conversation.ServiceClassifier
	if cfg.AI.GeminiKey != "" {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.AI.GeminiKey)
		if err != nil {
			return err
		}
		defer gemini.Close()
		classifier = aiusage.NewQuotaClassifier(aiusage.NewService(st.usage), gemini, logger)
	}

	coord := dispatch.NewCoordinator(dispatch.Deps{
		Orders:   orders,
		Users:    users,
		Zones:    zones,
		Matcher:  engine,
		Offers:   st.offers,
		Notifier: notifier,
		Geocoder: geocoder,
	}, cfg.Dispatch, logger)
	machine := conversation.NewMachine(st.sessions, cfg.Conversation, classifier, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coord.RunExpirySweep(ctx)
		return nil
	})
	if botAPI != nil {
		telegram := bot.New(botAPI, bot.NewHandler(coord, users, machine, replier, logger), logger)
		g.Go(func() error {
			telegram.Run(ctx)
			return nil
		})
	}
	if cfg.Firebase.ProjectID != "" {
		verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		router := httptransport.NewRouter(httptransport.RouterDeps{
			Coordinator: coord,
			Users:       users,
			Verifier:    verifier,
			Classifier:  classifier,
			Logger:      logger,
		})
		server := httptransport.NewServer(cfg.HTTP.Addr, router, logger)
		g.Go(func() error {
			return server.Run(ctx)
		})
	} else {
		logger.Warn("DRILLFLOW_FIREBASE_PROJECT_ID not set; dashboard API disabled")
	}
	return g.Wait()
}
