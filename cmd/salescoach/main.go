package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/ai"
	"salescoach-server/pkg/auth"
	"salescoach-server/pkg/config"
	"salescoach-server/pkg/database"
	httpserver "salescoach-server/pkg/http"
	"salescoach-server/pkg/messaging"
	"salescoach-server/pkg/metrics"
	"salescoach-server/pkg/search"
	"salescoach-server/pkg/session"
	"salescoach-server/pkg/stt"
	"salescoach-server/pkg/version"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(logger, cfg.Logging)

	logger.WithFields(logrus.Fields{
		"version": version.Version,
		"port":    cfg.HTTP.Port,
	}).Info("Starting sales coach server")

	metrics.StartMetrics(logger, cfg.HTTP.EnableMetrics)

	// Persistence
	var db *database.MySQLDatabase
	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err = database.NewMySQLDatabase(cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			logger.WithError(err).Fatal("Failed to run database migrations")
		}

		repo = database.NewRepository(db, logger)
	} else {
		logger.Warn("Database disabled, calls will not be persisted")
	}

	// Knowledge store
	var knowledge search.Store
	if cfg.Search.Enabled {
		knowledge, err = search.NewElasticStore(search.ElasticConfig{
			Addresses: cfg.Search.Addresses,
			Username:  cfg.Search.Username,
			Password:  cfg.Search.Password,
			Timeout:   cfg.Search.Timeout,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to knowledge store")
		}
		logger.WithField("addresses", cfg.Search.Addresses).Info("Knowledge store connected")
	} else {
		knowledge = search.NewMemoryStore()
		logger.Info("Knowledge store using in-memory index")
	}

	// Reasoning
	chat := ai.NewOpenAIClient(logger, &cfg.AI)
	engine := ai.NewEngine(logger, chat, knowledge, ai.EngineOptions{
		ProductIndex:        cfg.Search.ProductIndex,
		ObjectionIndex:      cfg.Search.ObjectionIndex,
		MaxDiscoveryResults: cfg.Session.MaxDiscoveryResults,
	})

	// Transcription providers
	providers := stt.NewProviderManager(logger, cfg.STT.DefaultProvider)
	registerProviders(logger, providers, &cfg.STT)

	// Event publishing
	var publisher messaging.Publisher = messaging.NopPublisher{}
	var amqpClient *messaging.AMQPClient
	if cfg.Messaging.Enabled() {
		amqpClient = messaging.NewAMQPClient(logger, cfg.Messaging)
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP connection failed, continuing without event publishing")
		} else {
			publisher = amqpClient
			defer amqpClient.Disconnect()
		}
	}

	registry := session.NewRegistry(cfg.Session.RegistryShardCount)

	server := httpserver.NewServer(logger, cfg.HTTP, registry)
	if db != nil {
		server.SetDatabase(db)
	}
	if amqpClient != nil {
		server.SetAMQPClient(amqpClient)
	}

	if repo != nil {
		authenticator := auth.NewAuthenticator(cfg.Auth, repo, logger)
		server.SetAuthMiddleware(httpserver.NewAuthMiddleware(authenticator, cfg.Auth.Enabled, logger))

		api := httpserver.NewAPI(httpserver.APIOptions{
			Logger:         logger,
			Store:          repo,
			Authenticator:  authenticator,
			Knowledge:      knowledge,
			Engine:         engine,
			ProductIndex:   cfg.Search.ProductIndex,
			ObjectionIndex: cfg.Search.ObjectionIndex,
		})
		api.Register(server)
	} else if cfg.Auth.Enabled {
		logger.Warn("Authentication requires the database, REST API and auth disabled")
	}

	callHandler := httpserver.NewCallHandler(httpserver.CallHandlerOptions{
		Logger:    logger,
		Config:    cfg.Session,
		Registry:  registry,
		Engine:    engine,
		Chat:      chat,
		Providers: providers,
		Store:     sessionStore(repo),
		Calls:     callLifecycle(repo),
		Publisher: publisher,
	})
	server.Handle("GET /ws/calls/{id}", callHandler.ServeHTTP)
	server.Handle("GET /ws/calls", callHandler.ServeHTTP)

	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutting down")

	// End live calls so their transcripts and summaries get persisted.
	registry.Range(func(callID string, s *session.Session) bool {
		s.End("server_shutdown")
		return true
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}

	logger.Info("Shutdown complete")
}

func configureLogging(logger *logrus.Logger, cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func registerProviders(logger *logrus.Logger, manager *stt.ProviderManager, cfg *config.STTConfig) {
	if cfg.DeepgramAPIKey != "" {
		if err := manager.RegisterProvider(stt.NewDeepgramProvider(logger, cfg)); err != nil {
			logger.WithError(err).Warn("Failed to register deepgram provider")
		}
	}
	if cfg.GoogleAPIKey != "" || cfg.GoogleCredentialsFile != "" {
		if err := manager.RegisterProvider(stt.NewGoogleProvider(logger, cfg)); err != nil {
			logger.WithError(err).Warn("Failed to register google provider")
		}
	}
	if err := manager.RegisterProvider(stt.NewMockProvider(logger)); err != nil {
		logger.WithError(err).Warn("Failed to register mock provider")
	}
}

// sessionStore avoids handing the call pipeline a typed-nil interface when
// the database is disabled.
func sessionStore(repo *database.Repository) session.Store {
	if repo == nil {
		return nil
	}
	return repo
}

func callLifecycle(repo *database.Repository) httpserver.CallLifecycle {
	if repo == nil {
		return nil
	}
	return repo
}
