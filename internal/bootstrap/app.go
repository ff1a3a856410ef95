package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ragchat/internal/ai"
	"ragchat/internal/app"
	"ragchat/internal/cache"
	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/observability"
	"ragchat/internal/pkg/cryptobox"
	"ragchat/internal/platform/logger"
	rabbitmqClient "ragchat/internal/platform/rabbitmq"
	redisClient "ragchat/internal/platform/redis"
	"ragchat/internal/platform/sqldb"
	"ragchat/internal/repository"
	"ragchat/internal/structured"
	"ragchat/internal/vectorstore"
	"ragchat/internal/worker"
)

type App struct {
	Config *config.Config
	Log    *logger.Logger
	DB     *gorm.DB
	// VectorDB is set only for the pgvector provider.
	VectorDB    *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Store       vectorstore.Store
	Publisher   *rabbitmqClient.Publisher
	IndexWorker *worker.IndexWorker

	Conversations *app.ConversationService
	Threads       *app.ThreadService
	Index         *app.IndexService
	Schema        *app.SchemaService

	StartedAt time.Time

	shutdownTracing func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	shutdown, err := observability.InitTracing(ctx, cfg.App, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracing failed: %w", err)
	}
	a.shutdownTracing = shutdown

	a.DB, err = sqldb.Open(ctx, sqldb.KindMySQL, cfg.MySQLDSN(), sqldb.AppPool)
	if err != nil {
		return err
	}
	if err := a.DB.AutoMigrate(&model.User{}, &model.Collection{}, &model.Document{}, &model.Thread{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	if err := a.initVectorStore(ctx); err != nil {
		return err
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.Publisher, err = rabbitmqClient.NewPublisher(a.MQConn, cfg.RabbitMQ.IndexQueue)
	if err != nil {
		return err
	}

	cipher, err := newCipher(cfg.Crypto)
	if err != nil {
		return err
	}

	threadRepo := repository.NewThreadRepository(a.DB)
	userRepo := repository.NewUserRepository(a.DB)
	messageRepo := repository.NewMessageRepository(a.DB)
	collectionRepo := repository.NewCollectionRepository(a.DB)
	documentRepo := repository.NewDocumentRepository(a.DB)

	history := cache.NewHistoryCache(a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second)
	progress := cache.NewProgressStore(a.Redis, time.Duration(cfg.Redis.ProgressTTLSeconds)*time.Second)

	llm := ai.NewClient(cfg.LLM)
	var rerankers []ai.Reranker
	for _, endpoint := range cfg.Rerank.Endpoints {
		rerankers = append(rerankers, ai.NewHTTPReranker(endpoint))
	}
	timeout := time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second

	a.Threads = app.NewThreadService(threadRepo, messageRepo, collectionRepo, a.Store, history, log)
	a.Index = app.NewIndexService(documentRepo, collectionRepo, threadRepo, llm, a.Store, a.Publisher, progress, cfg.Storage.UploadRoot, log)
	a.Schema = app.NewSchemaService(collectionRepo, structured.NewAnalyzer(llm, timeout), structured.Open, cfg.Pipeline.MaxRows, log)
	a.Conversations = app.NewConversationService(app.ConversationDeps{
		Threads:   threadRepo,
		Users:     userRepo,
		Messages:  messageRepo,
		History:   a.Threads,
		Retriever: app.NewRetriever(llm, a.Store, documentRepo, llm, rerankers, cfg.Rerank.Threshold, cfg.Pipeline, log),
		Engine: structured.NewEngine(llm, structured.EngineOptions{
			MaxRetries:  cfg.Pipeline.MaxRetries,
			Timeout:     timeout,
			DisplayRows: cfg.Pipeline.DisplayRows,
		}, log),
		Open:     structured.Open,
		Model:    llm,
		Cipher:   cipher,
		Cache:    history,
		Pipeline: cfg.Pipeline,
		Log:      log,
	})

	a.IndexWorker = worker.NewIndexWorker(a.MQConn, a.Index, cfg.RabbitMQ.IndexQueue, log)
	if err := a.IndexWorker.Start(ctx); err != nil {
		return fmt.Errorf("start index worker failed: %w", err)
	}

	if removed, err := a.Threads.GarbageCollectStores(ctx); err != nil {
		log.Warn("vector store cleanup failed", "err", err)
	} else if len(removed) > 0 {
		log.Info("vector store cleanup", "removed", removed)
	}
	return nil
}

func (a *App) initVectorStore(ctx context.Context) error {
	switch strings.ToLower(a.Config.Vector.Provider) {
	case "pgvector":
		db, err := sqldb.Open(ctx, sqldb.KindPostgres, a.Config.Postgres.DSN, sqldb.AppPool)
		if err != nil {
			return err
		}
		a.VectorDB = db
		store := vectorstore.NewPGStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.Store = store
	case "", "sql":
		store := vectorstore.NewSQLStore(a.DB)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.Store = store
	default:
		return fmt.Errorf("unknown vector provider %q", a.Config.Vector.Provider)
	}
	return nil
}

func newCipher(cfg config.CryptoConfig) (cryptobox.Cipher, error) {
	if !cfg.Enabled {
		return cryptobox.Plain{}, nil
	}
	box, err := cryptobox.LoadRSABox(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key failed: %w", err)
	}
	return box, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IndexWorker != nil {
		a.IndexWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if err := sqldb.Close(a.VectorDB); err != nil {
		closeErr = err
	}
	if err := sqldb.Close(a.DB); err != nil {
		closeErr = err
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			closeErr = err
		}
	}
	a.Log.Sync()
	return closeErr
}
