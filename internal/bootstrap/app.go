package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Chandra1295/multi-modal-rag/internal/ai"
	appsvc "github.com/Chandra1295/multi-modal-rag/internal/app"
	"github.com/Chandra1295/multi-modal-rag/internal/cache"
	"github.com/Chandra1295/multi-modal-rag/internal/config"
	"github.com/Chandra1295/multi-modal-rag/internal/extractor"
	"github.com/Chandra1295/multi-modal-rag/internal/identity"
	"github.com/Chandra1295/multi-modal-rag/internal/metrics"
	"github.com/Chandra1295/multi-modal-rag/internal/model"
	mysqlClient "github.com/Chandra1295/multi-modal-rag/internal/platform/mysql"
	rabbitmqClient "github.com/Chandra1295/multi-modal-rag/internal/platform/rabbitmq"
	redisClient "github.com/Chandra1295/multi-modal-rag/internal/platform/redis"
	"github.com/Chandra1295/multi-modal-rag/internal/repository"
	"github.com/Chandra1295/multi-modal-rag/internal/vectorindex"
	"github.com/Chandra1295/multi-modal-rag/internal/worker"
)

type App struct {
	Config        *config.Config
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	RecordWorker  *worker.RecordPersistWorker
	IdentityStore *identity.Store
	Monitor       *metrics.Monitor
	Assistant     *appsvc.AssistantService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.ChatRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	identityStore, err := identity.Open(ctx, cfg.Identity.DBPath)
	if err != nil {
		return nil, err
	}
	userID, err := identityStore.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("user identity: %s", userID)

	monitor := metrics.NewMonitor()
	sweepTempDir(cfg.Upload.TempDir, monitor)

	llmClient := ai.NewOpenAICompatibleClient()
	embedder := ai.NewBoundEmbedder(llmClient, ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})

	// The index is rebuilt from scratch on every start; only conversation
	// history is durable.
	index, err := vectorindex.New(ctx, embedder)
	if err != nil {
		return nil, err
	}

	recordRepo := repository.NewChatRecordRepository(mysqlDB)
	recordWorker := worker.NewRecordPersistWorker(mqConn, recordRepo, cfg.RabbitMQ.RecordPersistQueue)
	if err := recordWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start record worker failed: %w", err)
	}

	publisher := rabbitmqClient.NewRecordPublisher(mqConn, cfg.RabbitMQ.RecordPersistQueue)
	historyCache := cache.NewHistoryCache(
		redisCli,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	generator := appsvc.NewAnswerGenerator(
		llmClient,
		ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		},
		cfg.LLM.MaxContextChars,
		time.Duration(cfg.LLM.GenerateTimeoutS)*time.Second,
	)

	assistant := appsvc.NewAssistantService(
		userID,
		index,
		extractor.New(),
		generator,
		recordRepo,
		publisher,
		historyCache,
		monitor,
		cfg.Upload.TempDir,
		appsvc.SessionConfig{
			ResultCount:    cfg.Retrieval.ResultCount,
			SearchStrategy: cfg.Retrieval.SearchStrategy,
			ScoreThreshold: cfg.Retrieval.ScoreThreshold,
			Temperature:    cfg.LLM.Temperature,
		},
	)

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		RecordWorker:  recordWorker,
		IdentityStore: identityStore,
		Monitor:       monitor,
		Assistant:     assistant,
		StartedAt:     time.Now(),
	}, nil
}

// sweepTempDir removes upload leftovers from a previous run and reports the
// freed bytes.
func sweepTempDir(dir string, monitor *metrics.Monitor) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var freed int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			freed += info.Size()
		}
		if err := os.Remove(path); err != nil {
			log.Printf("remove leftover temp file %s failed: %v", path, err)
		}
	}
	if freed > 0 {
		monitor.LogCleanup(freed)
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.RecordWorker != nil {
		a.RecordWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.IdentityStore != nil {
		if err := a.IdentityStore.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
