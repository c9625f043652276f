package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/chain"
	"github.com/WoPay/WoPay-Gateway/services/collection"
	"github.com/WoPay/WoPay-Gateway/services/custody"
	"github.com/WoPay/WoPay-Gateway/services/merchant"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/tasks"
	"github.com/WoPay/WoPay-Gateway/services/payment"
	"github.com/WoPay/WoPay-Gateway/services/tracker"
	"github.com/WoPay/WoPay-Gateway/services/webhook"
	"github.com/WoPay/WoPay-Gateway/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	router    *gin.Engine
	store     *store.Store
	config    *utils.Config
	logger    *logging.Logger
	scheduler *tasks.TaskScheduler

	chain     *chain.Client
	merchants *merchant.Service
	payments  *payment.Service
	webhooks  *webhook.Service
	tracker   *tracker.Tracker
	collector *collection.Service
	custodian *custody.Custodian
}

func NewServer(envPath string) *Server {
	c, err := utils.LoadConfig(envPath)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	conn, err := sql.Open(c.DBDriver, utils.GetDBSource(c, c.DBName))
	if err != nil {
		panic(fmt.Sprintf("Could not load DB: %v", err))
	}

	m, err := migrate.New(
		"file://db/migrations",
		utils.GetDBSource(c, c.DBName),
	)
	if err != nil {
		log.Fatalf("Unable to instantiate the database schema migrator - %v", err)
	}

	if err := m.Up(); err != nil {
		if err != migrate.ErrNoChange {
			log.Fatalf("Unable to migrate up to the latest database schema - %v", err)
		}
	}

	st := store.NewStore(conn)
	g := gin.Default()
	l := logging.NewLogger()
	l.WithField("config", fmt.Sprintf("%+v", c.Redact())).Info("Configuration loaded")
	scheduler := tasks.NewTaskScheduler(l)

	var rdb *redis.Client
	if c.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort),
			Password: c.RedisPassword,
		})
	}

	chainClient, err := chain.Dial(context.Background(), c, l)
	if err != nil {
		log.Fatalf("Unable to connect to the blockchain node - %v", err)
	}

	keystore := custody.NewKeystore(c.KeyEncryptionSecret, chainClient.ChainID())
	custodian, err := custody.NewCustodian(c.MasterPrivateKey, c.TreasuryAddress, st, keystore, chainClient, l)
	if err != nil {
		log.Fatalf("Unable to initialise the wallet custodian - %v", err)
	}

	merchants := merchant.NewMerchantService(st, rdb, l)
	webhooks := webhook.NewWebhookService(st, merchants, c.WebhookMaxRetries, c.WebhookTimeout, l)
	payments := payment.NewPaymentService(st, custodian, webhooks, chainClient.ChainID(), l)
	trk := tracker.NewTracker(chainClient, payments, st, scheduler, c.ListenerInterval, l)
	payments.SetWatcher(trk)
	collector := collection.NewCollectionService(st, custodian, l)

	g.Use(CORSMiddleware())
	g.Use(l.LoggingMiddleWare())

	return &Server{
		router:    g,
		store:     st,
		config:    c,
		logger:    l,
		scheduler: scheduler,
		chain:     chainClient,
		merchants: merchants,
		payments:  payments,
		webhooks:  webhooks,
		tracker:   trk,
		collector: collector,
		custodian: custodian,
	}
}

func (s *Server) Start() {

	dr := basemodels.SuccessResponse{
		Status:  "success",
		Message: "Welcome to WoPay!",
		Version: utils.REVISION,
	}

	s.router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, dr)
	})
	s.router.GET("/health", s.healthCheck)

	/// Register Object Routers Below
	Merchants{}.router(s)
	Payments{}.router(s)
	Webhooks{}.router(s)
	Wallets{}.router(s)
	Status{}.router(s)

	s.startBackgroundTasks()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%v", s.config.ServerPort),
		Handler: s.router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	s.logger.Info(fmt.Sprintf("Server listening on port %v", s.config.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	s.logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("HTTP server shutdown failed")
	}

	taskCtx, taskCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer taskCancel()
	if err := s.scheduler.Shutdown(taskCtx); err != nil {
		s.logger.WithError(err).Error("Background tasks did not stop cleanly")
	}
	s.logger.Info("Server stopped")
}

// startBackgroundTasks registers the recurring passes that drive payments,
// webhooks and collection, and resumes watchers for in-flight payments.
func (s *Server) startBackgroundTasks() {
	listenerInterval := time.Duration(s.config.ListenerInterval) * time.Second

	register := func(id, name string, fn func(context.Context) error, interval time.Duration) {
		if _, err := s.scheduler.AddTask(id, name, fn, interval); err != nil {
			log.Fatalf("Unable to register task %s - %v", id, err)
		}
		if err := s.scheduler.ScheduleTask(id, interval); err != nil {
			log.Fatalf("Unable to schedule task %s - %v", id, err)
		}
	}

	register("confirmation-pass", "Advance confirmed payments", func(ctx context.Context) error {
		_, err := s.tracker.UpdateConfirmations(ctx)
		return err
	}, listenerInterval)

	register("payment-expiry", "Expire overdue payments", func(ctx context.Context) error {
		_, err := s.payments.MarkExpired(ctx)
		return err
	}, time.Minute)

	register("webhook-retries", "Redeliver due webhooks", func(ctx context.Context) error {
		_, err := s.webhooks.ProcessDueRetries(ctx)
		return err
	}, listenerInterval)

	register("collection-tick", "Collection cycle gate", func(ctx context.Context) error {
		s.collector.Tick(ctx)
		return nil
	}, time.Minute)

	register("webhook-cleanup", "Prune settled webhook logs", func(ctx context.Context) error {
		_, err := s.webhooks.CleanupOld(ctx, 30*24*time.Hour)
		return err
	}, 24*time.Hour)

	s.scheduler.Go("resume-watchers", func(ctx context.Context) error {
		return s.tracker.ResumeWatchers(ctx)
	})
}

func (s *Server) healthCheck(ctx *gin.Context) {
	if err := s.store.DB.PingContext(ctx); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, basemodels.NewError("database unreachable"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("healthy", nil))
}
