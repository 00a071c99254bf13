package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matchd/api/httpapi"
	"matchd/api/ws"
	"matchd/domain/orderbook"
	"matchd/infra/config"
	"matchd/infra/kafka"
	"matchd/infra/logging"
	"matchd/infra/outbox"
	"matchd/infra/sequence"
	"matchd/infra/ticker"
	"matchd/jobs/broadcaster"
	"matchd/jobs/feed"
	"matchd/service"
)

func main() {
	// ---------------- Config ----------------

	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := logging.New(cfg.Log)
	defer logger.Sync()

	// ---------------- Domain ----------------

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		logger.Fatal("invalid market timezone", zap.Error(err))
	}
	book := orderbook.NewAt(logger, cfg.Market.CloseHour, loc)
	defer book.Close()

	seqGen := sequence.New(0)

	// ---------------- Outbox ----------------

	ob, err := outbox.Open(cfg.Outbox.Dir, logger)
	if err != nil {
		logger.Fatal("outbox init failed", zap.Error(err))
	}
	defer ob.Close()

	// ---------------- Fan-out ----------------

	hub := ws.NewHub(logger)
	defer hub.Close()

	var tickStore *ticker.Store
	var tickSink service.TickerStore
	if cfg.Redis.Addr != "" {
		tickStore = ticker.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer tickStore.Close()
		tickSink = tickStore
	}

	// ---------------- Service ----------------

	svc := service.NewOrderService(logger, book, seqGen, ob, hub, tickSink)

	// ---------------- Background Jobs ----------------

	if cfg.Kafka.Enabled {
		pub, err := broadcaster.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic)
		if err != nil {
			logger.Fatal("kafka producer init failed", zap.Error(err))
		}
		bc := broadcaster.New(logger, ob, pub, cfg.Outbox.ReplayInterval, cfg.Outbox.ReplayBatch)
		bc.Start()
		defer bc.Close()
	}

	var depthPub feed.Publisher
	if cfg.Kafka.Enabled {
		kp := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.DepthTopic, logger)
		defer kp.Close()
		depthPub = kp
	}
	fd := feed.New(logger, book, depthPub, hub, cfg.Feed.Interval)
	fd.Start()
	defer fd.Close()

	// ---------------- HTTP ----------------

	tickSize, err := decimal.NewFromString(cfg.Market.TickSize)
	if err != nil {
		logger.Fatal("invalid tick size", zap.Error(err))
	}
	api := httpapi.NewServer(logger, svc, hub, tickStore, tickSize)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server exited", zap.Error(err))
		}
	}()

	fmt.Println("🚀 matchd engine running on", cfg.Server.Addr)
	logger.Info("engine started",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("close_hour", cfg.Market.CloseHour),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("ticker", tickStore != nil))

	// ---------------- Shutdown ----------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
}
