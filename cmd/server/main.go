package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/cache"
	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/config"
	"github.com/Fahm-Gah/hesarak-backend/internal/database"
	"github.com/Fahm-Gah/hesarak-backend/internal/handler"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/middleware"
	"github.com/Fahm-Gah/hesarak-backend/internal/queue"
	"github.com/Fahm-Gah/hesarak-backend/internal/repository"
	"github.com/Fahm-Gah/hesarak-backend/internal/router"
	"github.com/Fahm-Gah/hesarak-backend/internal/ticketpdf"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := database.Open(cfg.DSNParts())
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
	}

	store := repository.NewStore(db)

	// Redis backs the inventory cache and the rate limiter.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable, running without cache and rate limiting")
	} else {
		defer rdb.Close()
	}
	inv := cache.NewInventory(store, rdb, config.LoadCacheConfig(), log)

	notify := config.LoadNotifyConfig()
	pub := newPublisher(notify, log)
	defer pub.Close()
	if notify.Broker == config.BrokerRabbitMQ && notify.RunConsumer {
		consumer := queue.NewConsumer(notify.RabbitURL, notify.Queue, queue.LogMailer{Log: log}, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("ticket consumer stopped", "error", err)
			}
		}()
	}

	svc := booking.NewService(store, inv, pub, log, booking.Config{
		PaymentWindow: cfg.PaymentWindow,
		Location:      calendar.LoadZone(cfg.Timezone),
	})

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	auth := middleware.JWTAuth(cfg.JWTSecret, log)
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, store.UserRepo, log), auth)
	router.RegisterTrips(e, handler.NewTripHandler(svc, log), cfg.JWTSecret)
	router.RegisterTickets(e, handler.NewTicketHandler(svc, ticketpdf.Render, log), auth, limit)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	svc.Drain()
}

// newPublisher picks the ticket event sink named by NOTIFY_BROKER.  An
// unreachable Kafka cluster at startup leaves events disabled.
func newPublisher(cfg config.NotifyConfig, log *logger.Logger) queue.Publisher {
	switch cfg.Broker {
	case config.BrokerRabbitMQ:
		return queue.NewRabbitPublisher(cfg.RabbitURL, cfg.Queue, log)
	case config.BrokerKafka:
		p, err := queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka producer unavailable, ticket events disabled", "error", err)
			return queue.NopPublisher{}
		}
		return p
	default:
		return queue.NopPublisher{}
	}
}
