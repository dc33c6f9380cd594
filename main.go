// Command order-service starts the order HTTP API and the person event
// ingestor.
//
// Orders embed sold-to, bill-to and ship-to persons owned by an external
// person directory. Order writes fetch those persons and store snapshots next
// to the order; person change and delete notifications read from a Redis
// stream repair the snapshots afterwards.
//
// Run with:
//
//	go run .
//
// Configuration comes from the environment, see package config. Leaving
// REDIS_ADDR unset runs the HTTP API without the ingestor.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/arkantrust/order-service/config"
	"github.com/arkantrust/order-service/directory"
	"github.com/arkantrust/order-service/events"
	"github.com/arkantrust/order-service/handlers"
	"github.com/arkantrust/order-service/logger"
	"github.com/arkantrust/order-service/service"
	"github.com/arkantrust/order-service/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}

	err = run(cfg, log)
	log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	s, err := store.New(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DBPath, "error", err)
		return err
	}
	defer s.Close()

	persons := directory.New("http://"+cfg.ContractAPI, cfg.PersonFetchTimeout)
	orders := service.NewOrderService(s, persons, log)

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handlers.New(orders, log), log, cfg.CORSAllowOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		defer rdb.Close()

		ingestor := events.NewIngestor(rdb, orders, log, events.Options{
			Stream:     cfg.EventsStream,
			Group:      cfg.EventsGroup,
			Consumer:   cfg.EventsConsumer,
			DeadLetter: cfg.EventsDeadLetter,
		})
		g.Go(func() error { return ingestor.Run(gctx) })
	} else {
		log.Warn("REDIS_ADDR not set, person events are not consumed")
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	log.Info("shut down")
	return nil
}
