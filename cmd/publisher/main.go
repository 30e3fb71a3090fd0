// Package main: publisher service.
//
// The publisher serves the enqueue API and submits the queued requests to the chain while the provider has capacity
// left. Jobs left active by a previous run are put back in the queue before the workers start.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/capacity"
	"github.com/tarancss/capgw/gateway"
	"github.com/tarancss/capgw/lib/chain"
	"github.com/tarancss/capgw/lib/config"
	"github.com/tarancss/capgw/lib/logger"
	"github.com/tarancss/capgw/lib/queue"
	"github.com/tarancss/capgw/lib/store/db"
	"github.com/tarancss/capgw/lib/store/redis"
	"github.com/tarancss/capgw/lib/timers"
	"github.com/tarancss/capgw/publisher"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		log.Fatal(err)
	}

	if err = conf.Validate(); err != nil {
		log.Fatal(err)
	}

	lg, err := logger.New(conf.LogLevel, conf.LogFile)
	if err != nil {
		log.Fatal(err)
	}

	defer func() { _ = lg.Sync() }()

	lg = lg.With(zap.String("service", "publisher"))
	lg.Info("configuration loaded", zap.Any("config", conf))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// connect to the shared store
	kv, err := redis.New(conf.RedisURL)
	if err != nil {
		lg.Fatal("cannot connect to redis", zap.Error(err))
	}

	defer kv.CloseRedis()

	// connect to database
	dbConn, err := db.New(conf.DbType, conf.DbConn)
	if err != nil {
		lg.Fatal("cannot connect to database", zap.String("dbtype", conf.DbType), zap.Error(err))
	}

	defer func() {
		err := db.Close(conf.DbType, dbConn)
		lg.Info("database disconnected", zap.Error(err))
	}()

	// connect to the chain
	c, err := chain.Init(ctx, conf.Chain, lg)
	if err != nil {
		lg.Fatal("cannot connect to chain", zap.Error(err))
	}

	defer c.Close()

	// load Prometheus monitor
	if *monitor {
		go serveMetrics(conf.MetricsPort, lg)
	}

	q := queue.NewRedis(kv.Client(), conf.Queue.Name, queue.Options{
		Attempts: conf.Queue.Attempts,
		Backoff:  time.Duration(conf.Queue.BackoffMs) * time.Millisecond,
	})

	n, err := q.Recover(ctx)
	if err != nil {
		lg.Fatal("cannot recover active jobs", zap.Error(err))
	}

	lg.Info("jobs recovered", zap.Int("jobs", n))

	acct := capacity.New(conf.ProviderID, c, kv, conf.Capacity, lg)
	p := publisher.New(conf.ProviderID, q, c, acct, dbConn, timers.New(), publisher.Options{
		Concurrency:   conf.Queue.Concurrency,
		NonceDelay:    time.Duration(conf.Queue.NonceDelayMs) * time.Millisecond,
		CheckInterval: time.Duration(conf.Capacity.CheckIntervalMs) * time.Millisecond,
	}, lg)

	if err = p.Start(ctx); err != nil {
		lg.Fatal("cannot start publisher", zap.Error(err))
	}

	// init RESTful API
	g := gateway.New(q, lg)

	if conf.Port != "" {
		go func() {
			if err := g.Init(conf.RestfulEndpoint, conf.Port); err != nil {
				lg.Error("API server stopped", zap.Error(err))
			}
		}()
	}

	// wait for SIGINT or SIGTERM and do last actions
	<-ctx.Done()
	lg.Info("shutting down")

	if conf.Port != "" {
		g.Stop()
	}

	p.Stop()
}

func serveMetrics(port string, lg *zap.Logger) {
	lg.Info("serving metrics API", zap.String("port", port))

	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: ":" + port, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		lg.Error("metrics API stopped", zap.Error(err))
	}
}
