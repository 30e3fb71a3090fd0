// Package main: scanner service.
//
// The scanner walks the chain from its persisted cursor. It publishes the configured events to the message broker,
// records the capacity used by transactions submitted by the publisher and enqueues the follow-on requests carried
// by chain events into the publisher queue.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/capacity"
	"github.com/tarancss/capgw/gateway"
	"github.com/tarancss/capgw/lib/chain"
	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/config"
	"github.com/tarancss/capgw/lib/logger"
	"github.com/tarancss/capgw/lib/msg"
	"github.com/tarancss/capgw/lib/msg/amqp"
	"github.com/tarancss/capgw/lib/queue"
	"github.com/tarancss/capgw/lib/store/db"
	"github.com/tarancss/capgw/lib/store/redis"
	"github.com/tarancss/capgw/scanner"
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

	lg = lg.With(zap.String("service", "scanner"), zap.String("scanner", conf.Scanner.ID))
	lg.Info("configuration loaded", zap.Any("config", conf))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	opts := scanner.Options{
		TrustUnfinalized: conf.Scanner.TrustUnfinalized,
		BlocksPerSecond:  conf.Scanner.BlocksPerSecond,
		Backlog:          q,
		HighWater:        conf.Scanner.HighWater,
		LowWaterFraction: conf.Scanner.LowWaterFraction,
	}
	if len(conf.Scanner.EnqueueEvents) > 0 {
		opts.Processor = gateway.NewEventEnqueuer(gateway.New(q, lg), conf.Scanner.EnqueueEvents, lg)
	}

	s := scanner.New(conf.Scanner.ID, c, kv, opts, lg)

	// record the capacity used by this service
	acct := capacity.New(conf.ProviderID, c, kv, conf.Capacity, lg)
	s.Register(capacity.WithdrawnEvent, acct.UsageHandler(dbConn))

	// load message broker
	switch conf.MbType {
	case "amqp":
		mb, err := amqp.New(conf.MbConn, lg)
		if err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn, lg); err != nil {
				lg.Fatal("cannot connect to message broker", zap.Error(err))
			}
		}

		if err = mb.Setup(); err != nil {
			lg.Fatal("cannot set up message broker", zap.Error(err))
		}

		defer func() {
			err := mb.Close()
			lg.Info("message broker closed", zap.Error(err))
		}()

		notify(s, mb, conf.Scanner.NotifyEvents)
	default:
		lg.Warn("unknown message broker type, events are not published", zap.String("mbtype", conf.MbType))
	}

	// scan until SIGINT or SIGTERM, stopping at the next block boundary
	s.Run(ctx, time.Duration(conf.Scanner.IntervalMs)*time.Millisecond)
}

// notify registers a handler publishing the events named in events.
func notify(s *scanner.Scanner, n msg.Notifier, events []string) {
	for _, name := range events {
		s.Register(name, func(_ context.Context, _ types.Block, evs []types.Event) error {
			return n.SendEvents(s.ID(), evs)
		})
	}
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
