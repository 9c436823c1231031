package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"nuclight.org/relay-tg-bot/app/media"
	"nuclight.org/relay-tg-bot/app/metrics"
	"nuclight.org/relay-tg-bot/app/relay"
	"nuclight.org/relay-tg-bot/app/source"
	"nuclight.org/relay-tg-bot/app/storage"
	"nuclight.org/relay-tg-bot/app/subscriptions"
	"nuclight.org/relay-tg-bot/app/telegram"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

var opts struct {
	TelegramAPIToken   string `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram bot api token"`
	TelegramWorkersNum int    `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`
	DBPath             string `long:"db-path" env:"DB_PATH" default:"./db/relay.sqlite" description:"path to the sqlite database file"`

	APIID       int    `long:"api-id" env:"API_ID" required:"true" description:"mtproto application id"`
	APIHash     string `long:"api-hash" env:"API_HASH" required:"true" description:"mtproto application hash"`
	SessionPath string `long:"session-path" env:"SESSION_PATH" default:"./db/session.json" description:"path to the mtproto session file"`

	DownloadTimeout time.Duration `long:"download-timeout" env:"DOWNLOAD_TIMEOUT" default:"5m" description:"timeout of a single media download attempt"`
	MaxRetries      int           `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"media download attempts"`
	RetryDelay      time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"60s" description:"pause between media download attempts"`
	MediaDelay      time.Duration `long:"media-delay" env:"MEDIA_DELAY" default:"1s" description:"pause between media downloads of one post"`
	CheckInterval   time.Duration `long:"check-interval" env:"CHECK_INTERVAL" default:"60s" description:"monitored channels refresh interval"`

	DispatchWorkers  int     `long:"dispatch-workers" env:"DISPATCH_WORKERS" default:"4" description:"number of posts processed concurrently"`
	DeliveryWorkers  int     `long:"delivery-workers" env:"DELIVERY_WORKERS" default:"3" description:"number of subscribers served concurrently for one post"`
	SendRate         float64 `long:"send-rate" env:"SEND_RATE" default:"20" description:"outbound bot api calls per second"`
	MaxSubscriptions int     `long:"max-subscriptions" env:"MAX_SUBSCRIPTIONS" default:"10" description:"subscriptions limit per user"`

	SentryDSN     string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, errors are reported when set"`
	MetricsListen string `long:"metrics-listen" env:"METRICS_LISTEN" description:"address to serve prometheus metrics on, disabled when empty"`
	Debug         bool   `long:"debug" env:"DEBUG" description:"enable debug logging"`
}

var Revision = "dev"

func main() {
	_ = godotenv.Load()

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	logOpts := logger.Options{Debug: opts.Debug}
	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:     opts.SentryDSN,
			Release: Revision,
		})
		if err != nil {
			logger.New(logOpts).Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)

		logOpts.Sentry = sentry.CurrentHub()
	}

	log := logger.New(logOpts)
	log.Info("starting relay bot", "revision", Revision)

	if err := run(log); err != nil {
		log.Error("relay bot stopped", "error", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(log logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	stats := metrics.New()
	if opts.MetricsListen != "" {
		go func() {
			if err := stats.Serve(ctx, opts.MetricsListen); err != nil {
				log.Error("serving metrics", "error", err)
			}
		}()
	}

	src := &source.Client{
		Log:         log.With("component", "source"),
		AppID:       opts.APIID,
		AppHash:     opts.APIHash,
		SessionPath: opts.SessionPath,
	}

	fetcher := &media.Fetcher{
		Log:        log.With("component", "fetcher"),
		Backend:    src,
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
		Timeout:    opts.DownloadTimeout,
		Observer:   stats,
	}

	sink := &relay.Sink{
		Limiter: rate.NewLimiter(rate.Limit(opts.SendRate), max(int(opts.SendRate), 1)),
	}

	dispatcher := &relay.Dispatcher{
		Log:             log.With("component", "dispatcher"),
		Store:           db,
		Fetcher:         fetcher,
		Sink:            sink,
		Observer:        stats,
		Workers:         opts.DispatchWorkers,
		DeliveryWorkers: opts.DeliveryWorkers,
		QueueSize:       opts.DispatchWorkers * 16,
		MediaDelay:      opts.MediaDelay,
	}

	registry := &relay.Registry{
		Log:        log.With("component", "registry"),
		Store:      db,
		Source:     src,
		Dispatcher: dispatcher,
		Observer:   stats,
	}

	service := &subscriptions.Service{
		Log:              log.With("component", "subscriptions"),
		Store:            db,
		Resolver:         src,
		Registry:         registry,
		MaxSubscriptions: opts.MaxSubscriptions,
	}

	bot := &telegram.Client{
		Log:              log.With("component", "bot"),
		APIToken:         opts.TelegramAPIToken,
		WorkersNum:       opts.TelegramWorkersNum,
		Service:          service,
		MaxSubscriptions: opts.MaxSubscriptions,
	}

	err = bot.Connect()
	if err != nil {
		return err
	}

	sink.Transport = bot.Sender()

	err = dispatcher.Start(ctx)
	if err != nil {
		return err
	}

	err = registry.Refresh(ctx)
	if err != nil {
		return err
	}

	err = src.Start(ctx)
	if err != nil {
		return err
	}

	err = bot.Start(ctx)
	if err != nil {
		return err
	}

	go registry.Run(ctx, opts.CheckInterval)

	<-ctx.Done()
	log.Info("stopping relay bot")

	src.Wait()
	bot.Wait()
	dispatcher.Wait()

	return nil
}
