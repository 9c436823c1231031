package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/relay-tg-bot/app/storage"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

var opts struct {
	DBPath string `long:"db-path" env:"DB_PATH" default:"./db/relay.sqlite" description:"path to the sqlite database file"`
	UserID int64  `long:"user" description:"show subscriptions of this chat id instead of monitored channels"`
}

func main() {
	_ = godotenv.Load()

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	if opts.UserID != 0 {
		err = showUser(ctx, log, db, opts.UserID)
	} else {
		err = showChannels(ctx, log, db)
	}
	if err != nil {
		log.Error("inspecting database", "error", err)
		os.Exit(1)
	}
}

func showChannels(ctx context.Context, log logger.Logger, db *storage.SQLite) error {
	channels, err := db.ListActiveChannels(ctx)
	if err != nil {
		return err
	}

	log.Info("monitored channels", "count", len(channels))

	for _, ch := range channels {
		subs, err := db.ListSubscribers(ctx, ch.ID)
		if err != nil {
			return err
		}

		log.Info("channel", "channel_id", ch.ID, "name", ch.Name, "link", ch.Link, "subscribers", len(subs))
		for _, sub := range subs {
			log.Info("  subscriber", "user_id", sub.UserID, "last_post_id", sub.LastPostID, "added_at", sub.AddedAt)
		}
	}

	return nil
}

func showUser(ctx context.Context, log logger.Logger, db *storage.SQLite, userID int64) error {
	user, err := db.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	subs, err := db.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return err
	}

	log.Info("user", "chat_id", user.ChatID, "name", user.DisplayName, "first_seen", user.FirstSeen, "last_active", user.LastActive, "subscriptions", len(subs))
	for i, sub := range subs {
		log.Info("  subscription", "n", i+1, "channel_id", sub.ChannelID, "name", sub.ChannelName, "link", sub.ChannelLink, "last_post_id", sub.LastPostID)
	}

	return nil
}
