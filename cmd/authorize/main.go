package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/relay-tg-bot/app/source"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

var opts struct {
	APIID       int    `long:"api-id" env:"API_ID" required:"true" description:"mtproto application id"`
	APIHash     string `long:"api-hash" env:"API_HASH" required:"true" description:"mtproto application hash"`
	SessionPath string `long:"session-path" env:"SESSION_PATH" default:"./db/session.json" description:"path to the mtproto session file"`
	Phone       string `long:"phone" env:"PHONE" required:"true" description:"phone number of the relay account"`
	Password    string `long:"password" env:"PASSWORD" description:"two-step verification password"`
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

	err = source.Authorize(ctx, log, source.AuthOptions{
		AppID:       opts.APIID,
		AppHash:     opts.APIHash,
		SessionPath: opts.SessionPath,
		Phone:       opts.Phone,
		Password:    opts.Password,
	}, promptCode)
	if err != nil {
		log.Error("authorizing", "error", err)
		os.Exit(1)
	}
}

func promptCode(ctx context.Context) (string, error) {
	fmt.Print("Enter the code: ")

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			errCh <- fmt.Errorf("reading code: %w", err)
			return
		}
		codeCh <- strings.TrimSpace(code)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}
