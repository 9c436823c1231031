package source

import (
	"context"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

// CodePrompt asks the operator for the login code sent by Telegram.
type CodePrompt func(ctx context.Context) (string, error)

type AuthOptions struct {
	AppID       int
	AppHash     string
	SessionPath string
	Phone       string

	// Password is the two-step verification password, if enabled
	Password string
}

// Authorize logs the user account in and stores the session at
// opts.SessionPath. An already authorized session is left untouched.
func Authorize(ctx context.Context, log logger.Logger, opts AuthOptions, prompt CodePrompt) error {
	client := telegram.NewClient(opts.AppID, opts.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionPath},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.Constant(
				opts.Phone,
				opts.Password,
				auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
					log.Info("login code has been sent")
					return prompt(ctx)
				}),
			),
			auth.SendCodeOptions{},
		)

		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("authorizing: %w", err)
		}

		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("getting self: %w", err)
		}

		log.Info("session authorized", "user_id", self.ID, "username", self.Username, "session", opts.SessionPath)

		return nil
	})
}
