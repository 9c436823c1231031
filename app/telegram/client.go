package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/relay-tg-bot/app/subscriptions"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

type SubscriptionService interface {
	Touch(ctx context.Context, chatID int64, displayName string) error
	Subscribe(ctx context.Context, chatID int64, link subscriptions.Link) (e.Channel, error)
	List(ctx context.Context, chatID int64) ([]e.UserSubscription, error)
	Unsubscribe(ctx context.Context, chatID int64, n int) (e.UserSubscription, error)
}

// Client is the bot side: it serves user commands in private chats and
// provides the Sender used to relay posts.
type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	Service    SubscriptionService

	// MaxSubscriptions is only shown in the help text
	MaxSubscriptions int

	bot    botAPI
	sender *Sender
	wg     sync.WaitGroup
}

// Connect creates the Bot API client. The Sender is usable afterwards, user
// updates are served only after Start.
func (c *Client) Connect() error {
	bot, err := tgbotapi.NewBotAPI(c.APIToken)
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	c.bot = bot
	c.sender = NewSender(bot)

	c.Log.Info("bot api created", "username", bot.Self.UserName)

	return nil
}

func (c *Client) Start(ctx context.Context) error {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	if c.bot == nil {
		if err := c.Connect(); err != nil {
			return err
		}
	}

	bot, ok := c.bot.(*tgbotapi.BotAPI)
	if !ok {
		return fmt.Errorf("bot api is not connected")
	}

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60
	updatesConf.AllowedUpdates = []string{"message"}

	updatesChan := bot.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()

	return nil
}

// Sender returns the outbound transport, available after Connect.
func (c *Client) Sender() *Sender {
	return c.sender
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updatesChan:
			if !ok {
				return
			}
			err := c.handleUpdate(ctx, update)
			if err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) (err error) {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if update.Message == nil {
		log.Debug("not a message")
		return nil
	}

	if update.Message.From == nil {
		log.Warn("message from is nil")
		return nil
	}

	if update.Message.Chat == nil {
		log.Warn("message chat is nil")
		return nil
	}

	if !update.Message.Chat.IsPrivate() {
		log.Debug("message is not private", "tg_chat_id", update.Message.Chat.ID)
		return nil
	}

	chatID := update.Message.Chat.ID

	log = log.With(
		"tg_user_id", update.Message.From.ID,
		"tg_user_nick", update.Message.From.UserName,
		"tg_chat_id", chatID,
	)

	if err := c.Service.Touch(ctx, chatID, takeUserName(update.Message.From)); err != nil {
		log.Error("saving user", "error", err)
	}

	text := strings.TrimSpace(update.Message.Text)

	if cmd, ok := parseCommand(text); ok {
		log.Info("command received", "command", cmd)
		return c.handleCommand(ctx, chatID, cmd)
	}

	log.Info("new message", "text", text)

	return c.handleLinks(ctx, chatID, text)
}

func (c *Client) handleCommand(ctx context.Context, chatID int64, cmd string) error {
	switch cmd {
	case "start", "help":
		return c.reply(chatID, helpText(c.MaxSubscriptions))
	case "list":
		return c.replyList(ctx, chatID)
	case "delete":
		return c.replyDeleteMenu(ctx, chatID)
	}

	if n, err := strconv.Atoi(cmd); err == nil {
		return c.unsubscribe(ctx, chatID, n)
	}

	return c.reply(chatID, "Unknown command. Send /start to see what I can do.")
}

func (c *Client) handleLinks(ctx context.Context, chatID int64, text string) error {
	links, invalid := subscriptions.ExtractLinks(text)

	for _, raw := range invalid {
		if err := c.reply(chatID, fmt.Sprintf("❌ %s is not a valid channel link.", raw)); err != nil {
			return err
		}
	}

	if len(links) == 0 {
		if len(invalid) > 0 {
			return nil
		}
		return c.reply(chatID, "Please send a channel link like @channel_name or https://t.me/channel_name.")
	}

	if err := c.reply(chatID, "🔄 Connecting to the channel..."); err != nil {
		return err
	}

	for _, link := range links {
		ch, err := c.Service.Subscribe(ctx, chatID, link)

		var text string
		switch {
		case err == nil:
			text = fmt.Sprintf("✅ You are subscribed to %s.\n\nNew posts from this channel will be forwarded to you as they appear.", ch.Name)
		case errors.Is(err, e.ErrSubscriptionLimit):
			text = "You have reached the limit of subscriptions. Remove some with /delete before adding new ones."
		case errors.Is(err, e.ErrUnknownChannel):
			text = fmt.Sprintf("❌ Channel %s was not found.", link)
		default:
			c.Log.Error("subscribing", "tg_chat_id", chatID, "link", link.String(), "error", err)
			text = fmt.Sprintf("❌ Could not subscribe to %s, please try again later.", link)
		}

		if err := c.reply(chatID, text); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) replyList(ctx context.Context, chatID int64) error {
	subs, err := c.Service.List(ctx, chatID)
	if err != nil {
		_ = c.reply(chatID, "Could not load your subscriptions, please try again later.")
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return c.reply(chatID, "You have no subscriptions yet.")
	}

	var sb strings.Builder
	sb.WriteString("Your subscriptions:\n\n")
	for i, sub := range subs {
		fmt.Fprintf(&sb, "%d. %s\n🔗 %s\n📅 Added %s\n\n", i+1, sub.ChannelName, sub.ChannelLink, sub.AddedAt.Format("2006-01-02 15:04"))
	}

	return c.reply(chatID, sb.String())
}

func (c *Client) replyDeleteMenu(ctx context.Context, chatID int64) error {
	subs, err := c.Service.List(ctx, chatID)
	if err != nil {
		_ = c.reply(chatID, "Could not load your subscriptions, please try again later.")
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return c.reply(chatID, "You have no subscriptions to remove.")
	}

	var sb strings.Builder
	sb.WriteString("Choose a channel to remove:\n\n")
	for i, sub := range subs {
		fmt.Fprintf(&sb, "/%d - %s\n", i+1, sub.ChannelName)
	}

	return c.reply(chatID, sb.String())
}

func (c *Client) unsubscribe(ctx context.Context, chatID int64, n int) error {
	sub, err := c.Service.Unsubscribe(ctx, chatID, n)
	if errors.Is(err, e.ErrNotFound) {
		return c.reply(chatID, "Wrong channel number.")
	}
	if err != nil {
		_ = c.reply(chatID, "Could not remove the subscription, please try again later.")
		return fmt.Errorf("unsubscribing: %w", err)
	}

	return c.reply(chatID, fmt.Sprintf("✅ Subscription to %s removed.", sub.ChannelName))
}

func (c *Client) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true

	_, err := c.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("replying: %w", err)
	}
	return nil
}

func helpText(limit int) string {
	if limit <= 0 {
		limit = subscriptions.DefaultMaxSubscriptions
	}

	return "Hi! I forward new posts from Telegram channels to you.\n\n" +
		"Send me a channel link:\n" +
		"  @channel_name\n" +
		"  https://t.me/channel_name\n" +
		"  https://t.me/+invite_hash\n\n" +
		fmt.Sprintf("📌 You can have up to %d subscriptions.\n\n", limit) +
		"Commands:\n" +
		"/start - show this message\n" +
		"/list - list your subscriptions\n" +
		"/delete - remove a subscription"
}

// parseCommand extracts the command name from "/name@bot args".
func parseCommand(text string) (string, bool) {
	rest, ok := strings.CutPrefix(text, "/")
	if !ok {
		return "", false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 || rest[0] != fields[0][0] {
		return "", false
	}

	name, _, _ := strings.Cut(fields[0], "@")

	return strings.ToLower(name), name != ""
}

func takeUserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func takeUserName(user *tgbotapi.User) string {
	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if user.UserName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
			sb.WriteRune('(')
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
			sb.WriteRune(')')
		} else {
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
		}
	}

	if sb.Len() == 0 {
		return takeUserID(user)
	}

	return sb.String()
}
