package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"nuclight.org/relay-tg-bot/app/subscriptions"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

type serviceMock struct {
	touch       func(ctx context.Context, chatID int64, displayName string) error
	subscribe   func(ctx context.Context, chatID int64, link subscriptions.Link) (e.Channel, error)
	list        func(ctx context.Context, chatID int64) ([]e.UserSubscription, error)
	unsubscribe func(ctx context.Context, chatID int64, n int) (e.UserSubscription, error)
}

func (m *serviceMock) Touch(ctx context.Context, chatID int64, displayName string) error {
	if m.touch == nil {
		return nil
	}
	return m.touch(ctx, chatID, displayName)
}

func (m *serviceMock) Subscribe(ctx context.Context, chatID int64, link subscriptions.Link) (e.Channel, error) {
	return m.subscribe(ctx, chatID, link)
}

func (m *serviceMock) List(ctx context.Context, chatID int64) ([]e.UserSubscription, error) {
	return m.list(ctx, chatID)
}

func (m *serviceMock) Unsubscribe(ctx context.Context, chatID int64, n int) (e.UserSubscription, error) {
	return m.unsubscribe(ctx, chatID, n)
}

func privateMessage(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: 42, FirstName: "Alice", UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
			Text:      text,
		},
	}
}

func newTestClient(service SubscriptionService) (*Client, *fakeBot) {
	bot := &fakeBot{}
	return &Client{
		Log:     logger.Discard(),
		Service: service,
		bot:     bot,
	}, bot
}

func TestHandleStart(t *testing.T) {
	var touched string
	c, bot := newTestClient(&serviceMock{
		touch: func(_ context.Context, chatID int64, name string) error {
			touched = name
			return nil
		},
	})

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("/start")))

	require.Equal(t, "Alice (@alice)", touched)
	require.Len(t, bot.texts(), 1)
	require.Contains(t, bot.texts()[0], "up to 10 subscriptions")
}

func TestHandleLinks(t *testing.T) {
	var got []subscriptions.Link
	c, bot := newTestClient(&serviceMock{
		subscribe: func(_ context.Context, chatID int64, link subscriptions.Link) (e.Channel, error) {
			require.Equal(t, int64(42), chatID)
			got = append(got, link)
			if link.Username == "full" {
				return e.Channel{}, e.ErrSubscriptionLimit
			}
			return e.Channel{ID: 1, Name: "News"}, nil
		},
	})

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("@news_channel https://t.me/full")))

	require.Equal(t, []subscriptions.Link{{Username: "news_channel"}, {Username: "full"}}, got)

	texts := bot.texts()
	require.Len(t, texts, 3)
	require.Contains(t, texts[1], "subscribed to News")
	require.Contains(t, texts[2], "limit")
}

func TestHandleTextWithoutLinks(t *testing.T) {
	c, bot := newTestClient(&serviceMock{})

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("hello")))

	require.Len(t, bot.texts(), 1)
	require.Contains(t, bot.texts()[0], "Please send a channel link")
}

func TestHandleList(t *testing.T) {
	added := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	c, bot := newTestClient(&serviceMock{
		list: func(context.Context, int64) ([]e.UserSubscription, error) {
			return []e.UserSubscription{
				{Subscription: e.Subscription{ChannelID: 1, AddedAt: added}, ChannelName: "One", ChannelLink: "@one"},
				{Subscription: e.Subscription{ChannelID: 2, AddedAt: added}, ChannelName: "Two", ChannelLink: "@two"},
			}, nil
		},
	})

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("/list")))
	require.Equal(t, "Your subscriptions:\n\n"+
		"1. One\n🔗 @one\n📅 Added 2024-05-01 12:30\n\n"+
		"2. Two\n🔗 @two\n📅 Added 2024-05-01 12:30\n\n", bot.texts()[0])

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("/delete")))
	require.Equal(t, "Choose a channel to remove:\n\n/1 - One\n/2 - Two\n", bot.texts()[1])
}

func TestHandleUnsubscribe(t *testing.T) {
	c, bot := newTestClient(&serviceMock{
		unsubscribe: func(_ context.Context, _ int64, n int) (e.UserSubscription, error) {
			if n != 2 {
				return e.UserSubscription{}, e.ErrNotFound
			}
			return e.UserSubscription{ChannelName: "Two"}, nil
		},
	})

	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("/2")))
	require.NoError(t, c.handleUpdate(context.Background(), privateMessage("/7")))

	require.Equal(t, []string{"✅ Subscription to Two removed.", "Wrong channel number."}, bot.texts())
}

func TestHandleIgnoresGroups(t *testing.T) {
	c, bot := newTestClient(&serviceMock{})

	update := privateMessage("/start")
	update.Message.Chat.Type = "supergroup"

	require.NoError(t, c.handleUpdate(context.Background(), update))
	require.Empty(t, bot.sent)
}

func TestHandleRecoversPanic(t *testing.T) {
	c, _ := newTestClient(&serviceMock{})

	// List is not mocked
	err := c.handleUpdate(context.Background(), privateMessage("/list"))
	require.ErrorContains(t, err, "panic")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{text: "/start", want: "start", ok: true},
		{text: "/List@relay_bot", want: "list", ok: true},
		{text: "/3 please", want: "3", ok: true},
		{text: "/", ok: false},
		{text: "/ start", ok: false},
		{text: "@news", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := parseCommand(tt.text)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTakeUserName(t *testing.T) {
	require.Equal(t, "Alice Smith (@alice)", takeUserName(&tgbotapi.User{ID: 1, FirstName: "Alice", LastName: "Smith", UserName: "alice"}))
	require.Equal(t, "@alice", takeUserName(&tgbotapi.User{ID: 1, UserName: "alice"}))
	require.Equal(t, "7", takeUserName(&tgbotapi.User{ID: 7}))
}
