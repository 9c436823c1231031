package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

var ErrNotReady = errors.New("mtproto client is not ready")

// Client is the user-account MTProto connection. It streams new channel
// messages to the registered handler, downloads their media and resolves
// channels for subscriptions.
type Client struct {
	// Log is a logger
	Log logger.Logger

	// AppID and AppHash identify the application at my.telegram.org
	AppID   int
	AppHash string

	// SessionPath is the session file written by the authorize command
	SessionPath string

	handler atomic.Pointer[handlerBox]
	api     atomic.Pointer[tg.Client]
	albums  *albumBuffer

	wg sync.WaitGroup
}

type handlerBox struct {
	h e.PostHandler
}

// Register makes h the only receiver of posts and returns the previous one.
func (c *Client) Register(h e.PostHandler) e.PostHandler {
	prev := c.handler.Swap(&handlerBox{h: h})
	if prev == nil {
		return nil
	}
	return prev.h
}

// Start connects and blocks until the session is authorized and updates are
// flowing, or fails. The connection lives until ctx is done.
func (c *Client) Start(ctx context.Context) error {
	c.albums = newAlbumBuffer(ctx, c.Log, AlbumTimeout, c.emit)

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.handleMessage(ctx, u.Message)
		return nil
	})

	gaps := updates.New(updates.Config{Handler: dispatcher})

	client := telegram.NewClient(c.AppID, c.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.SessionPath},
		UpdateHandler:  gaps,
	})

	ready := make(chan struct{})
	errCh := make(chan error, 1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.albums.flushAll()

		err := client.Run(ctx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("checking auth status: %w", err)
			}
			if !status.Authorized {
				return fmt.Errorf("session %s is not authorized, run the authorize command first", c.SessionPath)
			}

			self, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("getting self: %w", err)
			}

			c.api.Store(client.API())
			defer c.api.Store(nil)

			c.Log.Info("mtproto client connected", "user_id", self.ID, "username", self.Username)

			return gaps.Run(ctx, client.API(), self.ID, updates.AuthOptions{
				OnStart: func(ctx context.Context) {
					close(ready)
				},
			})
		})

		if err != nil && !errors.Is(err, context.Canceled) {
			c.Log.Error("mtproto client stopped", "error", err)
		}
		errCh <- err
	}()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("starting mtproto client: %w", err)
	}
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleMessage(ctx context.Context, raw tg.MessageClass) {
	defer func() {
		if r := recover(); r != nil {
			c.Log.Error("panic while handling channel message", "error", fmt.Errorf("%v", r))
		}
	}()

	msg, ok := normalize(raw)
	if !ok {
		return
	}

	if msg.groupedID != 0 {
		c.albums.add(msg.groupedID, msg.post)
		return
	}

	c.emit(ctx, msg.post)
}

func (c *Client) emit(ctx context.Context, post e.Post) {
	box := c.handler.Load()
	if box == nil || box.h == nil {
		c.Log.Debug("no handler registered, post dropped", "channel_id", post.ChannelID, "post_id", post.ID)
		return
	}

	box.h.HandlePost(ctx, post)
}

// Download fetches the bytes of a media item produced by this client.
func (c *Client) Download(ctx context.Context, item e.MediaItem) ([]byte, error) {
	api := c.api.Load()
	if api == nil {
		return nil, ErrNotReady
	}

	loc, ok := item.Ref.(tg.InputFileLocationClass)
	if !ok {
		return nil, fmt.Errorf("unsupported media reference %T", item.Ref)
	}

	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", item.Kind, err)
	}

	return buf.Bytes(), nil
}

// JoinUsername resolves a public channel by username and joins it.
func (c *Client) JoinUsername(ctx context.Context, username string) (e.Channel, error) {
	api := c.api.Load()
	if api == nil {
		return e.Channel{}, ErrNotReady
	}

	channel, err := resolveUsername(ctx, api, username)
	if err != nil {
		return e.Channel{}, err
	}

	if channel.Left {
		_, err = api.ChannelsJoinChannel(ctx, &tg.InputChannel{
			ChannelID:  channel.ID,
			AccessHash: channel.AccessHash,
		})
		if err != nil {
			return e.Channel{}, fmt.Errorf("joining @%s: %w", username, err)
		}
	}

	return toChannel(channel), nil
}

// FindUsername resolves a public channel by username without joining it.
// ErrNotFound is returned when the account is not a member.
func (c *Client) FindUsername(ctx context.Context, username string) (e.Channel, error) {
	api := c.api.Load()
	if api == nil {
		return e.Channel{}, ErrNotReady
	}

	channel, err := resolveUsername(ctx, api, username)
	if err != nil {
		return e.Channel{}, err
	}
	if channel.Left {
		return e.Channel{}, fmt.Errorf("@%s: %w", username, e.ErrNotFound)
	}

	return toChannel(channel), nil
}

func resolveUsername(ctx context.Context, api *tg.Client, username string) (*tg.Channel, error) {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: resolving @%s: %w", e.ErrUnknownChannel, username, err)
	}

	channel, ok := findChannel(resolved.Chats)
	if !ok {
		return nil, fmt.Errorf("%w: @%s is not a channel", e.ErrUnknownChannel, username)
	}

	return channel, nil
}

// JoinInvite joins a private channel by invite hash, or looks it up when the
// account is already a member.
func (c *Client) JoinInvite(ctx context.Context, hash string) (e.Channel, error) {
	api := c.api.Load()
	if api == nil {
		return e.Channel{}, ErrNotReady
	}

	channel, err := memberByInvite(ctx, api, hash)
	if err == nil {
		return toChannel(channel), nil
	}
	if !errors.Is(err, e.ErrNotFound) {
		return e.Channel{}, err
	}

	result, err := api.MessagesImportChatInvite(ctx, hash)
	if err != nil {
		return e.Channel{}, fmt.Errorf("importing invite: %w", err)
	}

	var chats []tg.ChatClass
	switch u := result.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	}

	channel, ok := findChannel(chats)
	if !ok {
		return e.Channel{}, fmt.Errorf("%w: invite does not lead to a channel", e.ErrUnknownChannel)
	}

	return toChannel(channel), nil
}

// FindInvite looks up the channel behind an invite hash without joining it.
// ErrNotFound is returned when the account is not a member.
func (c *Client) FindInvite(ctx context.Context, hash string) (e.Channel, error) {
	api := c.api.Load()
	if api == nil {
		return e.Channel{}, ErrNotReady
	}

	channel, err := memberByInvite(ctx, api, hash)
	if err != nil {
		return e.Channel{}, err
	}

	return toChannel(channel), nil
}

func memberByInvite(ctx context.Context, api *tg.Client, hash string) (*tg.Channel, error) {
	invite, err := api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: checking invite: %w", e.ErrUnknownChannel, err)
	}

	already, ok := invite.(*tg.ChatInviteAlready)
	if !ok {
		return nil, fmt.Errorf("invite: %w", e.ErrNotFound)
	}

	channel, ok := findChannel([]tg.ChatClass{already.Chat})
	if !ok {
		return nil, fmt.Errorf("%w: invite does not lead to a channel", e.ErrUnknownChannel)
	}

	return channel, nil
}

func findChannel(chats []tg.ChatClass) (*tg.Channel, bool) {
	for _, chat := range chats {
		if channel, ok := chat.(*tg.Channel); ok {
			return channel, true
		}
	}
	return nil, false
}

func toChannel(ch *tg.Channel) e.Channel {
	name := ch.Title
	if name == "" {
		name = ch.Username
	}

	return e.Channel{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Name:       name,
	}
}
