package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

const DefaultMaxSubscriptions = 10

type Store interface {
	UpsertUser(ctx context.Context, user e.User) error
	UpsertChannel(ctx context.Context, ch e.Channel) error
	GetChannelByLink(ctx context.Context, link string) (e.Channel, error)
	UpsertSubscription(ctx context.Context, sub e.Subscription, limit int) error
	DeleteSubscription(ctx context.Context, userID, channelID int64) (bool, error)
	ListUserSubscriptions(ctx context.Context, userID int64) ([]e.UserSubscription, error)
	CountSubscriptions(ctx context.Context, userID int64) (int, error)
	SaveRequest(ctx context.Context, req e.SubscriptionRequest) error
}

// Resolver finds a channel on Telegram and makes the relay account a member.
// The Find methods never join and return ErrNotFound for channels the
// account is not a member of.
type Resolver interface {
	JoinUsername(ctx context.Context, username string) (e.Channel, error)
	JoinInvite(ctx context.Context, hash string) (e.Channel, error)
	FindUsername(ctx context.Context, username string) (e.Channel, error)
	FindInvite(ctx context.Context, hash string) (e.Channel, error)
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

// Service manages user subscriptions. Every change of the subscription set
// refreshes the monitored channels.
type Service struct {
	// Log is a logger
	Log logger.Logger

	// Store keeps users, channels, subscriptions and the request history
	Store Store

	// Resolver joins channels not seen before
	Resolver Resolver

	// Registry is refreshed after subscriptions change
	Registry Refresher

	// MaxSubscriptions caps live subscriptions per user, DefaultMaxSubscriptions when zero
	MaxSubscriptions int

	now func() time.Time
}

func (s *Service) limit() int {
	if s.MaxSubscriptions <= 0 {
		return DefaultMaxSubscriptions
	}
	return s.MaxSubscriptions
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Touch records an interaction of a user.
func (s *Service) Touch(ctx context.Context, chatID int64, displayName string) error {
	now := s.clock()

	err := s.Store.UpsertUser(ctx, e.User{
		ChatID:      chatID,
		DisplayName: displayName,
		FirstSeen:   now,
		LastActive:  now,
	})
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	return nil
}

// Subscribe subscribes the user to the channel behind link, joining it first
// when it was never seen. Subscribing again to the same channel restarts it
// from the next post. The attempt is recorded in the request history.
func (s *Service) Subscribe(ctx context.Context, chatID int64, link Link) (ch e.Channel, err error) {
	log := s.Log.With("chat_id", chatID, "link", link.String())

	defer func() {
		req := e.SubscriptionRequest{
			ChatID:      chatID,
			ChannelLink: link.String(),
			Success:     err == nil,
		}
		if err != nil {
			req.Error = err.Error()
		}

		if saveErr := s.Store.SaveRequest(ctx, req); saveErr != nil {
			log.Error("saving subscription request", "error", saveErr)
		}
	}()

	count, err := s.Store.CountSubscriptions(ctx, chatID)
	if err != nil {
		return e.Channel{}, fmt.Errorf("counting subscriptions: %w", err)
	}

	if count >= s.limit() {
		subscribed, err := s.subscribed(ctx, chatID, link)
		if err != nil {
			return e.Channel{}, err
		}
		if !subscribed {
			return e.Channel{}, e.ErrSubscriptionLimit
		}
	}

	ch, err = s.channel(ctx, chatID, link)
	if err != nil {
		return e.Channel{}, err
	}

	err = s.Store.UpsertSubscription(ctx, e.Subscription{
		UserID:    chatID,
		ChannelID: ch.ID,
		AddedAt:   s.clock(),
	}, s.limit())
	if err != nil {
		return e.Channel{}, fmt.Errorf("saving subscription: %w", err)
	}

	log.Info("subscribed", "channel_id", ch.ID, "channel", ch.Name)

	s.refresh(ctx)

	return ch, nil
}

// subscribed reports whether the user already has the channel behind link,
// possibly added through another link form. No channel is joined.
func (s *Service) subscribed(ctx context.Context, chatID int64, link Link) (bool, error) {
	ch, err := s.Store.GetChannelByLink(ctx, link.String())
	switch {
	case errors.Is(err, e.ErrNotFound):
		if link.InviteHash != "" {
			ch, err = s.Resolver.FindInvite(ctx, link.InviteHash)
		} else {
			ch, err = s.Resolver.FindUsername(ctx, link.Username)
		}
		if errors.Is(err, e.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("resolving channel: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("getting channel: %w", err)
	}

	subs, err := s.Store.ListUserSubscriptions(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("listing subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.ChannelID == ch.ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) channel(ctx context.Context, chatID int64, link Link) (e.Channel, error) {
	ch, err := s.Store.GetChannelByLink(ctx, link.String())
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, e.ErrNotFound) {
		return e.Channel{}, fmt.Errorf("getting channel: %w", err)
	}

	if link.InviteHash != "" {
		ch, err = s.Resolver.JoinInvite(ctx, link.InviteHash)
	} else {
		ch, err = s.Resolver.JoinUsername(ctx, link.Username)
	}
	if err != nil {
		return e.Channel{}, fmt.Errorf("resolving channel: %w", err)
	}

	ch.Link = link.String()
	ch.AddedBy = chatID
	ch.AddedAt = s.clock()

	if err := s.Store.UpsertChannel(ctx, ch); err != nil {
		return e.Channel{}, fmt.Errorf("saving channel: %w", err)
	}

	return ch, nil
}

// List returns the subscriptions of a user in the order they were added.
func (s *Service) List(ctx context.Context, chatID int64) ([]e.UserSubscription, error) {
	subs, err := s.Store.ListUserSubscriptions(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return subs, nil
}

// Unsubscribe removes the n-th subscription of List, counting from 1.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64, n int) (e.UserSubscription, error) {
	subs, err := s.List(ctx, chatID)
	if err != nil {
		return e.UserSubscription{}, err
	}

	if n < 1 || n > len(subs) {
		return e.UserSubscription{}, fmt.Errorf("subscription #%d: %w", n, e.ErrNotFound)
	}

	sub := subs[n-1]

	deleted, err := s.Store.DeleteSubscription(ctx, chatID, sub.ChannelID)
	if err != nil {
		return e.UserSubscription{}, fmt.Errorf("deleting subscription: %w", err)
	}
	if !deleted {
		return e.UserSubscription{}, fmt.Errorf("subscription #%d: %w", n, e.ErrNotFound)
	}

	s.Log.Info("unsubscribed", "chat_id", chatID, "channel_id", sub.ChannelID)

	s.refresh(ctx)

	return sub, nil
}

func (s *Service) refresh(ctx context.Context) {
	if s.Registry == nil {
		return
	}
	if err := s.Registry.Refresh(ctx); err != nil {
		s.Log.Error("refreshing monitored channels", "error", err)
	}
}
