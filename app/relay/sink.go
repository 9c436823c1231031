package relay

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

const ParseModeMarkdown = "Markdown"

// SendOptions are applied to every outbound call.
type SendOptions struct {
	// Caption is attached to media, it is ignored by SendText
	Caption             string
	ParseMode           string
	DisableNotification bool
}

// Transport is the outbound messaging client.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) error
	SendPhoto(ctx context.Context, chatID int64, file e.MediaFile, opts SendOptions) error
	SendVideo(ctx context.Context, chatID int64, file e.MediaFile, opts SendOptions) error
	SendAnimation(ctx context.Context, chatID int64, file e.MediaFile, opts SendOptions) error
	SendDocument(ctx context.Context, chatID int64, file e.MediaFile, opts SendOptions) error
	SendMediaGroup(ctx context.Context, chatID int64, files []e.MediaFile, opts SendOptions) error
}

// DeliveryError is returned when the transport rejects a send.
type DeliveryError struct {
	Recipient int64
	Err       error
}

func (de *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %d: %v", de.Recipient, de.Err)
}

func (de *DeliveryError) Unwrap() error {
	return de.Err
}

func (de *DeliveryError) Is(target error) bool {
	return target == e.ErrDeliveryFailed
}

// Sink turns a post and its fetched media into a single outbound call: plain
// text without media, a single media message for one file, a media group with
// the caption on the first item otherwise. Sends are not retried.
type Sink struct {
	Transport Transport

	// Limiter paces outbound calls, nil means no pacing
	Limiter *rate.Limiter
}

func (s *Sink) Deliver(ctx context.Context, recipient int64, channel e.Channel, post e.Post, media []e.MediaFile) error {
	err := s.deliver(ctx, recipient, channel, post, media)
	if err != nil {
		return &DeliveryError{Recipient: recipient, Err: err}
	}
	return nil
}

func (s *Sink) deliver(ctx context.Context, recipient int64, channel e.Channel, post e.Post, media []e.MediaFile) error {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	opts := SendOptions{
		ParseMode:           ParseModeMarkdown,
		DisableNotification: false,
	}

	if len(media) == 0 {
		return s.Transport.SendText(ctx, recipient, Caption(channel.Name, post.Text, MaxTextLength), opts)
	}

	opts.Caption = Caption(channel.Name, post.Text, MaxCaptionLength)

	if len(media) > 1 {
		return s.Transport.SendMediaGroup(ctx, recipient, media, opts)
	}

	file := media[0]
	switch file.Kind {
	case e.MediaKindPhoto:
		return s.Transport.SendPhoto(ctx, recipient, file, opts)
	case e.MediaKindVideo:
		return s.Transport.SendVideo(ctx, recipient, file, opts)
	case e.MediaKindAnimation:
		return s.Transport.SendAnimation(ctx, recipient, file, opts)
	case e.MediaKindDocument:
		return s.Transport.SendDocument(ctx, recipient, file, opts)
	default:
		return fmt.Errorf("unsupported media kind: %q", file.Kind)
	}
}
