package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"nuclight.org/relay-tg-bot/app/relay"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

const maxMediaGroupSize = 10

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Sender uploads relayed posts through the Bot API.
type Sender struct {
	bot botAPI
}

func NewSender(bot *tgbotapi.BotAPI) *Sender {
	return &Sender{bot: bot}
}

var _ relay.Transport = (*Sender)(nil)

func (s *Sender) SendText(ctx context.Context, chatID int64, text string, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification
	msg.DisableWebPagePreview = true

	_, err := s.bot.Send(msg)
	return err
}

func (s *Sender) SendPhoto(ctx context.Context, chatID int64, file e.MediaFile, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewPhoto(chatID, fileBytes(file))
	msg.Caption = opts.Caption
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification

	_, err := s.bot.Send(msg)
	return err
}

func (s *Sender) SendVideo(ctx context.Context, chatID int64, file e.MediaFile, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewVideo(chatID, fileBytes(file))
	msg.Caption = opts.Caption
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification
	msg.SupportsStreaming = true

	_, err := s.bot.Send(msg)
	return err
}

func (s *Sender) SendAnimation(ctx context.Context, chatID int64, file e.MediaFile, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewAnimation(chatID, fileBytes(file))
	msg.Caption = opts.Caption
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification

	_, err := s.bot.Send(msg)
	return err
}

func (s *Sender) SendDocument(ctx context.Context, chatID int64, file e.MediaFile, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewDocument(chatID, fileBytes(file))
	msg.Caption = opts.Caption
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification

	_, err := s.bot.Send(msg)
	return err
}

// SendMediaGroup sends files as albums with the caption on the first item.
// Photos and videos are grouped apart from documents, as the Bot API does not
// mix them, and groups are split to the album size limit. A group left with
// a single file is sent as a plain media message. Sending stops at the first
// failed call, the groups sent before it stay with the recipient.
func (s *Sender) SendMediaGroup(ctx context.Context, chatID int64, files []e.MediaFile, opts relay.SendOptions) error {
	var visual, documents []e.MediaFile
	for _, f := range files {
		if f.Kind == e.MediaKindDocument {
			documents = append(documents, f)
		} else {
			visual = append(visual, f)
		}
	}

	caption := opts
	rest := opts
	rest.Caption = ""

	for _, group := range append(chunk(visual), chunk(documents)...) {
		if err := s.sendGroup(ctx, chatID, group, caption); err != nil {
			return err
		}
		caption = rest
	}

	return nil
}

func (s *Sender) sendGroup(ctx context.Context, chatID int64, files []e.MediaFile, opts relay.SendOptions) error {
	if len(files) == 1 {
		return s.sendSingle(ctx, chatID, files[0], opts)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	media := make([]interface{}, 0, len(files))
	for i, f := range files {
		var caption, parseMode string
		if i == 0 {
			caption, parseMode = opts.Caption, opts.ParseMode
		}
		media = append(media, inputMedia(f, caption, parseMode))
	}

	group := tgbotapi.NewMediaGroup(chatID, media)
	group.DisableNotification = opts.DisableNotification

	if _, err := s.bot.SendMediaGroup(group); err != nil {
		return fmt.Errorf("sending media group of %d: %w", len(files), err)
	}

	return nil
}

func (s *Sender) sendSingle(ctx context.Context, chatID int64, file e.MediaFile, opts relay.SendOptions) error {
	switch file.Kind {
	case e.MediaKindPhoto:
		return s.SendPhoto(ctx, chatID, file, opts)
	case e.MediaKindVideo:
		return s.SendVideo(ctx, chatID, file, opts)
	case e.MediaKindAnimation:
		return s.SendAnimation(ctx, chatID, file, opts)
	default:
		return s.SendDocument(ctx, chatID, file, opts)
	}
}

// inputMedia builds an album item. Albums cannot carry animations, they go
// as videos.
func inputMedia(f e.MediaFile, caption, parseMode string) interface{} {
	switch f.Kind {
	case e.MediaKindPhoto:
		m := tgbotapi.NewInputMediaPhoto(fileBytes(f))
		m.Caption, m.ParseMode = caption, parseMode
		return m
	case e.MediaKindVideo, e.MediaKindAnimation:
		m := tgbotapi.NewInputMediaVideo(fileBytes(f))
		m.Caption, m.ParseMode = caption, parseMode
		m.SupportsStreaming = true
		return m
	default:
		m := tgbotapi.NewInputMediaDocument(fileBytes(f))
		m.Caption, m.ParseMode = caption, parseMode
		return m
	}
}

func chunk(files []e.MediaFile) [][]e.MediaFile {
	var chunks [][]e.MediaFile
	for len(files) > 0 {
		n := min(len(files), maxMediaGroupSize)
		chunks = append(chunks, files[:n])
		files = files[n:]
	}
	return chunks
}

func fileBytes(f e.MediaFile) tgbotapi.FileBytes {
	name := f.FileName
	if name == "" {
		switch f.Kind {
		case e.MediaKindPhoto:
			name = "photo.jpg"
		case e.MediaKindVideo, e.MediaKindAnimation:
			name = "video.mp4"
		default:
			name = "document"
		}
	}

	return tgbotapi.FileBytes{Name: name, Bytes: f.Content}
}
