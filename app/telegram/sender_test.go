package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"nuclight.org/relay-tg-bot/app/relay"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

type fakeBot struct {
	sent   []tgbotapi.Chattable
	groups []tgbotapi.MediaGroupConfig
	err    error

	// sendErr fails Send only
	sendErr error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	return tgbotapi.Message{}, b.err
}

func (b *fakeBot) SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	b.groups = append(b.groups, config)
	return nil, b.err
}

func (b *fakeBot) texts() []string {
	var res []string
	for _, c := range b.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			res = append(res, msg.Text)
		}
	}
	return res
}

var opts = relay.SendOptions{Caption: "*caption*", ParseMode: relay.ParseModeMarkdown}

func mediaFile(kind e.MediaKind, name string) e.MediaFile {
	return e.MediaFile{Kind: kind, FileName: name, Content: []byte(name)}
}

func TestSenderSendText(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}

	require.NoError(t, s.SendText(context.Background(), 5, "hello", opts))

	require.Len(t, bot.sent, 1)
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	require.Equal(t, int64(5), msg.ChatID)
	require.Equal(t, "hello", msg.Text)
	require.Equal(t, relay.ParseModeMarkdown, msg.ParseMode)
	require.False(t, msg.DisableNotification)
}

func TestSenderSingleMedia(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}
	ctx := context.Background()

	require.NoError(t, s.SendPhoto(ctx, 1, mediaFile(e.MediaKindPhoto, ""), opts))
	require.NoError(t, s.SendVideo(ctx, 1, mediaFile(e.MediaKindVideo, "clip.mp4"), opts))
	require.NoError(t, s.SendAnimation(ctx, 1, mediaFile(e.MediaKindAnimation, "a.gif"), opts))
	require.NoError(t, s.SendDocument(ctx, 1, mediaFile(e.MediaKindDocument, "report.pdf"), opts))

	require.Len(t, bot.sent, 4)

	photo := bot.sent[0].(tgbotapi.PhotoConfig)
	require.Equal(t, "*caption*", photo.Caption)
	require.Equal(t, relay.ParseModeMarkdown, photo.ParseMode)
	require.Equal(t, tgbotapi.FileBytes{Name: "photo.jpg", Bytes: []byte("")}, photo.File)

	video := bot.sent[1].(tgbotapi.VideoConfig)
	require.True(t, video.SupportsStreaming)
	require.Equal(t, "*caption*", video.Caption)

	animation := bot.sent[2].(tgbotapi.AnimationConfig)
	require.Equal(t, "*caption*", animation.Caption)

	doc := bot.sent[3].(tgbotapi.DocumentConfig)
	require.Equal(t, tgbotapi.FileBytes{Name: "report.pdf", Bytes: []byte("report.pdf")}, doc.File)
}

func TestSenderMediaGroup(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}

	files := []e.MediaFile{
		mediaFile(e.MediaKindPhoto, "1.jpg"),
		mediaFile(e.MediaKindAnimation, "2.mp4"),
		mediaFile(e.MediaKindVideo, "3.mp4"),
	}

	require.NoError(t, s.SendMediaGroup(context.Background(), 9, files, opts))

	require.Empty(t, bot.sent)
	require.Len(t, bot.groups, 1)

	group := bot.groups[0]
	require.Equal(t, int64(9), group.ChatID)
	require.Len(t, group.Media, 3)

	first := group.Media[0].(tgbotapi.InputMediaPhoto)
	require.Equal(t, "*caption*", first.Caption)
	require.Equal(t, relay.ParseModeMarkdown, first.ParseMode)

	second := group.Media[1].(tgbotapi.InputMediaVideo)
	require.Empty(t, second.Caption)
	require.True(t, second.SupportsStreaming)

	_, ok := group.Media[2].(tgbotapi.InputMediaVideo)
	require.True(t, ok)
}

func TestSenderMediaGroupSplitsDocuments(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}

	files := []e.MediaFile{
		mediaFile(e.MediaKindPhoto, "1.jpg"),
		mediaFile(e.MediaKindPhoto, "2.jpg"),
		mediaFile(e.MediaKindDocument, "3.pdf"),
	}

	require.NoError(t, s.SendMediaGroup(context.Background(), 9, files, opts))

	require.Len(t, bot.groups, 1)
	require.Len(t, bot.groups[0].Media, 2)

	require.Len(t, bot.sent, 1)
	doc := bot.sent[0].(tgbotapi.DocumentConfig)
	require.Empty(t, doc.Caption)
}

func TestSenderMediaGroupChunks(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}

	var files []e.MediaFile
	for i := 0; i < 13; i++ {
		files = append(files, mediaFile(e.MediaKindPhoto, "p.jpg"))
	}

	require.NoError(t, s.SendMediaGroup(context.Background(), 9, files, opts))

	require.Len(t, bot.groups, 2)
	require.Len(t, bot.groups[0].Media, 10)
	require.Len(t, bot.groups[1].Media, 3)
	require.Empty(t, bot.groups[1].Media[0].(tgbotapi.InputMediaPhoto).Caption)
}

func TestSenderError(t *testing.T) {
	cause := errors.New("Too Many Requests")
	bot := &fakeBot{err: cause}
	s := &Sender{bot: bot}

	err := s.SendMediaGroup(context.Background(), 1, []e.MediaFile{
		mediaFile(e.MediaKindPhoto, "1.jpg"),
		mediaFile(e.MediaKindPhoto, "2.jpg"),
	}, opts)
	require.ErrorIs(t, err, cause)
}

func TestSenderMediaGroupStopsAtFailedPart(t *testing.T) {
	cause := errors.New("Bad Request: file is too big")
	bot := &fakeBot{sendErr: cause}
	s := &Sender{bot: bot}

	files := []e.MediaFile{
		mediaFile(e.MediaKindPhoto, "1.jpg"),
		mediaFile(e.MediaKindPhoto, "2.jpg"),
		mediaFile(e.MediaKindDocument, "3.pdf"),
		mediaFile(e.MediaKindPhoto, "4.jpg"),
	}

	err := s.SendMediaGroup(context.Background(), 9, files, opts)
	require.ErrorIs(t, err, cause)

	// the captioned album went out before the document failed
	require.Len(t, bot.groups, 1)
	require.Len(t, bot.groups[0].Media, 3)
	require.Len(t, bot.sent, 1)
}

func TestSenderCanceled(t *testing.T) {
	bot := &fakeBot{}
	s := &Sender{bot: bot}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.SendText(ctx, 1, "x", opts), context.Canceled)
	require.Empty(t, bot.sent)
}
