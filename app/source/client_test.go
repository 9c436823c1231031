package source

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/require"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

func TestClientRegisterReplacesHandler(t *testing.T) {
	c := &Client{Log: logger.Discard()}

	var first, second []int64
	h1 := e.PostHandlerFunc(func(_ context.Context, p e.Post) { first = append(first, p.ID) })
	h2 := e.PostHandlerFunc(func(_ context.Context, p e.Post) { second = append(second, p.ID) })

	require.Nil(t, c.Register(h1))
	c.emit(context.Background(), e.Post{ID: 1})

	require.NotNil(t, c.Register(h2))
	c.emit(context.Background(), e.Post{ID: 2})

	require.Equal(t, []int64{1}, first)
	require.Equal(t, []int64{2}, second)
}

func TestClientHandleMessage(t *testing.T) {
	c := &Client{Log: logger.Discard()}
	c.albums = newAlbumBuffer(context.Background(), c.Log, AlbumTimeout, c.emit)

	var got []e.Post
	c.Register(e.PostHandlerFunc(func(_ context.Context, p e.Post) { got = append(got, p) }))

	c.handleMessage(context.Background(), channelMessage(3, "hi", nil))
	c.handleMessage(context.Background(), &tg.MessageService{ID: 4})

	require.Equal(t, []e.Post{{ID: 3, ChannelID: 777, Text: "hi"}}, got)
}

func TestClientNotReady(t *testing.T) {
	c := &Client{Log: logger.Discard()}

	_, err := c.Download(context.Background(), e.MediaItem{Kind: e.MediaKindPhoto})
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.JoinUsername(context.Background(), "news")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.JoinInvite(context.Background(), "hash")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.FindUsername(context.Background(), "news")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = c.FindInvite(context.Background(), "hash")
	require.ErrorIs(t, err, ErrNotReady)
}

func TestClientEmitWithoutHandler(t *testing.T) {
	c := &Client{Log: logger.Discard()}
	require.NotPanics(t, func() { c.emit(context.Background(), e.Post{ID: 1}) })
}
