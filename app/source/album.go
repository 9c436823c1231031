package source

import (
	"context"
	"sort"
	"sync"
	"time"

	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

const AlbumTimeout = 500 * time.Millisecond

// albumBuffer collects the messages of a media group, which arrive as
// separate updates sharing a grouped id, and emits them as one post once no
// new part arrived for timeout.
type albumBuffer struct {
	ctx     context.Context
	log     logger.Logger
	timeout time.Duration
	emit    func(ctx context.Context, post e.Post)

	mu     sync.Mutex
	albums map[int64]*pendingAlbum
}

type pendingAlbum struct {
	parts []e.Post
	timer *time.Timer
}

func newAlbumBuffer(ctx context.Context, log logger.Logger, timeout time.Duration, emit func(ctx context.Context, post e.Post)) *albumBuffer {
	return &albumBuffer{
		ctx:     ctx,
		log:     log,
		timeout: timeout,
		emit:    emit,
		albums:  make(map[int64]*pendingAlbum),
	}
}

func (b *albumBuffer) add(groupedID int64, part e.Post) {
	b.mu.Lock()
	defer b.mu.Unlock()

	album, ok := b.albums[groupedID]
	if !ok {
		album = &pendingAlbum{}
		b.albums[groupedID] = album
		album.timer = time.AfterFunc(b.timeout, func() {
			b.flush(groupedID)
		})
	} else {
		album.timer.Reset(b.timeout)
	}

	album.parts = append(album.parts, part)

	b.log.Debug("album part buffered", "grouped_id", groupedID, "post_id", part.ID, "parts", len(album.parts))
}

func (b *albumBuffer) flush(groupedID int64) {
	b.mu.Lock()
	album, ok := b.albums[groupedID]
	if ok {
		delete(b.albums, groupedID)
	}
	b.mu.Unlock()

	if !ok || len(album.parts) == 0 {
		return
	}

	post := combineAlbum(album.parts)

	b.log.Debug("album complete", "grouped_id", groupedID, "post_id", post.ID, "media", len(post.Media))

	b.emit(b.ctx, post)
}

// flushAll emits every pending album right away. Albums flushed after the
// buffer context is done are dropped by the handler.
func (b *albumBuffer) flushAll() {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.albums))
	for id, album := range b.albums {
		album.timer.Stop()
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.flush(id)
	}
}

// combineAlbum merges album parts into one post carrying the greatest message
// id, the first non-empty text and the media in message order.
func combineAlbum(parts []e.Post) e.Post {
	sorted := append([]e.Post(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	post := e.Post{ChannelID: sorted[0].ChannelID}
	for _, part := range sorted {
		post.ID = max(post.ID, part.ID)
		if post.Text == "" {
			post.Text = part.Text
		}
		post.Media = append(post.Media, part.Media...)
	}

	return post
}
