package relay

import (
	"context"
	"errors"
	"sort"
	"sync"

	e "nuclight.org/relay-tg-bot/pkg/entities"
)

type memoryStore struct {
	mu       sync.Mutex
	subs     map[int64]map[int64]int64 // channel -> user -> watermark
	channels []e.Channel
	listErr  error
	setErr   map[int64]error
	lists    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{subs: make(map[int64]map[int64]int64)}
}

func (s *memoryStore) subscribe(channelID, userID, watermark int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[channelID] == nil {
		s.subs[channelID] = make(map[int64]int64)
	}
	s.subs[channelID][userID] = watermark
}

func (s *memoryStore) watermark(channelID, userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[channelID][userID]
}

func (s *memoryStore) ListSubscribers(_ context.Context, channelID int64) ([]e.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var subs []e.Subscription
	for userID, wm := range s.subs[channelID] {
		subs = append(subs, e.Subscription{UserID: userID, ChannelID: channelID, LastPostID: wm})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UserID < subs[j].UserID })
	return subs, nil
}

func (s *memoryStore) GetWatermark(_ context.Context, userID, channelID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.subs[channelID][userID]
	if !ok {
		return 0, e.ErrNotFound
	}
	return wm, nil
}

func (s *memoryStore) SetWatermark(_ context.Context, userID, channelID, postID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setErr[userID]; err != nil {
		return false, err
	}
	wm, ok := s.subs[channelID][userID]
	if !ok || wm >= postID {
		return false, nil
	}
	s.subs[channelID][userID] = postID
	return true, nil
}

func (s *memoryStore) ListActiveChannels(context.Context) ([]e.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]e.Channel(nil), s.channels...), nil
}

type delivery struct {
	recipient int64
	postID    int64
	media     []e.MediaFile
}

type fakeSink struct {
	mu         sync.Mutex
	deliveries []delivery
	fail       map[int64]error
}

func (s *fakeSink) Deliver(_ context.Context, recipient int64, _ e.Channel, post e.Post, media []e.MediaFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[recipient]; err != nil {
		return &DeliveryError{Recipient: recipient, Err: err}
	}
	s.deliveries = append(s.deliveries, delivery{recipient: recipient, postID: post.ID, media: media})
	return nil
}

func (s *fakeSink) calls() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.deliveries...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, item e.MediaItem) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ref, _ := item.Ref.(string)
	if f.fail[ref] {
		return nil, errors.New("download failed")
	}
	return []byte(ref), nil
}

type recordingObserver struct {
	mu         sync.Mutex
	received   int
	dropped    map[string]int
	delivered  int
	failed     int
	activeSize int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{dropped: make(map[string]int)}
}

func (o *recordingObserver) PostReceived() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received++
}

func (o *recordingObserver) PostDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *recordingObserver) DeliveryDone(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed++
		return
	}
	o.delivered++
}

func (o *recordingObserver) SetActiveChannels(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeSize = n
}
