package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"nuclight.org/relay-tg-bot/app/metrics"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
	"nuclight.org/relay-tg-bot/pkg/mutex"
)

type SubscriptionStore interface {
	ListSubscribers(ctx context.Context, channelID int64) ([]e.Subscription, error)
	GetWatermark(ctx context.Context, userID, channelID int64) (int64, error)
	SetWatermark(ctx context.Context, userID, channelID, postID int64) (bool, error)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, item e.MediaItem) ([]byte, error)
}

type DeliverySink interface {
	Deliver(ctx context.Context, recipient int64, channel e.Channel, post e.Post, media []e.MediaFile) error
}

type Observer interface {
	PostReceived()
	PostDropped(reason string)
	DeliveryDone(err error)
}

// Dispatcher fans a post out to the subscribers of its channel. A subscriber
// receives the post only if its id is greater than the subscriber's watermark,
// and the watermark is advanced only after a successful delivery. Failures for
// one subscriber or one media item never stop the others.
//
// Posts are queued by Dispatch and processed by Workers goroutines started
// with Start. Process runs one post synchronously.
type Dispatcher struct {
	// Log is a logger
	Log logger.Logger

	// Store keeps subscriptions and their watermarks
	Store SubscriptionStore

	// Fetcher downloads media bytes
	Fetcher MediaFetcher

	// Sink sends the post to a recipient
	Sink DeliverySink

	// Observer is notified about post and delivery outcomes, optional
	Observer Observer

	// Workers is the number of posts processed concurrently
	Workers int

	// DeliveryWorkers is the number of subscribers served concurrently for one post
	DeliveryWorkers int

	// QueueSize is the capacity of the pending posts queue
	QueueSize int

	// MediaDelay is the pause between two media downloads of the same post
	MediaDelay time.Duration

	queue chan job
	wg    sync.WaitGroup
	locks mutex.KeyedMutex
}

type job struct {
	channel e.Channel
	post    e.Post
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if d.Workers <= 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	d.queue = make(chan job, max(d.QueueSize, d.Workers))

	for i := 0; i < d.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleJobsFromChan(ctx)
		}()
	}

	return nil
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch queues a post of a monitored channel. It blocks while the queue is
// full and fails when ctx is done first.
func (d *Dispatcher) Dispatch(ctx context.Context, channel e.Channel, post e.Post) error {
	if d.queue == nil {
		return fmt.Errorf("dispatcher is not started")
	}

	if err := ctx.Err(); err != nil {
		d.dropped(metrics.ReasonQueueClosed)
		return err
	}

	select {
	case <-ctx.Done():
		d.dropped(metrics.ReasonQueueClosed)
		return ctx.Err()
	case d.queue <- job{channel: channel, post: post}:
		return nil
	}
}

func (d *Dispatcher) handleJobsFromChan(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			err := d.handleJob(ctx, j)
			if err != nil {
				d.Log.Error("processing post", "channel_id", j.channel.ID, "post_id", j.post.ID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) handleJob(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return d.Process(ctx, j.channel, j.post)
}

// Process delivers post to every eligible subscriber of channel. Store errors
// while listing subscribers abort the cycle. Store errors while advancing a
// watermark are collected and returned after all subscribers were served.
func (d *Dispatcher) Process(ctx context.Context, channel e.Channel, post e.Post) error {
	log := d.Log.With("channel_id", channel.ID, "post_id", post.ID)

	if d.Observer != nil {
		d.Observer.PostReceived()
	}

	subs, err := d.Store.ListSubscribers(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("listing subscribers: %w", err)
	}

	if len(subs) == 0 {
		log.Debug("no subscribers")
		d.dropped(metrics.ReasonNoSubscribers)
		return nil
	}

	eligible := make([]e.Subscription, 0, len(subs))
	for _, sub := range subs {
		if post.ID > sub.LastPostID {
			eligible = append(eligible, sub)
		}
	}

	if len(eligible) == 0 {
		log.Debug("post already delivered to every subscriber")
		d.dropped(metrics.ReasonAlreadySeen)
		return nil
	}

	log.Info("new post", "subscribers", len(eligible), "media", len(post.Media))

	files := d.fetchMedia(ctx, log, post)

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)

	sem := make(chan struct{}, max(d.DeliveryWorkers, 1))
	for _, sub := range eligible {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return errors.Join(append(errs, ctx.Err())...)
		}

		wg.Add(1)
		go func(sub e.Subscription) {
			defer func() {
				<-sem
				wg.Done()
			}()

			if err := d.deliverTo(ctx, log, channel, post, files, sub.UserID); err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// deliverTo serves one subscriber. Deliveries and watermark updates for the
// same channel and subscriber are serialized, and the watermark is checked
// again under the lock so a post processed late never goes out twice.
func (d *Dispatcher) deliverTo(ctx context.Context, log logger.Logger, channel e.Channel, post e.Post, files []e.MediaFile, userID int64) (err error) {
	log = log.With("user_id", userID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while delivering post", "error", fmt.Errorf("%v", r))
		}
	}()

	key := strconv.FormatInt(channel.ID, 10) + ":" + strconv.FormatInt(userID, 10)
	d.locks.Lock(key)
	defer d.locks.Unlock(key)

	watermark, err := d.Store.GetWatermark(ctx, userID, channel.ID)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) {
			log.Debug("subscription removed meanwhile")
			return nil
		}
		return fmt.Errorf("getting watermark of %d: %w", userID, err)
	}

	if post.ID <= watermark {
		log.Debug("post already delivered", "watermark", watermark)
		return nil
	}

	err = d.Sink.Deliver(ctx, userID, channel, post, files)
	if d.Observer != nil {
		d.Observer.DeliveryDone(err)
	}
	if err != nil {
		log.Warn("delivering post", "error", err)
		return nil
	}

	advanced, err := d.Store.SetWatermark(ctx, userID, channel.ID, post.ID)
	if err != nil {
		return fmt.Errorf("advancing watermark of %d: %w", userID, err)
	}

	if !advanced {
		log.Debug("watermark not advanced")
	}

	log.Info("post delivered")

	return nil
}

// fetchMedia downloads the post media in order, pausing MediaDelay between
// items. Items that cannot be fetched are left out.
func (d *Dispatcher) fetchMedia(ctx context.Context, log logger.Logger, post e.Post) []e.MediaFile {
	if len(post.Media) == 0 {
		return nil
	}

	files := make([]e.MediaFile, 0, len(post.Media))
	for i, item := range post.Media {
		if i > 0 {
			if err := pause(ctx, d.MediaDelay); err != nil {
				break
			}
		}

		content, err := d.Fetcher.Fetch(ctx, item)
		if err != nil {
			log.Warn("skipping media item", "index", i, "kind", item.Kind, "error", err)
			continue
		}

		files = append(files, e.MediaFile{
			Kind:     item.Kind,
			FileName: item.FileName,
			Content:  content,
		})
	}

	if len(files) < len(post.Media) {
		log.Info("some media items were dropped", "fetched", len(files), "total", len(post.Media))
	}

	return files
}

func (d *Dispatcher) dropped(reason string) {
	if d.Observer != nil {
		d.Observer.PostDropped(reason)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
