package switcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	pkglog "github.com/ystepanoff/tallycomm/internal/log"
	"github.com/ystepanoff/tallycomm/tally"
)

const reconnectDelay = 2 * time.Second

type RedisFeedConfig struct {
	Channel string
	Key     string
	// StaleAfter reports the source as disconnected when no snapshot arrived for
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

// RedisFeed follows switcher snapshots published on a Redis channel. The latest
// snapshot is also read from a key at startup.
type RedisFeed struct {
	client *redis.Client
	cfg    RedisFeedConfig
	state  *Manual
	log    zerolog.Logger

	mu     sync.RWMutex
	lastAt time.Time

	now func() time.Time
}

func NewRedisFeed(client *redis.Client, cfg RedisFeedConfig) *RedisFeed {
	if cfg.Channel == "" {
		cfg.Channel = "tally:flags"
	}
	if cfg.Key == "" {
		cfg.Key = "tally:snapshot"
	}
	return &RedisFeed{
		client: client,
		cfg:    cfg,
		state:  NewManual(),
		log:    pkglog.Component("switcher").With().Str("channel", cfg.Channel).Logger(),
		now:    time.Now,
	}
}

func (f *RedisFeed) IsConnected() bool {
	if f.stale() {
		return false
	}
	return f.state.IsConnected()
}

func (f *RedisFeed) TallyFlags(cameraID uint8) tally.Flags {
	if f.stale() {
		return tally.Flags{}
	}
	return f.state.TallyFlags(cameraID)
}

func (f *RedisFeed) stale() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastAt.IsZero() {
		return true
	}
	return f.cfg.StaleAfter > 0 && f.now().Sub(f.lastAt) > f.cfg.StaleAfter
}

// Apply decodes and installs one JSON snapshot.
func (f *RedisFeed) Apply(payload []byte) error {
	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	f.state.Apply(s)

	f.mu.Lock()
	f.lastAt = f.now()
	f.mu.Unlock()
	return nil
}

// Seed loads the stored snapshot, if any.
func (f *RedisFeed) Seed(ctx context.Context) error {
	payload, err := f.client.Get(ctx, f.cfg.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.cfg.Key, err)
	}
	return f.Apply(payload)
}

// Run follows the channel until ctx is done, resubscribing after errors.
func (f *RedisFeed) Run(ctx context.Context) error {
	if err := f.Seed(ctx); err != nil {
		f.log.Warn().Err(err).Msg("switcher seed failed")
	}

	for {
		err := f.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("switcher subscription lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *RedisFeed) subscribe(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, f.cfg.Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	f.log.Info().Msg("switcher feed subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			if err := f.Apply([]byte(msg.Payload)); err != nil {
				f.log.Warn().Err(err).Msg("switcher feed: invalid payload")
			}
		}
	}
}

// Publish stores s under the key and announces it on the channel.
func (f *RedisFeed) Publish(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := f.client.Set(ctx, f.cfg.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return f.client.Publish(ctx, f.cfg.Channel, data).Err()
}
