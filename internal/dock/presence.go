package dock

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Presence event kinds carried over the realtime channel.
const (
	PresenceSync  = "sync"
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// PresenceEvent is the wire shape exchanged on the presence channel.
type PresenceEvent struct {
	Kind    string   `json:"kind"`
	UserID  string   `json:"user_id,omitempty"`
	UserIDs []string `json:"user_ids,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// PresenceTracker maintains the live set of online user ids by joining the
// shared presence channel and reacting to sync/join/leave events. A sync
// snapshot fully supersedes the current set; join/leave adjust it
// incrementally between syncs. Presence is advisory UI decoration, so races
// between an in-flight sync and incremental events are accepted.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}

	redis   *redis.Client
	channel string
	setKey  string
	selfID  string
	ttl     time.Duration
	logger  zerolog.Logger

	pubsub   *redis.PubSub
	done     chan struct{}
	once     sync.Once
	onChange func(event PresenceEvent, online []string)
}

// NewPresenceTracker constructs a tracker for the signed-in user. channelBase
// namespaces the redis channel and online-set keys.
func NewPresenceTracker(rdb *redis.Client, channelBase, selfID string, ttl time.Duration, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		online:  make(map[string]struct{}),
		redis:   rdb,
		channel: channelBase + ":presence",
		setKey:  channelBase + ":presence:online",
		selfID:  selfID,
		ttl:     ttl,
		logger:  logger.With().Str("component", "presence_tracker").Str("user_id", selfID).Logger(),
	}
}

// Start subscribes to the presence channel, announces this user once the
// subscription is confirmed active, seeds the set from the shared snapshot
// and then consumes events until ctx is cancelled or Close is called.
// Transport-level reconnection is the redis client's concern; the tracker is
// purely reactive to the events it receives.
func (t *PresenceTracker) Start(ctx context.Context) error {
	if t.redis == nil {
		return errors.New("presence tracker requires a redis client")
	}

	t.pubsub = t.redis.Subscribe(ctx, t.channel)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		_ = t.pubsub.Close()
		return err
	}

	if err := t.track(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("failed to announce presence")
	}

	if members, err := t.redis.SMembers(ctx, t.setKey).Result(); err == nil {
		t.Apply(PresenceEvent{Kind: PresenceSync, UserIDs: members})
	} else {
		t.logger.Warn().Err(err).Msg("failed to load presence snapshot")
	}

	t.done = make(chan struct{})
	go t.consume(ctx)

	return nil
}

// SetOnChange installs a callback invoked after every applied event with the
// updated online set. Must be set before Start.
func (t *PresenceTracker) SetOnChange(fn func(event PresenceEvent, online []string)) {
	t.onChange = fn
}

// Apply folds one presence event into the online set.
func (t *PresenceTracker) Apply(event PresenceEvent) {
	t.mu.Lock()

	switch event.Kind {
	case PresenceSync:
		replacement := make(map[string]struct{}, len(event.UserIDs))
		for _, id := range event.UserIDs {
			replacement[id] = struct{}{}
		}
		t.online = replacement
	case PresenceJoin:
		if event.UserID != "" {
			t.online[event.UserID] = struct{}{}
		}
	case PresenceLeave:
		delete(t.online, event.UserID)
	default:
		t.logger.Debug().Str("kind", event.Kind).Msg("ignoring unknown presence event")
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(event, t.Online())
	}
}

// Online returns the sorted set of user ids currently known to be online.
func (t *PresenceTracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsOnline reports whether the given user is in the online set.
func (t *PresenceTracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Close leaves the channel: announces departure, removes this user from the
// shared snapshot and stops the consume loop. No events are processed after.
func (t *PresenceTracker) Close(ctx context.Context) {
	t.once.Do(func() {
		if t.redis != nil {
			if err := t.redis.SRem(ctx, t.setKey, t.selfID).Err(); err != nil {
				t.logger.Debug().Err(err).Msg("failed to remove presence entry")
			}
			t.publish(ctx, PresenceEvent{Kind: PresenceLeave, UserID: t.selfID})
		}
		if t.pubsub != nil {
			_ = t.pubsub.Close()
		}
		if t.done != nil {
			<-t.done
		}
	})
}

func (t *PresenceTracker) track(ctx context.Context) error {
	if err := t.redis.SAdd(ctx, t.setKey, t.selfID).Err(); err != nil {
		return err
	}
	if t.ttl > 0 {
		if err := t.redis.Expire(ctx, t.setKey, t.ttl).Err(); err != nil {
			return err
		}
	}

	t.publish(ctx, PresenceEvent{Kind: PresenceJoin, UserID: t.selfID})
	return nil
}

func (t *PresenceTracker) publish(ctx context.Context, event PresenceEvent) {
	event.Source = t.selfID
	payload, err := json.Marshal(event)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to marshal presence event")
		return
	}

	if err := t.redis.Publish(ctx, t.channel, payload).Err(); err != nil {
		t.logger.Warn().Err(err).Msg("failed to publish presence event")
	}
}

func (t *PresenceTracker) consume(ctx context.Context) {
	defer close(t.done)

	for {
		msg, err := t.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Debug().Err(err).Msg("presence subscription closed")
			return
		}

		var event PresenceEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.logger.Warn().Err(err).Msg("invalid presence event")
			continue
		}

		t.Apply(event)
	}
}
