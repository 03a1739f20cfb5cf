package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sfulink/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamProvider emits the desired stream set stored under a redis key
// and every update announced on the event bus.
type RedisStreamProvider struct {
	client *redis.Client
	bus    *EventBus
	key    string
	logger *zap.SugaredLogger
}

func NewRedisStreamProvider(client *redis.Client, bus *EventBus, prefix string, logger *zap.SugaredLogger) *RedisStreamProvider {
	if prefix == "" {
		prefix = "sfulink"
	}
	return &RedisStreamProvider{
		client: client,
		bus:    bus,
		key:    prefix + ":desired",
		logger: logger,
	}
}

// Run loads the stored snapshot, then follows published updates until ctx is done.
func (p *RedisStreamProvider) Run(ctx context.Context, emit func(domain.DesiredUpdate)) error {
	data, err := p.client.Get(ctx, p.key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("failed to load desired streams: %w", err)
	default:
		update, err := decodeUpdate(data)
		if err != nil {
			p.logger.Warnw("ignoring stored desired streams", "key", p.key, "error", err)
		} else {
			emit(update)
		}
	}

	err = p.bus.Subscribe(ctx, func(e *Event) error {
		if e.Type != EventDesiredStreams {
			return nil
		}
		update, err := decodeUpdate(e.Payload)
		if err != nil {
			return err
		}
		p.logger.Debugw("desired streams received", "instance_id", e.InstanceID, "streams", len(update.Streams))
		emit(update)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Publish stores update as the snapshot and announces it to other instances.
// Writers hold a lock so the stored snapshot matches the last announcement.
func (p *RedisStreamProvider) Publish(ctx context.Context, update domain.DesiredUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal desired streams: %w", err)
	}

	lock := NewLock(p.client, p.key+":lock", 5*time.Second)
	if err := lock.Acquire(ctx, 2*time.Second); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warnw("failed to release desired streams lock", "key", p.key, "error", err)
		}
	}()

	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store desired streams: %w", err)
	}
	return p.bus.Publish(ctx, &Event{Type: EventDesiredStreams, Payload: data})
}

func decodeUpdate(data []byte) (domain.DesiredUpdate, error) {
	var update domain.DesiredUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return update, fmt.Errorf("invalid desired streams: %w", err)
	}
	return update.Normalize()
}
