// Package stream implements the durable event transport (spec §4.2) on top
// of Redis Streams: publish, publishBatch, readGroup, ack, and claimIdle,
// backed by raw XADD/XREADGROUP/XACK/XPENDING/XCLAIM rather than a
// higher-level streaming abstraction, grounded on the go-redis/v9 usage
// pattern in goadesign-goa-ai's registry/result_stream.go.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one delivered stream record: its id for ack/claim purposes and
// the raw event payload.
type Entry struct {
	ID      string
	Payload []byte
}

// PublishResult reports the outcome of one event within a publishBatch call
// (§6's per-event ingest result shape).
type PublishResult struct {
	StreamID string
	Err      error
}

// Transport is the durable stream client used by C2/C4.
type Transport struct {
	rdb           *redis.Client
	streamKey     string
	consumerGroup string
	consumerName  string
}

// Config configures a Transport.
type Config struct {
	Addr      string
	Password  string
	DB        int
	StreamKey string
	Group     string
}

// New connects to Redis and ensures the consumer group exists, creating the
// stream if necessary (MKSTREAM). The consumer name is `<host>-<pid>` per
// §4.2, so two processes on the same host get distinct names.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	t := &Transport{
		rdb:           rdb,
		streamKey:     cfg.StreamKey,
		consumerGroup: cfg.Group,
		consumerName:  consumerName(),
	}

	err := rdb.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.Group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return t, nil
}

// Close releases the underlying Redis client.
func (t *Transport) Close() error { return t.rdb.Close() }

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() != "" &&
		(len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

// Publish appends one event payload and returns its stream entry id.
func (t *Transport) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: t.streamKey,
		Values: map[string]any{"data": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// PublishBatch publishes each payload independently and collects a
// per-event result, so one malformed payload never fails the batch (§6:
// "A per-event payload failure rejects that event only, never the batch").
func (t *Transport) PublishBatch(ctx context.Context, payloads [][]byte) []PublishResult {
	results := make([]PublishResult, len(payloads))
	for i, p := range payloads {
		id, err := t.Publish(ctx, p)
		results[i] = PublishResult{StreamID: id, Err: err}
	}
	return results
}

// ReadGroup reads up to count new entries for this transport's consumer,
// blocking up to block for new data (§4.2's readGroup).
func (t *Transport) ReadGroup(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	res, err := t.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    t.consumerGroup,
		Consumer: t.consumerName,
		Streams:  []string{t.streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read group: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

// Ack removes entries from the group's pending-entries list.
func (t *Transport) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.rdb.XAck(ctx, t.streamKey, t.consumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("ack entries: %w", err)
	}
	return nil
}

// ClaimIdle claims up to count entries that have been pending for at least
// minIdle, reassigning them to this transport's consumer (§4.2's claimIdle,
// the PEL-reclamation half of the at-least-once contract).
func (t *Transport) ClaimIdle(ctx context.Context, minIdle time.Duration, count int64) ([]Entry, error) {
	pending, err := t.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: t.streamKey,
		Group:  t.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}

	claimed, err := t.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   t.streamKey,
		Group:    t.consumerGroup,
		Consumer: t.consumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idle entries: %w", err)
	}
	return toEntries(claimed), nil
}

func toEntries(messages []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(messages))
	for _, m := range messages {
		raw, ok := m.Values["data"]
		if !ok {
			continue
		}
		var payload []byte
		switch v := raw.(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			payload = b
		}
		out = append(out, Entry{ID: m.ID, Payload: payload})
	}
	return out
}
