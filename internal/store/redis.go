package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/batepapo/internal/models"
)

const (
	participantsKey    = "participants"
	participantSeenKey = "participants:seen"
	messagesKey        = "messages"
	messageSeqKey      = "messages:seq"

	// messagePageSize is how many log entries are read per round trip when
	// filtering by visibility.
	messagePageSize = 200
)

// insertParticipantScript sets the participant record and its last-seen
// score only if the name is free.
var insertParticipantScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
	return 1
end
return 0
`)

// touchParticipantScript updates the last-seen score of an existing participant.
var touchParticipantScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps participants in a hash plus a last-seen sorted set, and
// messages in a sorted set scored by an insertion sequence.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// InsertParticipant stores p unless the name is taken.
func (s *RedisStore) InsertParticipant(ctx context.Context, p *models.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ok, err := insertParticipantScript.Run(ctx, s.client,
		[]string{participantsKey, participantSeenKey},
		p.Name, string(data), p.LastStatus,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrConflict
	}
	return nil
}

// GetParticipant retrieves a participant by name.
func (s *RedisStore) GetParticipant(ctx context.Context, name string) (*models.Participant, error) {
	pipe := s.client.Pipeline()
	dataCmd := pipe.HGet(ctx, participantsKey, name)
	seenCmd := pipe.ZScore(ctx, participantSeenKey, name)
	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p models.Participant
	if err := json.Unmarshal([]byte(dataCmd.Val()), &p); err != nil {
		return nil, err
	}
	p.LastStatus = int64(seenCmd.Val())
	return &p, nil
}

// TouchParticipant updates the last-seen score of an existing participant.
func (s *RedisStore) TouchParticipant(ctx context.Context, name string, at time.Time) error {
	ok, err := touchParticipantScript.Run(ctx, s.client,
		[]string{participantsKey, participantSeenKey},
		name, at.UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns participants in registration order.
func (s *RedisStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	names, err := s.client.HKeys(ctx, participantsKey).Result()
	if err != nil {
		return nil, err
	}
	return s.loadParticipants(ctx, names)
}

// ExpiredParticipants returns participants last seen before cutoff.
func (s *RedisStore) ExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.Participant, error) {
	names, err := s.client.ZRangeByScore(ctx, participantSeenKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.UnixMilli()), // exclusive
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.loadParticipants(ctx, names)
}

// loadParticipants fetches records and scores for names. Names removed in
// the meantime are skipped.
func (s *RedisStore) loadParticipants(ctx context.Context, names []string) ([]models.Participant, error) {
	participants := make([]models.Participant, 0, len(names))
	if len(names) == 0 {
		return participants, nil
	}

	pipe := s.client.Pipeline()
	dataCmd := pipe.HMGet(ctx, participantsKey, names...)
	seenCmds := make([]*redis.FloatCmd, len(names))
	for i, name := range names {
		seenCmds[i] = pipe.ZScore(ctx, participantSeenKey, name)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, raw := range dataCmd.Val() {
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var p models.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		if seen, err := seenCmds[i].Result(); err == nil {
			p.LastStatus = int64(seen)
		}
		participants = append(participants, p)
	}

	// UUIDv7 ids sort by registration time
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ID.String() < participants[j].ID.String()
	})
	return participants, nil
}

// RemoveParticipants deletes participants by name.
func (s *RedisStore) RemoveParticipants(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]interface{}, len(names))
	for i, name := range names {
		members[i] = name
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, participantsKey, names...)
	pipe.ZRem(ctx, participantSeenKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// AppendMessage stores a single message.
func (s *RedisStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.AppendMessages(ctx, []*models.Message{msg})
}

// AppendMessages reserves a block of sequence numbers and adds all messages
// in one MULTI/EXEC.
func (s *RedisStore) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	last, err := s.client.IncrBy(ctx, messageSeqKey, int64(len(msgs))).Result()
	if err != nil {
		return err
	}
	first := last - int64(len(msgs)) + 1

	now := time.Now()
	members := make([]redis.Z, len(msgs))
	for i, msg := range msgs {
		msg.Stamp(now)
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		members[i] = redis.Z{Score: float64(first + int64(i)), Member: string(data)}
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, messagesKey, members...)
	_, err = pipe.Exec(ctx)
	return err
}

// VisibleMessages pages backwards through the log until limit visible
// messages have been collected or the log is exhausted.
func (s *RedisStore) VisibleMessages(ctx context.Context, viewer string, limit int) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	maxScore := "+inf"

	for {
		results, err := s.client.ZRevRangeByScoreWithScores(ctx, messagesKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   maxScore,
			Count: messagePageSize,
		}).Result()
		if err != nil {
			return nil, err
		}

		for _, z := range results {
			var msg models.Message
			if err := json.Unmarshal([]byte(z.Member.(string)), &msg); err != nil {
				return nil, err
			}
			if !msg.VisibleTo(viewer) {
				continue
			}
			messages = append(messages, msg)
			if limit > 0 && len(messages) == limit {
				return messages, nil
			}
		}

		if len(results) < messagePageSize {
			return messages, nil
		}
		maxScore = "(" + strconv.FormatInt(int64(results[len(results)-1].Score), 10)
	}
}

// Counts returns participant and message totals.
func (s *RedisStore) Counts(ctx context.Context) (Counts, error) {
	pipe := s.client.Pipeline()
	participants := pipe.HLen(ctx, participantsKey)
	messages := pipe.ZCard(ctx, messagesKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{Participants: participants.Val(), Messages: messages.Val()}, nil
}
