// Package buffer implements the Progress Buffer: the low-latency,
// non-authoritative store of answers-in-progress. One Redis hash per
// attempt, one field per question, last write wins guarded by a client
// sequence number.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quizforge/attempt-engine/internal/config"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// upsertScript writes an answer field only if its sequence is newer than
// the currently stored one, then pins the key's expiry. Runs atomically
// server-side so duplicate tabs and network retries cannot interleave a
// stale write between our read and write.
//
// KEYS[1] = attempt answers hash
// ARGV[1] = question ID (hash field)
// ARGV[2] = answer JSON
// ARGV[3] = client sequence
// ARGV[4] = unix expiry (deadline + grace)
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local ok, data = pcall(cjson.decode, cur)
  if ok and data['seq'] and tonumber(data['seq']) >= tonumber(ARGV[3]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('EXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// ProgressBuffer buffers in-progress answers in Redis, keyed by attempt.
type ProgressBuffer struct {
	rdb   *redis.Client
	grace time.Duration
	log   zerolog.Logger
}

// New creates a ProgressBuffer. grace is how long entries survive past the
// attempt deadline before expiring.
func New(rdb *redis.Client, grace time.Duration, log zerolog.Logger) *ProgressBuffer {
	return &ProgressBuffer{
		rdb:   rdb,
		grace: grace,
		log:   log.With().Str("component", "progress_buffer").Logger(),
	}
}

// ExpiryFor returns the instant a buffered attempt's data expires.
func (b *ProgressBuffer) ExpiryFor(deadline time.Time) time.Time {
	return deadline.Add(b.grace)
}

// Upsert stores one answer for the attempt, discarding it if a newer
// sequence is already stored for the same question. Returns whether the
// write was applied.
func (b *ProgressBuffer) Upsert(ctx context.Context, attemptID uuid.UUID, deadline time.Time, ans model.BufferedAnswer) (bool, error) {
	payload, err := json.Marshal(ans)
	if err != nil {
		return false, fmt.Errorf("marshal answer: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	res, err := upsertScript.Run(ctx, b.rdb,
		[]string{key},
		ans.QuestionID.String(), payload, ans.Seq, b.ExpiryFor(deadline).Unix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("buffer upsert: %w", err)
	}

	if res == 0 {
		b.log.Debug().
			Str("attempt_id", attemptID.String()).
			Str("question_id", ans.QuestionID.String()).
			Int64("seq", ans.Seq).
			Msg("Stale write discarded")
	}
	return res == 1, nil
}

// UpsertBatch stores several answers, each individually sequence-guarded.
// The script calls are pipelined; a single failed answer fails the batch.
func (b *ProgressBuffer) UpsertBatch(ctx context.Context, attemptID uuid.UUID, deadline time.Time, answers []model.BufferedAnswer) error {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	expireAt := b.ExpiryFor(deadline).Unix()

	pipe := b.rdb.Pipeline()
	for _, ans := range answers {
		payload, err := json.Marshal(ans)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		upsertScript.Run(ctx, pipe, []string{key}, ans.QuestionID.String(), payload, ans.Seq, expireAt)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer batch upsert: %w", err)
	}
	return nil
}

// ReadAll retrieves every buffered answer for the attempt. An attempt with
// nothing buffered returns an empty slice, not an error.
func (b *ProgressBuffer) ReadAll(ctx context.Context, attemptID uuid.UUID) ([]model.BufferedAnswer, error) {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	fields, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("buffer read: %w", err)
	}

	answers := make([]model.BufferedAnswer, 0, len(fields))
	for qid, raw := range fields {
		var ans model.BufferedAnswer
		if err := json.Unmarshal([]byte(raw), &ans); err != nil {
			b.log.Warn().
				Str("attempt_id", attemptID.String()).
				Str("question_id", qid).
				Err(err).
				Msg("Skipping undecodable buffered answer")
			continue
		}
		answers = append(answers, ans)
	}
	return answers, nil
}

// Clear removes the attempt's buffered data after finalize.
func (b *ProgressBuffer) Clear(ctx context.Context, attemptID uuid.UUID) error {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("buffer clear: %w", err)
	}
	return nil
}
