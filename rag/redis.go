package rag

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisIndex is an Index backed by a Redis instance. Each chunk lives in a
// hash under <prefix>:chunk:<id> with the id registered in the
// <prefix>:chunks set; ranking happens client-side over the candidate set.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisIndex.
type RedisOption func(*RedisIndex)

// WithPrefix sets the key prefix. Default is "copilot".
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisIndex) { r.prefix = prefix }
}

// NewRedisIndex creates an Index on top of an existing Redis client.
func NewRedisIndex(client *redis.Client, opts ...RedisOption) *RedisIndex {
	idx := &RedisIndex{client: client, prefix: "copilot"}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (r *RedisIndex) chunkKey(id string) string { return r.prefix + ":chunk:" + id }
func (r *RedisIndex) setKey() string            { return r.prefix + ":chunks" }

// Upsert writes chunks in one pipelined round-trip.
func (r *RedisIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, contents []string, metadata []map[string]string) error {
	if len(ids) != len(vectors) || len(ids) != len(contents) {
		return errors.New("ids, vectors, and contents must have the same length")
	}

	pipe := r.client.Pipeline()
	for i, id := range ids {
		vec, err := json.Marshal(normalize(vectors[i]))
		if err != nil {
			return errors.Wrap(err, "marshal vector")
		}
		fields := map[string]any{
			"content": contents[i],
			"vector":  string(vec),
		}
		if metadata != nil && i < len(metadata) && metadata[i] != nil {
			meta, err := json.Marshal(metadata[i])
			if err != nil {
				return errors.Wrap(err, "marshal metadata")
			}
			fields["metadata"] = string(meta)
		}
		pipe.HSet(ctx, r.chunkKey(id), fields)
		pipe.SAdd(ctx, r.setKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis upsert")
	}
	return nil
}

// Search loads the candidate set, scores it client-side, and returns the
// topK hits by strictly non-increasing similarity.
func (r *RedisIndex) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	ids, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis search")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.chunkKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "redis search")
	}

	query := normalize(vector)
	results := make([]SearchResult, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(fields["vector"]), &vec); err != nil {
			continue
		}
		var meta map[string]string
		if raw, ok := fields["metadata"]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				meta = nil
			}
		}
		if !matchesFilter(meta, filter) {
			continue
		}

		results = append(results, SearchResult{
			ID:       id,
			Content:  fields["content"],
			Metadata: meta,
			Score:    similarity(query, vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes chunks and their set registrations.
func (r *RedisIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.chunkKey(id))
		pipe.SRem(ctx, r.setKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis delete")
	}
	return nil
}

// Count reports the number of registered chunks.
func (r *RedisIndex) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.setKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis count")
	}
	return int(n), nil
}

// Clear removes every chunk and the registration set.
func (r *RedisIndex) Clear(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return errors.Wrap(err, "redis clear")
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.chunkKey(id))
	}
	pipe.Del(ctx, r.setKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis clear")
	}
	return nil
}
