package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"examgate/pkg/domain"
	"examgate/pkg/platform/sentinel"
)

const keyPrefix = "examgate:subject:"

// RedisDirectory shares the mapping between gateway replicas. Entries never
// expire: a subject ID is permanent upstream.
type RedisDirectory struct {
	client redis.UniversalClient
}

func NewRedisDirectory(client redis.UniversalClient) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func (d *RedisDirectory) Lookup(ctx context.Context, email string) (domain.SubjectID, error) {
	raw, err := d.client.Get(ctx, keyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis get subject: %w", err)
	}
	id, err := domain.ParseSubjectID(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt subject entry for %s: %w", email, err)
	}
	return id, nil
}

func (d *RedisDirectory) Remember(ctx context.Context, email string, subjectID domain.SubjectID) error {
	if err := d.client.Set(ctx, keyPrefix+email, subjectID.String(), 0).Err(); err != nil {
		return fmt.Errorf("redis set subject: %w", err)
	}
	return nil
}
