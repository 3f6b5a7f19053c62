package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.pilab.hu/idp/domain"
)

// RevocationStore keeps revoked refresh-token fingerprints in a per-tenant
// sorted set scored by revocation time (unix seconds).
type RevocationStore struct {
	client redis.UniversalClient
	prefix string
}

var _ domain.RevocationStore = (*RevocationStore)(nil)

func NewRevocationStore(client redis.UniversalClient, prefix string) *RevocationStore {
	return &RevocationStore{client: client, prefix: prefix}
}

func (s *RevocationStore) redisKey(tenantID string) string {
	key := "revocations_" + tenantID
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Record adds the fingerprints and prunes entries older than retention in one transaction.
func (s *RevocationStore) Record(ctx context.Context, tenantID string, fingerprints []string, at time.Time, retention time.Duration) error {
	key := s.redisKey(tenantID)
	score := float64(at.Unix())
	cutoff := at.Add(-retention).Unix()

	members := make([]redis.Z, 0, len(fingerprints))
	for _, fp := range fingerprints {
		members = append(members, redis.Z{Score: score, Member: fp})
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record revocations in Redis: %w", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	err := s.client.ZScore(ctx, s.redisKey(tenantID), fingerprint).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check revocation in Redis: %w", err)
	}
	return true, nil
}
