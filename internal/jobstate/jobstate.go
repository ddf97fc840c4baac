// Package jobstate keeps per-job status and in-flight claims in Redis.
package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/doc-converter/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStatusTTL is how long a job's status stays pollable
	DefaultStatusTTL = 24 * time.Hour

	// DefaultClaimTTL bounds how long a crashed leader can block a key
	DefaultClaimTTL = 30 * time.Minute

	maxTransitionAttempts = 5
)

// releaseScript deletes the claim only when it still names the caller's job
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the claim only when it still names the caller's job
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Store implements job status and in-flight claims on go-redis.
// It is safe for concurrent use.
type Store struct {
	client    redis.UniversalClient
	statusTTL time.Duration
	claimTTL  time.Duration
}

// NewStore creates a Store. Zero TTLs fall back to the defaults.
func NewStore(client redis.UniversalClient, statusTTL, claimTTL time.Duration) *Store {
	if statusTTL <= 0 {
		statusTTL = DefaultStatusTTL
	}
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Store{
		client:    client,
		statusTTL: statusTTL,
		claimTTL:  claimTTL,
	}
}

// Put writes status, replacing whatever was stored for its handle
func (s *Store) Put(ctx context.Context, status domain.JobStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode job status: %w", err)
	}
	if err := s.client.Set(ctx, StatusKey(status.Handle), data, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to store job status: %w", err)
	}
	return nil
}

// Get loads the status for handle, or domain.ErrJobNotFound
func (s *Store) Get(ctx context.Context, handle domain.JobHandle) (*domain.JobStatus, error) {
	data, err := s.client.Get(ctx, StatusKey(handle)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job status: %w", err)
	}
	return decodeStatus(data)
}

// Delete removes the status for handle
func (s *Store) Delete(ctx context.Context, handle domain.JobHandle) error {
	if err := s.client.Del(ctx, StatusKey(handle)).Err(); err != nil {
		return fmt.Errorf("failed to delete job status: %w", err)
	}
	return nil
}

// Transition moves a job to state. Terminal states are final: a transition out
// of SUCCEEDED or FAILED is ignored. The read-modify-write runs under WATCH.
func (s *Store) Transition(ctx context.Context, handle domain.JobHandle, state domain.JobState, reason string) error {
	key := StatusKey(handle)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		status, err := decodeStatus(data)
		if err != nil {
			return err
		}
		if status.State.Terminal() {
			return nil
		}

		status.State = state
		status.Error = reason
		status.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("failed to encode job status: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.statusTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return fmt.Errorf("failed to transition job: %w", err)
		}
		return err
	}
	return fmt.Errorf("failed to transition job: %w", redis.TxFailedErr)
}

// ClaimInFlight records handle as the job producing key. When another job
// already holds the claim its handle is returned with claimed=false.
func (s *Store) ClaimInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) (domain.JobHandle, bool, error) {
	claimKey := InFlightKey(key)

	ok, err := s.client.SetNX(ctx, claimKey, string(handle), s.claimTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim key: %w", err)
	}
	if ok {
		return handle, true, nil
	}

	owner, err := s.client.Get(ctx, claimKey).Result()
	if errors.Is(err, redis.Nil) {
		// released between SETNX and GET, try once more
		ok, err = s.client.SetNX(ctx, claimKey, string(handle), s.claimTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to claim key: %w", err)
		}
		if ok {
			return handle, true, nil
		}
		owner, err = s.client.Get(ctx, claimKey).Result()
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read claim owner: %w", err)
	}
	return domain.JobHandle(owner), false, nil
}

// ReleaseInFlight drops the claim on key if handle still owns it
func (s *Store) ReleaseInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) error {
	if err := releaseScript.Run(ctx, s.client, []string{InFlightKey(key)}, string(handle)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// RefreshInFlight pushes the claim's expiry out while handle is still working on key
func (s *Store) RefreshInFlight(ctx context.Context, key domain.CacheKey, handle domain.JobHandle) error {
	err := refreshScript.Run(ctx, s.client, []string{InFlightKey(key)}, string(handle), s.claimTTL.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh claim: %w", err)
	}
	return nil
}

// InFlightOwner returns the handle holding the claim on key, or
// domain.ErrJobNotFound when no job is producing it
func (s *Store) InFlightOwner(ctx context.Context, key domain.CacheKey) (domain.JobHandle, error) {
	owner, err := s.client.Get(ctx, InFlightKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read claim owner: %w", err)
	}
	return domain.JobHandle(owner), nil
}

func decodeStatus(data []byte) (*domain.JobStatus, error) {
	var status domain.JobStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &status, nil
}
