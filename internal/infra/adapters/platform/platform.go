// Package platform implements the ad platform adapters. Each adapter
// satisfies adapter.AudiencePlatformAdapter and keeps its platform's wire
// format private to this package.
package platform

import (
	"context"
	"fmt"
	"net/http"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/infra/metrics"
	"audience-activation/internal/infra/redis"
	"audience-activation/internal/infra/retry"
)

// countRetries wraps a retried operation and counts every attempt after the
// first against the platform's retry metric.
func countRetries(p model.Platform, stage string, op func(ctx context.Context) error) func(ctx context.Context) error {
	attempt := 0
	return func(ctx context.Context) error {
		if attempt > 0 {
			metrics.IncRemoteRetry(string(p), stage)
		}
		attempt++
		return op(ctx)
	}
}

// chunk splits identifiers into platform-sized upload batches, preserving
// list order.
func chunk(ids []*model.UserIdentifier, size int) [][]*model.UserIdentifier {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	out := make([][]*model.UserIdentifier, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// statusErr converts a non-2xx response into an error, marking statuses that
// retrying cannot fix (bad request, auth) as permanent.
func statusErr(platform string, code int) error {
	err := fmt.Errorf("%s http %d", platform, code)
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return retry.Permanent(err)
	}
	return err
}

// acquire consults the shared per-platform request budget before a remote
// call. A nil limiter always admits.
func acquire(ctx context.Context, limiter *redis.RateLimiter, p model.Platform) error {
	ok, err := limiter.Allow(ctx, string(p))
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// requireHashed guards against a lifecycle bug sending plaintext: every
// identifier crossing the process boundary must already carry its digest.
func requireHashed(ids []*model.UserIdentifier) error {
	for i, id := range ids {
		if !id.IsHashed() {
			return fmt.Errorf("%w: identifier %d not hashed", domain.ErrInvalidArgument, i)
		}
	}
	return nil
}
