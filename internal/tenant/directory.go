package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"eduvia/portal/internal/metrics"
)

var ErrSchoolNotFound = errors.New("school not found")

// School is the tenant profile served by the school service.
type School struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	Email     string `json:"email,omitempty"`
	LogoURL   string `json:"logoUrl,omitempty"`
	Verified  bool   `json:"verified"`
}

type SchoolFetcher interface {
	SchoolBySubdomain(ctx context.Context, subdomain string) (School, error)
}

// Directory looks schools up by tenant key. Concurrent lookups for the same
// key share one upstream call; hits are cached in Redis when configured.
type Directory struct {
	fetcher SchoolFetcher
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

func NewDirectory(fetcher SchoolFetcher, redisClient *redis.Client, ttl time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{fetcher: fetcher, redis: redisClient, ttl: ttl, logger: logger}
}

func (d *Directory) Lookup(ctx context.Context, key string) (School, error) {
	if key == "" {
		return School{}, ErrSchoolNotFound
	}
	if school, ok := d.cached(ctx, key); ok {
		metrics.TenantLookups.WithLabelValues("hit").Inc()
		return school, nil
	}
	metrics.TenantLookups.WithLabelValues("miss").Inc()

	value, err, _ := d.group.Do(key, func() (interface{}, error) {
		school, err := d.fetcher.SchoolBySubdomain(ctx, key)
		if err != nil {
			return School{}, err
		}
		d.store(ctx, key, school)
		return school, nil
	})
	if err != nil {
		return School{}, err
	}
	return value.(School), nil
}

// Forget drops the cached profile, e.g. after a verification change.
func (d *Directory) Forget(ctx context.Context, key string) error {
	if d.redis == nil {
		return nil
	}
	return d.redis.Del(ctx, schoolCacheKey(key)).Err()
}

func (d *Directory) cached(ctx context.Context, key string) (School, bool) {
	if d.redis == nil || d.ttl <= 0 {
		return School{}, false
	}
	value, err := d.redis.Get(ctx, schoolCacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn("school cache read failed", "tenant", key, "error", err)
		}
		return School{}, false
	}
	var school School
	if err := json.Unmarshal(value, &school); err != nil {
		return School{}, false
	}
	return school, true
}

func (d *Directory) store(ctx context.Context, key string, school School) {
	if d.redis == nil || d.ttl <= 0 {
		return
	}
	data, err := json.Marshal(school)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, schoolCacheKey(key), data, d.ttl).Err(); err != nil {
		d.logger.Warn("school cache write failed", "tenant", key, "error", err)
	}
}

func schoolCacheKey(key string) string {
	return fmt.Sprintf("tenant_school:%s", key)
}
