package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// ConfigSource loads configurations from the system of record.
type ConfigSource interface {
	LoadConfiguration(ctx context.Context, orgID int64) (Configuration, error)
}

// Resolver serves configurations through a cache.
type Resolver struct {
	source ConfigSource
	cache  Cache
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver constructs a Resolver. A nil cache disables caching.
func NewResolver(source ConfigSource, cache Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: cache, logger: logger}
}

// Configuration returns the organization's configuration.
func (r *Resolver) Configuration(ctx context.Context, orgID int64) (Configuration, error) {
	if r.cache != nil {
		cfg, ok, err := r.cache.Get(ctx, orgID)
		if err != nil {
			r.logger.Warn("approval config cache read", slog.Int64("organization_id", orgID), slog.Any("error", err))
		} else if ok {
			return cfg, nil
		}
	}
	v, err, _ := r.group.Do(strconv.FormatInt(orgID, 10), func() (any, error) {
		cfg, err := r.source.LoadConfiguration(ctx, orgID)
		if err != nil {
			return Configuration{}, err
		}
		cfg.OrganizationID = orgID
		if r.cache != nil {
			if err := r.cache.Set(ctx, cfg); err != nil {
				r.logger.Warn("approval config cache write", slog.Int64("organization_id", orgID), slog.Any("error", err))
			}
		}
		return cfg, nil
	})
	if err != nil {
		return Configuration{}, err
	}
	return v.(Configuration), nil
}

// Feature returns the chain for feature or ErrConfigurationMissing.
func (r *Resolver) Feature(ctx context.Context, orgID int64, feature string) (FeatureConfig, error) {
	cfg, err := r.Configuration(ctx, orgID)
	if err != nil {
		return FeatureConfig{}, err
	}
	fc, ok := cfg.Feature(feature)
	if !ok {
		return FeatureConfig{}, fmt.Errorf("%w: organization %d feature %s", ErrConfigurationMissing, orgID, feature)
	}
	return fc, nil
}

// Invalidate drops the cached configuration so the next read reloads it.
func (r *Resolver) Invalidate(ctx context.Context, orgID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, orgID)
}
