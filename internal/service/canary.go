package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vitalmesh/gateway/internal/models"
	"github.com/vitalmesh/gateway/pkg/config"
	appErrors "github.com/vitalmesh/gateway/pkg/errors"
)

// RequestContext carries the request attributes canary rules match against.
type RequestContext struct {
	Identity  models.Identity
	Header    http.Header
	Query     url.Values
	UserAgent string
	ClientIP  string
}

// CanaryStore abstracts the optional persistence backend for canary configs.
type CanaryStore interface {
	LoadAll(ctx context.Context) ([]models.CanaryConfig, error)
	Save(ctx context.Context, cfg models.CanaryConfig) error
}

// CanaryService holds per-service traffic-splitting configs and decides the
// target version for each request. Configs are immutable snapshots: Replace
// swaps the stored pointer, so concurrent readers always observe a
// fully-formed rule list.
type CanaryService struct {
	cfg      config.CanaryConfig
	ledger   *MetricsLedger
	validate *validator.Validate
	store    CanaryStore
	logger   *zap.Logger

	mu      sync.RWMutex
	configs map[string]*models.CanaryConfig

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewCanaryService constructs the engine. store may be nil for
// in-memory-only operation.
func NewCanaryService(cfg config.CanaryConfig, ledger *MetricsLedger, validate *validator.Validate, store CanaryStore, logger *zap.Logger) *CanaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CanaryService{
		cfg:      cfg,
		ledger:   ledger,
		validate: validate,
		store:    store,
		logger:   logger,
		configs:  make(map[string]*models.CanaryConfig),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadFromStore seeds the in-memory configs from the persistence backend.
func (s *CanaryService) LoadFromStore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	configs, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range configs {
		cfg := configs[i]
		s.configs[cfg.Service] = &cfg
	}
	s.logger.Info("canary_configs_loaded", zap.Int("count", len(configs)))
	return nil
}

// Config returns the current snapshot for a service, or nil when the service
// has no canary configuration.
func (s *CanaryService) Config(service string) *models.CanaryConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[service]
}

// Configs returns all snapshots, sorted by service name.
func (s *CanaryService) Configs() []models.CanaryConfig {
	s.mu.RLock()
	out := make([]models.CanaryConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, *cfg)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Replace installs a new config for a service wholesale and resets the
// service's version metrics. The previous snapshot keeps serving concurrent
// readers until the pointer swap.
func (s *CanaryService) Replace(ctx context.Context, cfg models.CanaryConfig) error {
	if err := s.validateConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.configs[cfg.Service] = &cfg
	s.mu.Unlock()

	if s.ledger != nil {
		s.ledger.ResetPrefix(cfg.Service + ":")
	}

	if s.store != nil {
		if err := s.store.Save(ctx, cfg); err != nil {
			s.logger.Warn("canary_config_persist_failed",
				zap.String("service", cfg.Service),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("canary_config_replaced",
		zap.String("service", cfg.Service),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("versions", len(cfg.Versions)),
		zap.Int("rules", len(cfg.Rules)),
	)
	return nil
}

func (s *CanaryService) validateConfig(cfg models.CanaryConfig) error {
	if err := s.validate.Struct(cfg); err != nil {
		return appErrors.Wrap(err, appErrors.ErrConfigInvalid.Code, appErrors.ErrConfigInvalid.Status, "invalid canary config")
	}
	return nil
}

// Decide selects the version that should serve a request. The order is:
// explicit override, first matching rule, weighted random, default version.
// Malformed rules are skipped so a bad entry never fails the request.
func (s *CanaryService) Decide(cfg *models.CanaryConfig, rctx RequestContext) string {
	if cfg == nil || !cfg.Enabled || len(cfg.Versions) == 0 {
		if cfg == nil {
			return ""
		}
		return cfg.DefaultVersion
	}

	if override := s.override(rctx); override != "" && cfg.HasVersion(override) {
		return override
	}

	for i, rule := range cfg.Rules {
		matched, err := s.matchRule(rule, rctx)
		if err != nil {
			s.logger.Warn("canary_rule_skipped",
				zap.String("service", cfg.Service),
				zap.Int("rule_index", i),
				zap.Error(err),
			)
			continue
		}
		if matched {
			return rule.TargetVersion
		}
	}

	return s.weightedPick(cfg)
}

func (s *CanaryService) override(rctx RequestContext) string {
	if rctx.Header != nil {
		if v := strings.TrimSpace(rctx.Header.Get(s.cfg.OverrideHeader)); v != "" {
			return v
		}
	}
	if rctx.Query != nil {
		if v := strings.TrimSpace(rctx.Query.Get(s.cfg.OverrideParam)); v != "" {
			return v
		}
	}
	return ""
}

func (s *CanaryService) matchRule(rule models.CanaryRule, rctx RequestContext) (bool, error) {
	if rule.TargetVersion == "" {
		return false, appErrors.Clone(appErrors.ErrConfigInvalid, "rule missing target version")
	}

	switch rule.Type {
	case models.RuleUserID:
		return rctx.Identity.UserID != "" && containsExact(rule.Values, rctx.Identity.UserID), nil
	case models.RuleUserGroup:
		for _, group := range rctx.Identity.Groups {
			if containsExact(rule.Values, group) {
				return true, nil
			}
		}
		return false, nil
	case models.RuleHeader:
		if rule.Name == "" {
			return false, appErrors.Clone(appErrors.ErrConfigInvalid, "header rule missing header name")
		}
		if rctx.Header == nil {
			return false, nil
		}
		return contains(rule.Values, rctx.Header.Get(rule.Name)), nil
	case models.RuleQuery:
		if rule.Name == "" {
			return false, appErrors.Clone(appErrors.ErrConfigInvalid, "query rule missing parameter name")
		}
		if rctx.Query == nil {
			return false, nil
		}
		return contains(rule.Values, queryValue(rctx.Query, rule.Name)), nil
	case models.RuleDevice:
		return contains(rule.Values, deviceClass(rctx.UserAgent)), nil
	case models.RuleRandom:
		if rule.Percentage <= 0 {
			return false, nil
		}
		if rule.Percentage >= 100 {
			return true, nil
		}
		return s.randFloat() < float64(rule.Percentage)/100, nil
	case models.RuleIP:
		return rctx.ClientIP != "" && containsExact(rule.Values, rctx.ClientIP), nil
	default:
		return false, appErrors.Clone(appErrors.ErrConfigInvalid, "unknown rule type "+string(rule.Type))
	}
}

// weightedPick walks cumulative weights with a uniform draw in
// [0, totalWeight). Zero total weight falls back to the default version.
func (s *CanaryService) weightedPick(cfg *models.CanaryConfig) string {
	total := 0
	for _, v := range cfg.Versions {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return cfg.DefaultVersion
	}

	draw := s.randIntn(total)
	cumulative := 0
	for _, v := range cfg.Versions {
		if v.Weight <= 0 {
			continue
		}
		cumulative += v.Weight
		if draw < cumulative {
			return v.Name
		}
	}
	return cfg.DefaultVersion
}

func (s *CanaryService) randFloat() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}

func (s *CanaryService) randIntn(n int) int {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Intn(n)
}

// RecordOutcome feeds a completed canary-routed call into the per-version
// metrics. Statuses >= 400 count toward the version error rate.
func (s *CanaryService) RecordOutcome(service, version string, status int, latency time.Duration) {
	if s.ledger == nil || version == "" {
		return
	}
	s.ledger.Record(metricsKey(service, version), status, latency)
}

// Status combines one service's config with its live version metrics.
func (s *CanaryService) Status(service string) (models.CanaryStatus, error) {
	cfg := s.Config(service)
	if cfg == nil {
		return models.CanaryStatus{}, appErrors.Clone(appErrors.ErrNotFound, "no canary config for service")
	}
	return models.CanaryStatus{Config: *cfg, Metrics: s.versionMetrics(cfg)}, nil
}

// Statuses exports every configured service with its metrics.
func (s *CanaryService) Statuses() []models.CanaryStatus {
	configs := s.Configs()
	out := make([]models.CanaryStatus, 0, len(configs))
	for i := range configs {
		cfg := configs[i]
		out = append(out, models.CanaryStatus{Config: cfg, Metrics: s.versionMetrics(&cfg)})
	}
	return out
}

// VersionMetrics returns the metrics for each declared version of a config.
func (s *CanaryService) versionMetrics(cfg *models.CanaryConfig) []models.VersionMetricsSnapshot {
	if s.ledger == nil {
		return nil
	}
	out := make([]models.VersionMetricsSnapshot, 0, len(cfg.Versions))
	for _, v := range cfg.Versions {
		snap := s.ledger.Snapshot(metricsKey(cfg.Service, v.Name))
		snap.Version = v.Name
		out = append(out, snap)
	}
	return out
}

func metricsKey(service, version string) string {
	return service + ":" + version
}

// contains matches case-insensitively; header, query, and device values are
// compared this way.
func contains(values []string, candidate string) bool {
	if candidate == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(v, candidate) {
			return true
		}
	}
	return false
}

// containsExact matches case-sensitively; user IDs, group names, and client
// IPs are opaque identifiers.
func containsExact(values []string, candidate string) bool {
	if candidate == "" {
		return false
	}
	for _, v := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

func queryValue(query url.Values, name string) string {
	if v := query.Get(name); v != "" {
		return v
	}
	// Query parameter names match case-insensitively, like header names.
	for key, values := range query {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func deviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(ua, marker) {
			return "mobile"
		}
	}
	return "desktop"
}

// RedisCanaryStore persists canary configs as JSON values under a shared key
// prefix so configs survive gateway restarts.
type RedisCanaryStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCanaryStore constructs a store over an existing client.
func NewRedisCanaryStore(client *redis.Client, prefix string) *RedisCanaryStore {
	if prefix == "" {
		prefix = "gateway:canary:"
	}
	return &RedisCanaryStore{client: client, prefix: prefix}
}

// LoadAll scans the key prefix and decodes every stored config. Entries that
// fail to decode are skipped rather than failing startup.
func (r *RedisCanaryStore) LoadAll(ctx context.Context) ([]models.CanaryConfig, error) {
	var (
		cursor  uint64
		configs []models.CanaryConfig
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 50).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var cfg models.CanaryConfig
			if err := json.Unmarshal(raw, &cfg); err != nil || cfg.Service == "" {
				continue
			}
			configs = append(configs, cfg)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return configs, nil
}

// Save writes one config under its service key.
func (r *RedisCanaryStore) Save(ctx context.Context, cfg models.CanaryConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+cfg.Service, raw, 0).Err()
}
