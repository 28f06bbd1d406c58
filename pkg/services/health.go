package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omnifin/backoffice/pkg/logging"
	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/storage"
)

const healthCheckTimeout = 2 * time.Second

// Component states.
const (
	HealthOK       = "ok"
	HealthDown     = "down"
	HealthDisabled = "disabled"
)

// Pinger is anything that can report reachability, such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthReport is the system health as shown to admins.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthService probes the database, cache and object store.
type HealthService interface {
	Check(ctx context.Context, p models.Principal) (*HealthReport, error)
}

type healthService struct {
	db     Pinger
	redis  redis.UniversalClient
	store  storage.Store
	logger *zap.Logger
}

// NewHealthService creates a HealthService. redisClient may be nil when caching is off.
func NewHealthService(db Pinger, redisClient redis.UniversalClient, store storage.Store, logger *zap.Logger) HealthService {
	return &healthService{
		db:     db,
		redis:  redisClient,
		store:  store,
		logger: logger.Named("health"),
	}
}

var _ HealthService = (*healthService)(nil)

func (s *healthService) Check(ctx context.Context, p models.Principal) (*HealthReport, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	probes := map[string]func(context.Context) error{
		"database": s.db.Ping,
		"storage":  s.store.Health,
	}
	if s.redis != nil {
		probes["cache"] = func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
	}

	report := &HealthReport{
		Status:     HealthOK,
		Components: map[string]ComponentHealth{"cache": {Status: HealthDisabled}},
		Timestamp:  time.Now(),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		g.Go(func() error {
			c := runProbe(gctx, probe)
			mu.Lock()
			report.Components[name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, c := range report.Components {
		if c.Status == HealthDown {
			report.Status = "degraded"
			s.logger.Warn("Dependency unhealthy", zap.String("component", name), zap.String("error", c.Error))
		}
	}
	return report, nil
}

func runProbe(ctx context.Context, probe func(context.Context) error) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	c := ComponentHealth{Status: HealthOK, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Status = HealthDown
		c.Error = logging.SanitizeError(err)
	}
	return c
}
