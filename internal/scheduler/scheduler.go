// Package scheduler runs the periodic background jobs: SOS escalation, the
// anomaly sweep and pruning of idle rate limiters.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/adedejiosvaldo/safetour/backend/internal/logger"
)

// Job is one periodic unit of work. It returns how many items it handled.
type Job func(ctx context.Context) (int, error)

type Scheduler struct {
	c       *cron.Cron
	timeout time.Duration
	log     *zap.Logger

	// running guards against overlapping runs of the same job
	mu      sync.Mutex
	running map[string]bool
}

func New(loc *time.Location, timeout time.Duration) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	log := logger.Named("scheduler")
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
		timeout: timeout,
		log:     log,
		running: make(map[string]bool),
	}
}

// Add registers job under name on a cron spec such as "@every 1m".
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := s.c.AddFunc(spec, func() { s.Run(context.Background(), name, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

// Run executes job once unless a previous run of name is still going.
func (s *Scheduler) Run(ctx context.Context, name string, job Job) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn("previous run still in progress, skipping", zap.String("job", name))
		return
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("job finished", zap.String("job", name), zap.Int("handled", n), zap.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

func (s *Scheduler) Entries() []cron.Entry { return s.c.Entries() }

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
