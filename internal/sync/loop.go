package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tandemapp/tandem-server/internal/domain"
	"github.com/tandemapp/tandem-server/internal/errors"
)

// DefaultSchedule runs a full reconciliation pass every six hours.
const DefaultSchedule = "@every 6h"

// UserSource lists the users a sync pass should cover.
type UserSource interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
}

// LoopConfig tunes the background loop.
type LoopConfig struct {
	// Schedule is a cron expression or @every interval. Empty means
	// DefaultSchedule.
	Schedule string
}

// Loop reconciles all users on a schedule, plus once at startup so a
// freshly deployed server converges without waiting out the first
// interval. Overlapping passes are skipped rather than stacked.
type Loop struct {
	engine   *Engine
	users    UserSource
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLoop builds the background loop. The schedule is validated here so
// a bad configuration fails at startup, not at the first tick.
func NewLoop(engine *Engine, users UserSource, cfg LoopConfig, logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		engine:   engine,
		users:    users,
		schedule: schedule,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	cl := cronLogger{logger: logger}
	l.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cl),
		cron.Recover(cl),
	))
	if _, err := l.cron.AddFunc(schedule, l.runPass); err != nil {
		cancel()
		return nil, errors.Validationf("invalid sync schedule %q: %v", schedule, err)
	}
	return l, nil
}

// Start launches the scheduler and kicks off the initial pass.
func (l *Loop) Start() {
	l.logger.Info("background sync started", "schedule", l.schedule)
	l.cron.Start()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.runPass()
	}()
}

// Stop cancels the running pass, halts the scheduler, and waits for
// in-flight work to drain. It is safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		<-l.cron.Stop().Done()
		l.wg.Wait()
		l.logger.Info("background sync stopped")
	})
}

// runPass reconciles every user once.
func (l *Loop) runPass() {
	if l.ctx.Err() != nil {
		return
	}
	users, err := l.users.ListUsers(l.ctx)
	if err != nil {
		l.logger.Error("listing users for sync pass failed", "error", err)
		return
	}

	started := time.Now()
	sum := l.engine.ReconcileAll(l.ctx, users, domain.TriggerScheduled)
	l.logger.Info("sync pass finished",
		"users", len(users),
		"reconciled", sum.Reconciled,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"record_errors", sum.RecordErrors(),
		"duration", time.Since(started),
	)
}

// cronLogger adapts slog to the scheduler's logger. Scheduler chatter is
// demoted to debug; real errors keep their level.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.logger.Debug(msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.logger.Error(msg, append(kv, "error", err)...)
}
