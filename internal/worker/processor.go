// Package worker runs the background maintenance tasks: expiring stale
// invites and sweeping disconnected searchers whose grace period ran out.
package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TaskExpireInvites = "cleanup:invites"
	TaskSweepStale    = "cleanup:stale"
)

// Sweeper is the engine surface the maintenance tasks drive.
type Sweeper interface {
	ExpireInvites(now time.Time) int
	SweepStale(now time.Time) int
}

type Processor struct {
	sweeper  Sweeper
	server   *asynq.Server
	client   *asynq.Client
	interval time.Duration
	log      zerolog.Logger
	cancel   context.CancelFunc
}

func NewProcessor(sweeper Sweeper, redisAddr string, interval time.Duration, log zerolog.Logger) *Processor {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"cleanup": 1,
			},
			Logger: asynqLogger{log},
		},
	)

	return &Processor{
		sweeper:  sweeper,
		server:   server,
		client:   asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		interval: interval,
		log:      log,
	}
}

func (p *Processor) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskExpireInvites, p.handleExpireInvites)
	mux.HandleFunc(TaskSweepStale, p.handleSweepStale)

	go func() {
		if err := p.server.Run(mux); err != nil {
			p.log.Error().Err(err).Msg("task server stopped")
		}
	}()

	ctx, p.cancel = context.WithCancel(ctx)
	go p.enqueueLoop(ctx)

	p.log.Info().Dur("interval", p.interval).Msg("background processor started")
	return nil
}

func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.server.Shutdown()
	p.client.Close()
}

func (p *Processor) handleExpireInvites(ctx context.Context, task *asynq.Task) error {
	if n := p.sweeper.ExpireInvites(time.Now()); n > 0 {
		p.log.Info().Int("count", n).Msg("expired invites")
	}
	return nil
}

func (p *Processor) handleSweepStale(ctx context.Context, task *asynq.Task) error {
	if n := p.sweeper.SweepStale(time.Now()); n > 0 {
		p.log.Info().Int("count", n).Msg("swept stale searchers")
	}
	return nil
}

func (p *Processor) enqueueLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, taskType := range []string{TaskExpireInvites, TaskSweepStale} {
				task := asynq.NewTask(taskType, nil)
				if _, err := p.client.Enqueue(task, asynq.Queue("cleanup")); err != nil {
					p.log.Error().Err(err).Str("task", taskType).Msg("enqueueing cleanup task")
				}
			}
		}
	}
}

type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msgf("%v", args) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Debug().Msgf("%v", args) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msgf("%v", args) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msgf("%v", args) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msgf("%v", args) }
