// Package scheduler drives the periodic proxy sweep and source ingestion.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/router-for-me/ProxyPool/internal/proxies"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultProxyCheckInterval is how often a proxy batch is started.
	DefaultProxyCheckInterval = time.Second
	// DefaultSourceCheckInterval is how often the next due source is ingested.
	DefaultSourceCheckInterval = 60 * time.Second
)

// ProxyChecker runs one proxy sweep.
type ProxyChecker interface {
	CheckBatch(ctx context.Context) proxies.BatchResult
}

// SourceChecker ingests the next due source.
type SourceChecker interface {
	CheckNext(ctx context.Context) (string, bool)
}

// Scheduler fires the two background jobs on fixed intervals.
type Scheduler struct {
	cron           *cron.Cron
	proxies        ProxyChecker
	sources        SourceChecker
	proxyInterval  time.Duration
	sourceInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New constructs a scheduler. Non-positive intervals fall back to the defaults.
func New(proxyChecker ProxyChecker, sourceChecker SourceChecker, proxyInterval, sourceInterval time.Duration) *Scheduler {
	if proxyInterval <= 0 {
		proxyInterval = DefaultProxyCheckInterval
	}
	if sourceInterval <= 0 {
		sourceInterval = DefaultSourceCheckInterval
	}
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron:           cron.New(cron.WithChain(cron.Recover(logger)), cron.WithLogger(logger)),
		proxies:        proxyChecker,
		sources:        sourceChecker,
		proxyInterval:  proxyInterval,
		sourceInterval: sourceInterval,
	}
}

// Start registers the jobs and starts the cron loop. Jobs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if s.proxies != nil {
		s.cron.Schedule(cron.Every(s.proxyInterval), cron.FuncJob(func() {
			if jobCtx.Err() != nil {
				return
			}
			s.proxies.CheckBatch(jobCtx)
		}))
	}
	if s.sources != nil {
		s.cron.Schedule(cron.Every(s.sourceInterval), cron.FuncJob(func() {
			if jobCtx.Err() != nil {
				return
			}
			s.sources.CheckNext(jobCtx)
		}))
	}
	s.cancel = cancel
	s.started = true
	s.cron.Start()

	go func() {
		<-jobCtx.Done()
		s.Stop()
	}()

	log.Infof("scheduler started (proxy_check=%s, source_check=%s)", s.proxyInterval, s.sourceInterval)
	return nil
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	log.Info("scheduler stopped")
}
