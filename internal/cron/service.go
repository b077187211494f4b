// Package cron runs the periodic maintenance jobs. Every job is guarded so
// it never overlaps itself; jobs do not coordinate beyond that.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

// Job statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

var (
	ErrJobExists   = errors.New("job already exists")
	ErrJobNotFound = errors.New("job not found")
)

// Func is the body of a job. ctx is cancelled when the service stops.
type Func func(ctx context.Context) error

type JobState struct {
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	LastTookMs  int64  `json:"last_took_ms,omitempty"`
	Runs        int    `json:"runs"`
	Skipped     int    `json:"skipped"`
}

type Job struct {
	Name    string        `json:"name"`
	Every   time.Duration `json:"every"`
	Enabled bool          `json:"enabled"`
	State   JobState      `json:"state"`
}

type entry struct {
	fn      Func
	running atomic.Bool
}

type Service struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	jobs     []Job
	entries  map[string]*entry
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job name -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:   logger.Named("cron"),
		now:      time.Now,
		entries:  make(map[string]*entry),
		entryMap: make(map[string]rcron.EntryID),
		runCtx:   context.Background(),
	}
}

// cronLogger adapts zap to the robfig logger interface.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) { l.s.Debugw(msg, keysAndValues...) }

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("cron already started")
	}
	clog := cronLogger{s: s.logger.Sugar()}
	s.cron = rcron.New(
		rcron.WithLogger(clog),
		rcron.WithChain(rcron.Recover(clog), rcron.SkipIfStillRunning(clog)),
	)
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.registerJob(s.jobs[i])
		}
	}
	n := len(s.jobs)
	s.cron.Start()
	s.mu.Unlock()

	s.logger.Info("started", zap.Int("jobs", n))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// registerJob schedules job. Callers hold s.mu.
func (s *Service) registerJob(job Job) {
	name := job.Name
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", job.Every), func() {
		s.executeJob(name)
	})
	if err != nil {
		s.logger.Error("register job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.entryMap[name] = id
}

func (s *Service) unregisterJob(name string) {
	if id, ok := s.entryMap[name]; ok {
		if s.cron != nil {
			s.cron.Remove(id)
		}
		delete(s.entryMap, name)
	}
}

// executeJob runs a job unless it is already running and records the
// outcome. A panic is recorded as an error.
func (s *Service) executeJob(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !e.running.CompareAndSwap(false, true) {
		s.record(name, StatusSkipped, nil, 0)
		return nil
	}
	defer e.running.Store(false)

	start := s.now()
	err := safeRun(ctx, e.fn)
	took := s.now().Sub(start)

	if err != nil {
		s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		s.record(name, StatusError, err, took)
		return err
	}
	s.logger.Debug("job done", zap.String("job", name), zap.Duration("took", took))
	s.record(name, StatusOK, nil, took)
	return nil
}

func safeRun(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Service) record(name, status string, err error, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].Name != name {
			continue
		}
		st := &s.jobs[i].State
		if status == StatusSkipped {
			st.Skipped++
			return
		}
		st.Runs++
		st.LastRunAtMs = s.now().UnixMilli()
		st.LastStatus = status
		st.LastTookMs = took.Milliseconds()
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
		return
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.cron = nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if c == nil {
		return
	}
	if stopCh != nil {
		close(stopCh)
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("stop timeout waiting for running jobs")
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("stopped")
}

// AddJob registers fn to run every interval. Jobs added after Start are
// scheduled immediately.
func (s *Service) AddJob(name string, every time.Duration, fn Func) (*Job, error) {
	if name == "" || fn == nil {
		return nil, errors.New("job needs a name and a func")
	}
	if every <= 0 {
		return nil, fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	job := Job{Name: name, Every: every, Enabled: true}
	s.jobs = append(s.jobs, job)
	s.entries[name] = &entry{fn: fn}
	if s.cron != nil {
		s.registerJob(job)
	}
	return &job, nil
}

func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.Name == name {
			s.unregisterJob(name)
			delete(s.entries, name)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) EnableJob(name string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Name != name {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[name]; !ok {
					s.registerJob(s.jobs[i])
				}
			} else {
				s.unregisterJob(name)
			}
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// RunNow runs a job synchronously under the same non-overlap guard.
func (s *Service) RunNow(name string) error {
	return s.executeJob(name)
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}
