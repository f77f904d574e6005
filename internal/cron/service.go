package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

// Handler runs one job and returns a short result line.
type Handler func(ctx context.Context) (string, error)

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Service schedules registered jobs with robfig/cron and persists their run
// state to storePath.
type Service struct {
	storePath string
	loc       *time.Location
	log       zerolog.Logger

	mu       sync.Mutex
	jobs     []CronJob
	handlers map[string]Handler
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job name -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}

	now func() time.Time
}

func NewService(storePath string, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		storePath: storePath,
		loc:       loc,
		log:       logging.Named("cron"),
		handlers:  make(map[string]Handler),
		entryMap:  make(map[string]rcron.EntryID),
		now:       time.Now,
	}
}

// Register adds a job, or replaces the schedule and handler of an existing
// one. It must be called before Start.
func (s *Service) Register(name, expr string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("job name and handler are required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[name] = h
	if i := s.indexLocked(name); i >= 0 {
		s.jobs[i].Schedule.Expr = expr
		return nil
	}
	s.jobs = append(s.jobs, CronJob{Name: name, Enabled: true, Schedule: Schedule{Expr: expr}})
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.load(); err != nil {
		s.log.Warn().Err(err).Msg("failed to load job state")
	}

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithParser(parser), rcron.WithLocation(s.loc))
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.registerLocked(&s.jobs[i])
		}
	}
	n := len(s.entryMap)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", n).Msg("started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) registerLocked(job *CronJob) {
	if _, ok := s.handlers[job.Name]; !ok {
		s.log.Warn().Str("job", job.Name).Msg("no handler registered, skipping")
		return
	}
	name := job.Name
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(name)
	})
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Str("expr", job.Schedule.Expr).Msg("failed to register job")
		return
	}
	s.entryMap[name] = id
}

func (s *Service) executeJob(name string) (string, error) {
	s.mu.Lock()
	h := s.handlers[name]
	ctx := s.runCtx
	s.mu.Unlock()

	if h == nil {
		return "", fmt.Errorf("job %s not found", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.log.Info().Str("job", name).Msg("executing")
	result, err := h(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(name); i >= 0 {
		st := &s.jobs[i].State
		st.LastRunAtMs = s.now().UnixMilli()
		st.Runs++
		if err != nil {
			st.LastStatus = StatusError
			st.LastError = err.Error()
			st.LastResult = ""
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
		} else {
			st.LastStatus = StatusOK
			st.LastError = ""
			st.LastResult = logging.Truncate(result, 200)
			s.log.Info().Str("job", name).Str("result", st.LastResult).Msg("job done")
		}
	}
	if serr := s.save(); serr != nil {
		s.log.Warn().Err(serr).Msg("failed to save job state")
	}
	return result, err
}

// RunNow executes a job immediately, outside its schedule.
func (s *Service) RunNow(name string) (string, error) {
	return s.executeJob(name)
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			s.log.Warn().Msg("stop timeout waiting for running jobs")
		}
	}
	s.log.Info().Msg("stopped")
}

// ListJobs returns a copy of all jobs with their next run time filled in.
func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]CronJob, len(s.jobs))
	copy(result, s.jobs)
	for i := range result {
		result[i].State.NextRunAtMs = 0
		if id, ok := s.entryMap[result[i].Name]; ok && s.cron != nil {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				result[i].State.NextRunAtMs = next.UnixMilli()
			}
		}
	}
	return result
}

func (s *Service) EnableJob(name string, enabled bool) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(name)
	if i < 0 {
		return nil, fmt.Errorf("job %s not found", name)
	}
	s.jobs[i].Enabled = enabled
	if s.cron != nil {
		if enabled {
			if _, ok := s.entryMap[name]; !ok {
				s.registerLocked(&s.jobs[i])
			}
		} else if entryID, ok := s.entryMap[name]; ok {
			s.cron.Remove(entryID)
			delete(s.entryMap, name)
		}
	}
	_ = s.save()
	job := s.jobs[i]
	return &job, nil
}

func (s *Service) indexLocked(name string) int {
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			return i
		}
	}
	return -1
}

// load merges persisted state and enabled flags into registered jobs.
// Persisted jobs without a registered handler are dropped.
func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var stored []CronJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stored {
		if i := s.indexLocked(st.Name); i >= 0 {
			s.jobs[i].Enabled = st.Enabled
			s.jobs[i].State = st.State
		}
	}
	return nil
}

func (s *Service) save() error {
	if s.storePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}

// ReadState returns the persisted jobs at path without scheduling them.
func ReadState(path string) ([]CronJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var jobs []CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse job state: %w", err)
	}
	return jobs, nil
}

// StatePath is where the gateway persists job state under dir.
func StatePath(dir string) string {
	return filepath.Join(dir, "data", "cron", "jobs.json")
}
