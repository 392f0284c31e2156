package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"talkpip/config"
	"talkpip/logging"
	"talkpip/talk"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Processor runs every stage of one talk, reporting progress through tr.
type Processor interface {
	Process(ctx context.Context, t *talk.Talk, tr Tracker) error
}

// Tracker moves a job through its stages.
type Tracker interface {
	Advance(to Status) error
}

// Admitter decides whether the host can take on another talk right now.
type Admitter interface {
	Wait(ctx context.Context) error
}

// Batch is a set of talks submitted together.
type Batch struct {
	ID        string
	CreatedAt time.Time
	jobs      []*Job
	remaining int
	done      chan struct{}
}

// BatchSnapshot is a point-in-time copy of a batch safe to hand out.
type BatchSnapshot struct {
	ID        string      `json:"batchId"`
	CreatedAt time.Time   `json:"createdAt"`
	Done      bool        `json:"done"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []JobResult `json:"results"`
}

type Manager struct {
	cfg            *config.Config
	proc           Processor
	gate           Admitter
	mu             sync.Mutex
	batches        map[string]*Batch
	order          []string
	pending        []*Job
	wake           chan struct{}
	concurrencySem chan struct{}
	dirs           map[string]chan struct{}
	running        sync.WaitGroup
	stopped        bool
}

func NewManager(cfg *config.Config, proc Processor, gate Admitter) (*Manager, error) {
	if proc == nil {
		return nil, fmt.Errorf("task manager needs a processor")
	}
	slots := cfg.MaxConcurrency
	if slots < 1 {
		slots = 1
	}
	m := &Manager{
		cfg:            cfg,
		proc:           proc,
		gate:           gate,
		batches:        make(map[string]*Batch),
		dirs:           make(map[string]chan struct{}),
		wake:           make(chan struct{}, 1),
		concurrencySem: make(chan struct{}, slots),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	log.Info().Int("concurrency", cap(m.concurrencySem)).Msg("task manager started")
	go m.workerLoop(ctx)
}

// workerLoop claims a processing slot, then hands it the oldest queued job.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx.Err())
			return
		case m.concurrencySem <- struct{}{}:
		}

		j := m.next(ctx)
		if j == nil {
			<-m.concurrencySem
			m.shutdown(ctx.Err())
			return
		}

		m.running.Add(1)
		go func(j *Job) {
			defer func() {
				<-m.concurrencySem // Release slot
				m.running.Done()
			}()
			m.processJob(ctx, j)
		}(j)
	}
}

// next blocks until a job is queued or ctx ends.
func (m *Manager) next(ctx context.Context) *Job {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m.mu.Lock()
		if len(m.pending) > 0 {
			j := m.pending[0]
			m.pending[0] = nil
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return j
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}
	}
}

// shutdown fails every job still waiting in the queue so each batch ends
// with one result per talk.
func (m *Manager) shutdown(cause error) {
	m.mu.Lock()
	m.stopped = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(pending) > 0 {
		log.Warn().Int("jobs", len(pending)).Msg("failing queued talks on shutdown")
	}
	for _, j := range pending {
		m.finish(j, fmt.Errorf("%w: %v", errCanceledInQueue, cause))
	}
	log.Info().Msg("worker loop shutting down")
}

// Drain waits for every in-flight talk to return.
func (m *Manager) Drain() {
	m.running.Wait()
}

// Submit queues one job per entry, in order, and returns the new batch.
func (m *Manager) Submit(entries []talk.Entry) (*Batch, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("batch has no talks")
	}
	now := time.Now()
	b := &Batch{
		ID:        shortuuid.New(),
		CreatedAt: now,
		remaining: len(entries),
		done:      make(chan struct{}),
	}
	for i, e := range entries {
		b.jobs = append(b.jobs, &Job{
			ID:        b.ID + "-" + strconv.Itoa(i),
			BatchID:   b.ID,
			Index:     i,
			Talk:      talk.New(i, e.URL, m.cfg.OutputDir),
			Status:    StatusQueued,
			CreatedAt: now,
		})
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, fmt.Errorf("task manager is shut down")
	}
	m.batches[b.ID] = b
	m.order = append(m.order, b.ID)
	m.pending = append(m.pending, b.jobs...)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	log.Info().Str("batch", b.ID).Int("talks", len(entries)).Msg("batch submitted to queue")
	return b, nil
}

// Wait blocks until every talk of the batch has finished and returns their
// results in input order. It returns early with ctx's error.
func (m *Manager) Wait(ctx context.Context, batchID string) ([]JobResult, error) {
	m.mu.Lock()
	b, ok := m.batches[batchID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("batch %s not found", batchID)
	}

	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	snap, _ := m.Get(batchID)
	return snap.Results, nil
}

// processJob handles the execution of a single talk. Talks sharing a
// directory run one after another. The job is finished only after the
// talk's lock and log file are released.
func (m *Manager) processJob(ctx context.Context, j *Job) {
	var err error
	defer func() { m.finish(j, err) }()

	m.mu.Lock()
	j.StartedAt = time.Now()
	t := j.Talk
	m.mu.Unlock()

	logger := log.With().Str("batch", j.BatchID).Str("talk", t.ID).Logger()

	release, err := m.claimDir(ctx, t.Dir)
	if err != nil {
		logger.Warn().Err(err).Msg("talk canceled while waiting for its directory")
		return
	}
	defer release()

	unlock, err := t.Lock()
	if err != nil {
		logger.Error().Err(err).Msg("talk is busy")
		return
	}
	defer unlock()

	talkLogger, closeLog, logErr := logging.TalkLogger(t.Dir, map[string]string{"batch": j.BatchID, "talk": t.ID})
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("per-talk log unavailable, using global logger")
	} else {
		logger = talkLogger
		defer closeLog()
	}
	ctx = logger.WithContext(ctx)
	logger.Info().Str("url", t.URL).Int("index", j.Index).Msg("processing talk")

	if m.gate != nil {
		if err = m.gate.Wait(ctx); err != nil {
			logger.Error().Err(err).Msg("talk not admitted")
			return
		}
	}

	err = m.safeProcess(ctx, t, &jobTracker{m: m, j: j, logger: &logger})
	if err != nil {
		logger.Error().Err(err).Str("kind", Kind(err)).Msg("talk failed")
	} else {
		logger.Info().Str("output", t.OutputPath).Msg("talk completed successfully")
	}
}

// claimDir waits until no other job of this manager works in dir. The file
// lock taken afterwards only guards against other processes.
func (m *Manager) claimDir(ctx context.Context, dir string) (func(), error) {
	m.mu.Lock()
	sem, ok := m.dirs[dir]
	if !ok {
		sem = make(chan struct{}, 1)
		m.dirs[dir] = sem
	}
	m.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// safeProcess turns a panic inside one talk into that talk's failure.
func (m *Manager) safeProcess(ctx context.Context, t *talk.Talk, tr *jobTracker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("stack", string(debug.Stack())).Msg("panic while processing talk")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.proc.Process(ctx, t, tr)
}

func (m *Manager) finish(j *Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.Status.Terminal() {
		return
	}
	j.CompletedAt = time.Now()
	if err != nil {
		j.Stage = j.Status
		var se *StageError
		if errors.As(err, &se) {
			j.Stage = se.Stage
		}
		j.Status = StatusFailed
		j.Err = err
	} else if j.Status == StatusCompositing {
		j.Status = StatusDone
	} else {
		j.Stage = j.Status
		j.Status = StatusFailed
		j.Err = fmt.Errorf("processor returned in stage %s without finishing", j.Stage)
	}

	b := m.batches[j.BatchID]
	b.remaining--
	if b.remaining == 0 {
		close(b.done)
	}
}

type jobTracker struct {
	m      *Manager
	j      *Job
	logger *zerolog.Logger
}

func (tr *jobTracker) Advance(to Status) error {
	tr.m.mu.Lock()
	from := tr.j.Status
	if !CanTransition(from, to) || to.Terminal() {
		tr.m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	tr.j.Status = to
	tr.j.Stage = to
	tr.m.mu.Unlock()

	tr.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("stage")
	return nil
}

func (m *Manager) snapshot(b *Batch) BatchSnapshot {
	s := BatchSnapshot{ID: b.ID, CreatedAt: b.CreatedAt, Done: b.remaining == 0, Total: len(b.jobs)}
	for _, j := range b.jobs {
		r := j.result()
		switch r.Status {
		case StatusDone:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
		s.Results = append(s.Results, r)
	}
	return s
}

func (m *Manager) Get(batchID string) (BatchSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return BatchSnapshot{}, false
	}
	return m.snapshot(b), true
}

// List returns every batch, newest first.
func (m *Manager) List() []BatchSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchSnapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.snapshot(m.batches[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// OutputFor returns the composite of the most recent finished job whose talk
// directory is named key.
func (m *Manager) OutputFor(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		for _, j := range m.batches[m.order[i]].jobs {
			if j.Talk.Key == key && j.Status == StatusDone {
				return j.Talk.OutputPath, nil
			}
		}
	}
	return "", fmt.Errorf("no finished output for talk %s", key)
}
