package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/daemon/events"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/graph"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/metrics"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/retry"
)

// Builder executes a build job and reports its result. A returned error marks
// the attempt failed; transient classified errors are retried.
type Builder interface {
	Build(ctx context.Context, job *BuildJob) (model.Result, error)
}

// History is the build history the queue numbers builds from.
type History interface {
	NextNumber(project string) int
	LastSuccessfulBuild(ctx context.Context, project string) (*model.Build, error)
}

// BuildEventEmitter persists build lifecycle events.
type BuildEventEmitter interface {
	EmitBuildStarted(ctx context.Context, b *model.Build) error
	EmitBuildCompleted(ctx context.Context, b *model.Build) error
}

// Publisher is the in-process bus finished builds are announced on.
type Publisher interface {
	Publish(ctx context.Context, evt any) error
}

// ConsoleFactory opens the console log of a build.
type ConsoleFactory interface {
	OpenConsole(b *model.Build) (io.WriteCloser, error)
}

const publishTimeout = 5 * time.Second

// BuildQueue holds pending builds, coalesces duplicate requests per project
// and runs them on a fixed pool of workers.
type BuildQueue struct {
	jobs        chan *BuildJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	pending     map[string]*BuildJob // project -> job waiting for a worker
	active      map[string]*BuildJob // job id -> job picked up by a worker
	history     []*BuildJob
	historySize int
	lastNumber  map[string]int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	projectLocksMu sync.Mutex
	projectLocks   map[string]*sync.Mutex

	builder      Builder
	graphs       *graph.Holder
	buildHistory History

	retryPolicy  retry.Policy
	recorder     metrics.Recorder
	eventEmitter BuildEventEmitter
	publisher    Publisher
	consoles     ConsoleFactory
}

// NewBuildQueue panics without a builder.
func NewBuildQueue(maxSize, workers int, builder Builder, graphs *graph.Holder, history History) *BuildQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if builder == nil {
		panic("NewBuildQueue: builder is required")
	}

	return &BuildQueue{
		jobs:         make(chan *BuildJob, maxSize),
		workers:      workers,
		maxSize:      maxSize,
		pending:      make(map[string]*BuildJob),
		active:       make(map[string]*BuildJob),
		historySize:  50,
		lastNumber:   make(map[string]int),
		stopChan:     make(chan struct{}),
		projectLocks: make(map[string]*sync.Mutex),
		builder:      builder,
		graphs:       graphs,
		buildHistory: history,
		retryPolicy:  retry.Default,
		recorder:     metrics.NoopRecorder{},
	}
}

// ConfigureRetry installs the queue.retry_* policy. Call before Start.
func (bq *BuildQueue) ConfigureRetry(cfg config.QueueConfig) {
	bq.retryPolicy = retry.FromQueueConfig(cfg)
	if cfg.HistorySize > 0 {
		bq.historySize = cfg.HistorySize
	}
}

// SetRecorder injects a metrics recorder (optional).
func (bq *BuildQueue) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	bq.recorder = r
}

// SetEventEmitter injects the journal build lifecycle events go to.
func (bq *BuildQueue) SetEventEmitter(emitter BuildEventEmitter) {
	bq.eventEmitter = emitter
}

// SetPublisher injects the bus BuildFinished is published on.
func (bq *BuildQueue) SetPublisher(p Publisher) {
	bq.publisher = p
}

// SetConsoles injects the console log factory.
func (bq *BuildQueue) SetConsoles(c ConsoleFactory) {
	bq.consoles = c
}

// Start launches the workers; they run until ctx ends or Stop.
func (bq *BuildQueue) Start(ctx context.Context) {
	slog.Info("Starting build queue", "workers", bq.workers, "max_size", bq.maxSize)
	for i := range bq.workers {
		bq.wg.Add(1)
		go bq.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop cancels running builds and waits for workers to exit.
func (bq *BuildQueue) Stop(_ context.Context) {
	bq.stopOnce.Do(func() { close(bq.stopChan) })

	bq.mu.Lock()
	for _, job := range bq.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	bq.mu.Unlock()

	bq.wg.Wait()
}

// Length counts jobs waiting for a worker.
func (bq *BuildQueue) Length() int {
	return len(bq.jobs)
}

// GetActiveJobs returns copies of the jobs currently picked up by workers.
func (bq *BuildQueue) GetActiveJobs() []*BuildJob {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	active := make([]*BuildJob, 0, len(bq.active))
	for _, job := range bq.active {
		active = append(active, job.snapshot())
	}
	return active
}

// Enqueue schedules a build of project. Modules are built as part of their
// module set. A job already waiting for the same project absorbs the cause
// instead of queueing a second build.
func (bq *BuildQueue) Enqueue(project string, cause model.Cause) error {
	_, err := bq.enqueue(project, cause)
	return err
}

// EnqueueJob is Enqueue returning the (possibly coalesced) job id.
func (bq *BuildQueue) EnqueueJob(project string, cause model.Cause) (string, error) {
	return bq.enqueue(project, cause)
}

func (bq *BuildQueue) enqueue(project string, cause model.Cause) (string, error) {
	p, ok := bq.graphs.Snapshot().Project(project)
	if !ok {
		return "", ferrors.NotFoundError("unknown project").WithContext("project", project).Build()
	}
	if !p.Kind.Buildable() {
		return "", ferrors.ValidationError("external projects are not built by this controller").
			WithContext("project", project).
			Build()
	}
	root := p.RootName()

	bq.mu.Lock()
	defer bq.mu.Unlock()

	if job, ok := bq.pending[root]; ok {
		job.Causes = append(job.Causes, cause)
		slog.Debug("Coalesced build request", logfields.JobID(job.ID), logfields.Project(root), "cause", cause.String())
		return job.ID, nil
	}

	job := &BuildJob{
		ID:        uuid.NewString(),
		Project:   root,
		Causes:    []model.Cause{cause},
		State:     JobQueued,
		CreatedAt: time.Now(),
	}
	select {
	case bq.jobs <- job:
		bq.pending[root] = job
	default:
		return "", ferrors.BuildError("build queue is full").
			WithContext("project", root).
			WithContext("max_size", bq.maxSize).
			Build()
	}
	bq.recorder.SetQueueDepth(len(bq.jobs))
	slog.Info("Build queued", logfields.JobID(job.ID), logfields.Project(root), "cause", cause.String())
	return job.ID, nil
}

// Cancel cancels a running job or drops a waiting one.
func (bq *BuildQueue) Cancel(jobID string) bool {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	if job, ok := bq.active[jobID]; ok {
		if job.cancel != nil {
			job.cancel()
		}
		return true
	}
	for project, job := range bq.pending {
		if job.ID == jobID {
			job.State = JobAborted
			delete(bq.pending, project)
			return true
		}
	}
	return false
}

// IsBuildingOrQueued reports whether project, or the module set it belongs
// to, has a job waiting or running.
func (bq *BuildQueue) IsBuildingOrQueued(project string) bool {
	root := project
	if p, ok := bq.graphs.Snapshot().Project(project); ok {
		root = p.RootName()
	}

	bq.mu.RLock()
	defer bq.mu.RUnlock()

	if _, ok := bq.pending[root]; ok {
		return true
	}
	for _, job := range bq.active {
		if job.Project == root {
			return true
		}
	}
	return false
}

// JobSnapshot returns a copy of a job (waiting, active, then history).
func (bq *BuildQueue) JobSnapshot(id string) (*BuildJob, bool) {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	if j, ok := bq.active[id]; ok {
		return j.snapshot(), true
	}
	for _, j := range bq.pending {
		if j.ID == id {
			return j.snapshot(), true
		}
	}
	for _, j := range bq.history {
		if j.ID == id {
			return j.snapshot(), true
		}
	}
	return nil, false
}

func (bq *BuildQueue) worker(ctx context.Context, workerID string) {
	defer bq.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bq.stopChan:
			return
		case job := <-bq.jobs:
			if job != nil {
				bq.processJob(ctx, job, workerID)
			}
		}
	}
}

// projectLock serializes builds of one project (a module set and its modules
// share one lock), which also serializes build number assignment.
func (bq *BuildQueue) projectLock(project string) *sync.Mutex {
	bq.projectLocksMu.Lock()
	defer bq.projectLocksMu.Unlock()

	l, ok := bq.projectLocks[project]
	if !ok {
		l = &sync.Mutex{}
		bq.projectLocks[project] = l
	}
	return l
}

func (bq *BuildQueue) processJob(ctx context.Context, job *BuildJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	bq.mu.Lock()
	if job.State == JobAborted {
		bq.mu.Unlock()
		return
	}
	if bq.pending[job.Project] == job {
		delete(bq.pending, job.Project)
	}
	job.cancel = cancel
	job.State = JobRunning
	bq.active[job.ID] = job
	bq.mu.Unlock()
	bq.recorder.SetQueueDepth(len(bq.jobs))

	lock := bq.projectLock(job.Project)
	lock.Lock()
	defer lock.Unlock()

	b := bq.startBuild(jobCtx, job, workerID)

	console, closeConsole := bq.openConsole(b)
	bq.mu.Lock()
	job.Console = console
	bq.mu.Unlock()
	result, err := bq.executeBuild(jobCtx, job)
	closeConsole()

	bq.finishBuild(ctx, job, result, err)
}

func (bq *BuildQueue) startBuild(ctx context.Context, job *BuildJob, workerID string) *model.Build {
	g := bq.graphs.Snapshot()
	now := time.Now()

	bq.mu.Lock()
	number := max(bq.buildHistory.NextNumber(job.Project), bq.lastNumber[job.Project]+1)
	bq.lastNumber[job.Project] = number
	bq.mu.Unlock()

	b := &model.Build{
		Project:              job.Project,
		Number:               number,
		Cause:                job.Causes[0],
		UpstreamRelationship: bq.upstreamRelationship(ctx, g, job.Project),
		StartedAt:            now,
	}

	bq.mu.Lock()
	job.StartedAt = &now
	job.Build = b
	bq.mu.Unlock()

	slog.Info("Build started",
		logfields.JobID(job.ID),
		logfields.WorkerID(workerID),
		logfields.Project(b.Project),
		logfields.BuildNumber(b.Number))
	bq.emitStarted(ctx, b)
	return b
}

// upstreamRelationship records the last successful build of every buildable
// upstream of project; module sets include their modules' upstreams outside the set.
func (bq *BuildQueue) upstreamRelationship(ctx context.Context, g *graph.Graph, project string) map[string]int {
	members := []string{project}
	for _, m := range g.Members(project) {
		members = append(members, m.Name)
	}

	rel := make(map[string]int)
	for _, name := range members {
		for _, up := range g.ImmediateUpstream(name) {
			if !up.Kind.Buildable() || up.RootName() == project {
				continue
			}
			if _, done := rel[up.Name]; done {
				continue
			}
			lsb, err := bq.buildHistory.LastSuccessfulBuild(ctx, up.Name)
			if err != nil {
				slog.Warn("Cannot read upstream history", logfields.Project(project), logfields.Upstream(up.Name), logfields.Error(err))
				continue
			}
			if lsb != nil {
				rel[up.Name] = lsb.Number
			}
		}
	}
	if len(rel) == 0 {
		return nil
	}
	return rel
}

func (bq *BuildQueue) openConsole(b *model.Build) (io.Writer, func()) {
	if bq.consoles == nil {
		return io.Discard, func() {}
	}
	w, err := bq.consoles.OpenConsole(b)
	if err != nil {
		slog.Warn("Cannot open build console", logfields.Project(b.Project), logfields.BuildNumber(b.Number), logfields.Error(err))
		return io.Discard, func() {}
	}
	return w, func() {
		if err := w.Close(); err != nil {
			slog.Warn("Closing build console failed", logfields.Project(b.Project), logfields.Error(err))
		}
	}
}

func (bq *BuildQueue) executeBuild(ctx context.Context, job *BuildJob) (model.Result, error) {
	policy := bq.retryPolicy
	for retries := 0; ; retries++ {
		bq.mu.Lock()
		job.Attempts++
		bq.mu.Unlock()
		result, err := bq.builder.Build(ctx, job)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return model.ResultAborted, err
		}
		delay, again := policy.Next(err, retries)
		if !again {
			if retries > 0 && ferrors.IsTransient(err) {
				bq.recorder.IncBuildRetryExhausted(job.Project)
			}
			return result.Combine(model.ResultFailure), err
		}

		bq.recorder.IncBuildRetry(job.Project)
		slog.Warn("Transient build error, retrying",
			logfields.JobID(job.ID),
			logfields.Project(job.Project),
			"attempt", job.Attempts,
			"budget", policy.Budget,
			"delay", delay,
			logfields.Error(err))
		if werr := retry.Sleep(ctx, delay); werr != nil {
			return model.ResultAborted, werr
		}
	}
}

func (bq *BuildQueue) finishBuild(ctx context.Context, job *BuildJob, result model.Result, err error) {
	end := time.Now()
	bq.mu.Lock()
	b := job.Build
	b.Result = result.Ptr()
	b.CompletedAt = end
	bq.mu.Unlock()

	// Persist before leaving the active set so that a trigger evaluation that
	// no longer sees this job always sees its result.
	bq.emitCompleted(ctx, b)

	bq.mu.Lock()
	job.CompletedAt = &end
	job.Duration = end.Sub(*job.StartedAt)
	delete(bq.active, job.ID)
	bq.addToHistory(job)
	job.State = finishedState(result, err)
	if err != nil {
		job.Error = err.Error()
	}
	bq.mu.Unlock()

	bq.recorder.ObserveBuildDuration(b.Project, job.Duration)
	bq.recorder.IncBuildResult(result.String())
	slog.Info("Build finished",
		logfields.JobID(job.ID),
		logfields.Project(b.Project),
		logfields.BuildNumber(b.Number),
		logfields.Result(result.String()),
		logfields.DurationMS(float64(job.Duration.Milliseconds())))

	bq.publishFinished(ctx, b)
}

// StartModule records the start of a module build inside a running module
// set build. The module build shares the module set's build number.
func (bq *BuildQueue) StartModule(ctx context.Context, parent *model.Build, module string) (*model.Build, error) {
	g := bq.graphs.Snapshot()
	p, ok := g.Project(module)
	if !ok || p.Parent != parent.Project {
		return nil, ferrors.NotFoundError("module is not part of the module set").
			WithContext("module", module).
			WithContext("project", parent.Project).
			Build()
	}

	rel := make(map[string]int)
	for _, up := range g.ImmediateUpstream(module) {
		if !up.Kind.Buildable() {
			continue
		}
		lsb, err := bq.buildHistory.LastSuccessfulBuild(ctx, up.Name)
		if err == nil && lsb != nil {
			rel[up.Name] = lsb.Number
		}
	}

	b := &model.Build{
		Project:              module,
		Number:               parent.Number,
		Cause:                parent.Cause,
		Release:              parent.Release,
		UpstreamRelationship: rel,
		StartedAt:            time.Now(),
	}
	if len(rel) == 0 {
		b.UpstreamRelationship = nil
	}
	bq.emitStarted(ctx, b)
	return b, nil
}

// FinishModule records a module build's result and announces it.
func (bq *BuildQueue) FinishModule(ctx context.Context, b *model.Build, result model.Result) {
	b.Result = result.Ptr()
	b.CompletedAt = time.Now()
	bq.emitCompleted(ctx, b)
	slog.Info("Module finished", logfields.Project(b.Project), logfields.BuildNumber(b.Number), logfields.Result(result.String()))
	bq.publishFinished(ctx, b)
}

func (bq *BuildQueue) emitStarted(ctx context.Context, b *model.Build) {
	if bq.eventEmitter == nil {
		return
	}
	if err := bq.eventEmitter.EmitBuildStarted(context.WithoutCancel(ctx), b); err != nil {
		slog.Warn("Failed to emit BuildStarted event", logfields.BuildID(b.ID()), logfields.Error(err))
	}
}

func (bq *BuildQueue) emitCompleted(ctx context.Context, b *model.Build) {
	if bq.eventEmitter == nil {
		return
	}
	if err := bq.eventEmitter.EmitBuildCompleted(context.WithoutCancel(ctx), b); err != nil {
		slog.Warn("Failed to emit BuildCompleted event", logfields.BuildID(b.ID()), logfields.Error(err))
	}
}

func (bq *BuildQueue) publishFinished(ctx context.Context, b *model.Build) {
	if bq.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := bq.publisher.Publish(pctx, events.BuildFinished{Build: b.Clone(), FinishedAt: b.CompletedAt}); err != nil {
		slog.Warn("Failed to publish BuildFinished", logfields.BuildID(b.ID()), logfields.Error(err))
	}
}

func (bq *BuildQueue) addToHistory(job *BuildJob) {
	bq.history = append(bq.history, job)
	if len(bq.history) > bq.historySize {
		copy(bq.history, bq.history[len(bq.history)-bq.historySize:])
		bq.history = bq.history[:bq.historySize]
	}
}
