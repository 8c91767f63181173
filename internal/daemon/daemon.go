// Package daemon wires the controller together: dependency graph, build
// history, build queue, remote executor and downstream trigger dispatch.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cascade/internal/agent"
	"git.home.luguber.info/inful/cascade/internal/build/queue"
	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/daemon/events"
	"git.home.luguber.info/inful/cascade/internal/eventstore"
	"git.home.luguber.info/inful/cascade/internal/executor"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/graph"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/metrics"
	"git.home.luguber.info/inful/cascade/internal/splitlog"
	"git.home.luguber.info/inful/cascade/internal/transport"
	"git.home.luguber.info/inful/cascade/internal/trigger"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon is the long-running controller.
type Daemon struct {
	config         *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time
	mu             sync.RWMutex

	graphs     *graph.Holder
	bus        *events.Bus
	store      eventstore.Store
	journal    *eventstore.Journal
	buildQueue *queue.BuildQueue
	engine     *trigger.Engine
	dispatcher *trigger.Dispatcher
	logDir     *splitlog.LogDir
	recorder   metrics.Recorder
	registry   *prom.Registry

	nc            *nats.Conn
	configWatcher *ConfigWatcher
	janitor       *Janitor
	metricsServer *MetricsServer

	cancelRun context.CancelFunc // ends Start; set while running
	wg        sync.WaitGroup
}

// New builds a daemon from cfg. configFilePath enables hot reload of the
// project graph when non-empty.
func New(cfg *config.Config, configFilePath string) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.DaemonError("configuration is required").Build()
	}

	d := &Daemon{
		config:         cfg,
		configFilePath: configFilePath,
		bus:            events.NewBus(),
		recorder:       metrics.NoopRecorder{},
	}
	d.status.Store(StatusStopped)

	g, err := buildGraph(cfg)
	if err != nil {
		return nil, err
	}
	d.graphs = graph.NewHolder(g)

	if cfg.Monitoring.Metrics.Enabled {
		d.registry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
		d.metricsServer = NewMetricsServer(cfg.Monitoring.Metrics, d.registry)
	}

	store, err := eventstore.NewSQLiteStore(cfg.Storage.EventDB)
	if err != nil {
		return nil, err
	}
	d.store = store
	projection := eventstore.NewBuildHistoryProjection(store, cfg.Storage.HistorySize)
	if err := projection.Rebuild(context.Background()); err != nil {
		slog.Warn("Failed to rebuild build history projection", logfields.Error(err))
	}
	d.journal = eventstore.NewJournal(store, projection)

	launcher, err := d.launcher()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	d.logDir = splitlog.NewLogDir(cfg.SplitLog.SegmentDir, cfg.SplitLog.CompressSegments)
	builder := executor.NewRemoteBuilder(launcher, d.graphs, d.logDir, splitlog.Options{
		SpillThreshold:  cfg.SplitLog.SpillThreshold,
		SpillDir:        cfg.SplitLog.SpillDir,
		RecheckInterval: cfg.SplitLog.RecheckIntervalDuration(),
		MarkTimeout:     cfg.SplitLog.MarkTimeoutDuration(),
		Recorder:        d.recorder,
	})

	d.buildQueue = queue.NewBuildQueue(cfg.Queue.MaxSize, cfg.Queue.Workers, builder, d.graphs, projection)
	d.buildQueue.ConfigureRetry(cfg.Queue)
	d.buildQueue.SetRecorder(d.recorder)
	d.buildQueue.SetEventEmitter(d.journal)
	d.buildQueue.SetPublisher(d.bus)
	d.buildQueue.SetConsoles(d.logDir)
	builder.SetModules(d.buildQueue)

	graphs := trigger.GraphFunc(func() trigger.Graph { return d.graphs.Snapshot() })
	d.engine = trigger.NewEngine(graphs, projection, d.buildQueue, trigger.WithRecorder(d.recorder))
	d.dispatcher = trigger.NewDispatcher(d.engine, d.buildQueue, d.journal)

	d.janitor, err = NewJanitor(cfg.Janitor, cfg.SplitLog.SpillDir, d.logDir, cfg.Storage.HistorySize)
	if err != nil {
		d.closeResources()
		return nil, err
	}

	if configFilePath != "" {
		d.configWatcher, err = NewConfigWatcher(configFilePath, d)
		if err != nil {
			d.closeResources()
			return nil, err
		}
	}
	return d, nil
}

func buildGraph(cfg *config.Config) (*graph.Graph, error) {
	projects, err := cfg.BuildProjects()
	if err != nil {
		return nil, err
	}
	return graph.New(projects)
}

// launcher returns the NATS client when a server is configured and an
// in-process agent otherwise.
func (d *Daemon) launcher() (transport.Launcher, error) {
	tc := d.config.Transport
	if tc.NATSURL == "" {
		slog.Info("No NATS server configured; running builds in-process")
		return transport.NewLoopback(agent.New("local", agent.ExecRunner{})), nil
	}
	nc, err := transport.Connect(tc.NATSURL, "cascade-controller")
	if err != nil {
		return nil, err
	}
	d.nc = nc
	return transport.NewClient(nc, tc), nil
}

// Start runs the daemon until ctx is canceled or Stop is called. A stopped
// daemon cannot be restarted.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return ferrors.DaemonError(fmt.Sprintf("daemon is not in stopped state: %s", d.GetStatus())).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting cascade controller", slog.Int("projects", len(d.graphs.Snapshot().Projects())))

	if d.metricsServer != nil {
		if err := d.metricsServer.Start(); err != nil {
			d.status.Store(StatusError)
			d.mu.Unlock()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancelRun = cancel
	d.startTriggerLoop(runCtx)
	d.buildQueue.Start(runCtx)
	d.janitor.Start()
	if d.configWatcher != nil {
		if err := d.configWatcher.Start(runCtx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		}
	}
	d.logAgents(runCtx)

	d.status.Store(StatusRunning)
	d.mu.Unlock()
	slog.Info("Cascade controller started")

	<-runCtx.Done()
	return d.Stop(context.Background())
}

// logAgents reports the agents present in the registry, if there is one.
func (d *Daemon) logAgents(ctx context.Context) {
	if d.nc == nil {
		return
	}
	subjects := transport.Subjects{Prefix: d.config.Transport.SubjectPrefix}
	lctx, cancel := context.WithTimeout(ctx, d.config.Transport.RequestTimeoutDuration())
	defer cancel()
	registry, err := transport.OpenRegistry(lctx, d.nc, subjects)
	if err != nil {
		slog.Warn("Agent registry unavailable", logfields.Error(err))
		return
	}
	agents, err := registry.List(lctx)
	if err != nil {
		slog.Warn("Cannot list agents", logfields.Error(err))
		return
	}
	for _, a := range agents {
		slog.Info("Agent registered", logfields.Agent(a.Name), "host", a.Hostname, "version", a.Version, "heartbeat", a.Heartbeat, "running", a.Running)
	}
	if !containsAgent(agents, d.config.Transport.Agent) {
		slog.Warn("Configured agent is not registered", logfields.Agent(d.config.Transport.Agent))
	}
}

func containsAgent(agents []transport.AgentInfo, name string) bool {
	for _, a := range agents {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Stop shuts everything down. It is safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	if d.cancelRun != nil {
		d.cancelRun()
		d.cancelRun = nil
	}
	slog.Info("Stopping cascade controller")

	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(ctx); err != nil {
			slog.Error("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if err := d.janitor.Stop(); err != nil {
		slog.Error("Failed to stop janitor", logfields.Error(err))
	}
	d.buildQueue.Stop(ctx)
	d.bus.Close()
	d.wg.Wait()
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Error("Failed to stop metrics server", logfields.Error(err))
		}
	}
	d.closeResources()

	d.status.Store(StatusStopped)
	slog.Info("Cascade controller stopped", "uptime", time.Since(d.startTime).Round(time.Second))
	return nil
}

func (d *Daemon) closeResources() {
	if d.nc != nil {
		d.nc.Close()
		d.nc = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Error("Failed to close event store", logfields.Error(err))
		}
		d.store = nil
	}
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// GetConfig returns the configuration the daemon was started with.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Graphs returns the dependency graph holder.
func (d *Daemon) Graphs() *graph.Holder { return d.graphs }

// Queue returns the build queue.
func (d *Daemon) Queue() *queue.BuildQueue { return d.buildQueue }

// History returns the build history projection.
func (d *Daemon) History() *eventstore.BuildHistoryProjection { return d.journal.Projection() }

// Bus returns the in-process event bus.
func (d *Daemon) Bus() *events.Bus { return d.bus }

// LogDir returns where build logs are written.
func (d *Daemon) LogDir() *splitlog.LogDir { return d.logDir }
