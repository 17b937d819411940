// Package sdk is the public face of PulseKit. It wires configuration,
// storage, session management, capture, tracing, and export into one
// Client and exposes the handful of calls an instrumented app makes.
package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/executor"
	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/archive"
	"github.com/pulsekit/pulsekit/pkg/attribute"
	"github.com/pulsekit/pulsekit/pkg/config"
	"github.com/pulsekit/pulsekit/pkg/exporter"
	"github.com/pulsekit/pulsekit/pkg/pipeline"
	"github.com/pulsekit/pulsekit/pkg/prefs"
	"github.com/pulsekit/pulsekit/pkg/session"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/telemetry"
	"github.com/pulsekit/pulsekit/pkg/tracing"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// Options configures Init. Zero values pull everything from the config
// search path and environment.
type Options struct {
	// ConfigPath loads exactly this file instead of the search path.
	ConfigPath string

	// Logger overrides the default production logger.
	Logger *zap.Logger
}

// Client is a fully wired capture pipeline. One per process.
type Client struct {
	cfg       *config.Manager
	log       *zap.Logger
	store     *storage.Store
	files     *storage.FileStore
	prefs     *prefs.Store
	exec      *executor.Executor
	sessions  *session.Manager
	processor *pipeline.SignalProcessor
	tracer    *tracing.Tracer
	exporter  *exporter.Exporter
	heartbeat *exporter.Heartbeat
	network   *attribute.NetworkProvider
	redis     *redis.Client
	otel      *telemetry.OTLPExporter

	watcher       *config.Watcher
	watcherCancel context.CancelFunc
	watcherDone   sync.WaitGroup

	coldLaunch sync.WaitGroup
	stopOnce   sync.Once
}

// Init builds a Client from configuration. The returned client is live:
// pending batches from previous launches are already being drained in
// the background.
func Init(ctx context.Context, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, err
		}
	}

	cfg := config.NewManager()
	var err error
	if opts.ConfigPath != "" {
		err = cfg.LoadPath(opts.ConfigPath)
	} else {
		err = cfg.Load()
	}
	if err != nil {
		return nil, err
	}
	conf := cfg.Get()

	store, err := storage.NewStore(conf.Storage.Database, log)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewFileStore(conf.Storage.FilesDir, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	prefStore, err := prefs.NewStore(conf.Storage.RootDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	clock := util.NewTimeProvider()
	ids := util.NewIdProvider()

	c := &Client{
		cfg:   cfg,
		log:   log,
		store: store,
		files: files,
		prefs: prefStore,
	}

	c.sessions = session.NewManager(store, prefStore, cfg, clock, ids, log)

	c.network = attribute.NewNetworkProvider(nil, log)
	attrs := attribute.NewProcessor(log,
		attribute.NewAppProvider(attribute.AppInfo{
			Name:    conf.App.Name,
			Version: conf.App.Version,
			Build:   conf.App.Build,
		}),
		attribute.NewDeviceProvider(),
		attribute.NewInstallationProvider(conf.Storage.RootDir, ids),
		c.network,
		attribute.NewPowerProvider(nil),
	)

	c.exec = executor.New("capture", log)

	var locker exporter.Locker
	if conf.Redis.Enabled {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		locker = exporter.NewRedisLocker(c.redis, "", 0)
	} else {
		locker = exporter.NewLocalLocker()
	}

	creator := exporter.NewBatchCreator(store, cfg, locker, clock, ids, log)
	httpClient := exporter.NewHTTPClient(
		time.Duration(conf.Export.TimeoutMs)*time.Millisecond,
		conf.Export.MaxRedirects, log)
	netClient := exporter.NewNetworkClient(httpClient, store, files, cfg, log)
	c.exporter = exporter.NewExporter(store, files, creator, netClient, cfg, log)

	if conf.Archive.Enabled {
		backend, err := newArchiveBackend(ctx, conf)
		if err != nil {
			log.Warn("archive backend unavailable, archival disabled", zap.Error(err))
		} else {
			c.exporter.OnExported = archive.NewArchiver(backend, store, log).OnExported
		}
	}

	crash := exporter.NewExceptionExporter(store, files, creator, netClient, log)
	c.processor = pipeline.NewSignalProcessor(store, files, c.sessions, attrs,
		cfg, clock, ids, c.exec, crash, log)

	var sink tracing.SpanSink = c.processor
	if conf.Telemetry.Enabled {
		otlpCfg := telemetry.DefaultOTLPConfig(conf.App.Name)
		otlpCfg.ServiceVersion = conf.App.Version
		if conf.Telemetry.Endpoint != "" {
			otlpCfg.Endpoint = conf.Telemetry.Endpoint
		}
		c.otel = telemetry.NewOTLPExporter(otlpCfg)
		if _, err := c.otel.Init(ctx); err != nil {
			log.Warn("span mirroring unavailable", zap.Error(err))
			c.otel = nil
		} else {
			sink = telemetry.NewMirror(c.processor, c.otel, log)
		}
	}

	sampler := tracing.NewRateSampler(conf.Ingest.TraceSamplingRate, time.Now().UnixNano())
	c.tracer = tracing.NewTracer(sink, sampler, clock, ids, c.currentSessionID, log)

	c.heartbeat = exporter.NewHeartbeat(c.exporter, cfg, clock, log)

	if opts.ConfigPath != "" {
		c.startWatcher(opts.ConfigPath)
	}

	c.coldLaunch.Add(1)
	go func() {
		defer c.coldLaunch.Done()
		c.heartbeat.OnColdLaunch(context.Background())
	}()

	log.Info("pulsekit initialized",
		zap.String("app", conf.App.Name),
		zap.String("version", conf.App.Version))
	return c, nil
}

func newArchiveBackend(ctx context.Context, conf *config.Config) (archive.Backend, error) {
	if conf.Archive.Backend == "s3" {
		return archive.NewS3Backend(ctx, archive.S3Config{
			Bucket: conf.Archive.S3Bucket,
			Prefix: conf.Archive.S3Prefix,
			Region: conf.Archive.S3Region,
		})
	}
	return archive.NewLocalBackend(conf.Archive.LocalDir)
}

func (c *Client) startWatcher(path string) {
	w, err := config.NewWatcher(c.cfg, path, c.log)
	if err != nil {
		c.log.Warn("config watch unavailable", zap.Error(err))
		return
	}
	c.watcher = w

	ctx, cancel := context.WithCancel(context.Background())
	c.watcherCancel = cancel
	c.watcherDone.Add(1)
	go func() {
		defer c.watcherDone.Done()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("config watch stopped", zap.Error(err))
		}
	}()
}

// currentSessionID binds spans to the active session.
func (c *Client) currentSessionID() string {
	id, err := c.sessions.SessionID(context.Background())
	if err != nil {
		c.log.Warn("no session for span", zap.Error(err))
		return ""
	}
	return id
}

// TrackEvent captures one event of the given type. data must be
// JSON-encodable; it becomes the event payload.
func (c *Client) TrackEvent(ctx context.Context, eventType model.EventType,
	data interface{}, opts pipeline.TrackOptions) error {
	return c.processor.Track(ctx, eventType, data, opts)
}

// TrackCrash captures an exception and flushes the session before
// returning. Call it from a crash handler as the last thing the
// process does.
func (c *Client) TrackCrash(ctx context.Context, data interface{}, opts pipeline.TrackOptions) error {
	return c.processor.TrackCrash(ctx, data, opts)
}

// StartSpan begins a root span.
func (c *Client) StartSpan(name string) *tracing.Span {
	return c.tracer.StartSpan(name)
}

// StartChildSpan begins a child inheriting trace and sampling decision.
func (c *Client) StartChildSpan(name string, parent *tracing.Span) *tracing.Span {
	return c.tracer.StartChildSpan(name, parent)
}

// OnAppForeground rotates an expired session and starts periodic
// export. Call on every foreground transition, including launch.
func (c *Client) OnAppForeground(ctx context.Context) {
	if err := c.sessions.OnAppForeground(ctx); err != nil {
		c.log.Warn("session rotation failed", zap.Error(err))
	}
	c.heartbeat.OnAppForeground(ctx)
}

// OnAppBackground stops periodic export after one final pass.
func (c *Client) OnAppBackground(ctx context.Context) {
	c.sessions.OnAppBackground()
	c.heartbeat.OnAppBackground(ctx)
}

// Flush runs one export pass now.
func (c *Client) Flush(ctx context.Context) {
	c.exporter.Export(ctx)
}

// Stop drains queued signals and releases every resource. The client
// is unusable afterwards.
func (c *Client) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.heartbeat.Stop()
		c.coldLaunch.Wait()

		if c.watcherCancel != nil {
			c.watcherCancel()
			c.watcherDone.Wait()
			c.watcher.Close()
		}

		err = c.exec.Shutdown(ctx)

		c.network.Stop()

		if c.otel != nil {
			if shutErr := c.otel.Shutdown(ctx); shutErr != nil && err == nil {
				err = shutErr
			}
		}
		if c.redis != nil {
			c.redis.Close()
		}
		if closeErr := c.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		c.log.Sync()
	})
	return err
}
