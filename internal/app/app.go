// Package app assembles the pipeline's collaborators from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	membackend "github.com/clinassist/kbpipeline/internal/backend/memory"
	restbackend "github.com/clinassist/kbpipeline/internal/backend/rest"
	"github.com/clinassist/kbpipeline/internal/clock/system"
	"github.com/clinassist/kbpipeline/internal/config"
	"github.com/clinassist/kbpipeline/internal/discovery"
	"github.com/clinassist/kbpipeline/internal/extractor"
	collyfetcher "github.com/clinassist/kbpipeline/internal/fetcher/colly"
	filefetcher "github.com/clinassist/kbpipeline/internal/fetcher/file"
	headlessfetcher "github.com/clinassist/kbpipeline/internal/fetcher/headless"
	"github.com/clinassist/kbpipeline/internal/hash/sha256"
	"github.com/clinassist/kbpipeline/internal/id/uuid"
	"github.com/clinassist/kbpipeline/internal/indexer"
	"github.com/clinassist/kbpipeline/internal/orchestrator"
	"github.com/clinassist/kbpipeline/internal/pipeline"
	pubpublisher "github.com/clinassist/kbpipeline/internal/publisher/pubsub"
	"github.com/clinassist/kbpipeline/internal/query"
	"github.com/clinassist/kbpipeline/internal/ratelimit"
	"github.com/clinassist/kbpipeline/internal/state"
	"github.com/clinassist/kbpipeline/internal/storage/gcs"
	"github.com/clinassist/kbpipeline/internal/storage/local"
	"github.com/clinassist/kbpipeline/internal/storage/memory"
	"github.com/clinassist/kbpipeline/internal/storage/postgres"
	"github.com/clinassist/kbpipeline/internal/tracker"
)

// App holds the wired service graph for the CLI commands.
type App struct {
	Cfg       config.Config
	Log       *zap.Logger
	Records   pipeline.RecordStore
	Blobs     pipeline.BlobStore
	States    *state.Store
	Limiter   *ratelimit.Limiter
	Extractor *extractor.Extractor
	Tracker   *tracker.Tracker
	Indexer   *indexer.Indexer
	Backends  map[string]pipeline.SearchBackend
	Publisher pipeline.Publisher
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator

	pgStore      *postgres.RecordStore
	gcsClient    *gcstorage.Client
	pubsubClient *pubsub.Client
}

// New builds the application graph. Optional collaborators (Postgres, GCS,
// Pub/Sub, the REST backend) fall back to in-memory implementations when
// their config is absent, which keeps local development dependency-free.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Cfg:   cfg,
		Log:   log,
		Clock: system.New(),
		IDs:   uuid.New(),
	}

	states, err := state.New(cfg.Crawl.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state dir: %w", err)
	}
	a.States = states
	a.Limiter = ratelimit.New(time.Second)
	a.Extractor = extractor.New(sha256.New())

	if cfg.DB.DSN != "" {
		pg, err := postgres.NewRecordStore(ctx, postgres.Config{DSN: cfg.DB.DSN})
		if err != nil {
			return nil, fmt.Errorf("connect record store: %w", err)
		}
		a.pgStore = pg
		a.Records = pg
	} else {
		log.Warn("db.dsn not set, using in-memory record store")
		a.Records = memory.NewRecordStore()
	}

	if err := a.buildBlobStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildBackends(); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	a.Tracker = tracker.New(a.Records, 30*24*time.Hour)
	for name, profile := range cfg.Sources {
		if profile.StalenessDays > 0 {
			a.Tracker.SetStaleness(name, profile.Staleness())
		}
	}

	chunker, err := indexer.NewChunker(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("configure chunker: %w", err)
	}
	a.Indexer = indexer.New(chunker, a.Records, a.Blobs, a.Backends,
		cfg.Storage.ProcessedPrefix, log)

	return a, nil
}

func (a *App) buildBlobStore(ctx context.Context) error {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("configure gcs blob store: %w", err)
		}
		a.Blobs = store
	case "local":
		store, err := local.New(local.Config{BaseDir: a.Cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("configure local blob store: %w", err)
		}
		a.Blobs = store
	case "", "memory":
		a.Blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider %q", a.Cfg.Storage.Provider)
	}
	return nil
}

func (a *App) buildBackends() error {
	a.Backends = make(map[string]pipeline.SearchBackend)
	for _, profile := range a.Cfg.Sources {
		if _, ok := a.Backends[profile.Corpus]; ok {
			continue
		}
		if a.Cfg.Backend.BaseURL == "" {
			a.Backends[profile.Corpus] = membackend.New()
			continue
		}
		client, err := restbackend.New(restbackend.Config{
			BaseURL: a.Cfg.Backend.BaseURL,
			Corpus:  profile.Corpus,
			APIKey:  a.Cfg.Backend.APIKey,
			Timeout: time.Duration(a.Cfg.Backend.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("configure backend for corpus %s: %w", profile.Corpus, err)
		}
		a.Backends[profile.Corpus] = client
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	if a.Cfg.PubSub.ProjectID == "" || a.Cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.Cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.pubsubClient = client
	a.Publisher = pubpublisher.New(client)
	return nil
}

// SelectFetcher picks the fetcher implementation for a source profile.
func (a *App) SelectFetcher(profile config.SourceProfile) pipeline.Fetcher {
	switch {
	case profile.Kind == config.KindDirectory:
		f, err := filefetcher.New(profile.Root)
		if err != nil {
			a.Log.Error("file fetcher unavailable",
				zap.String("source", profile.Name), zap.Error(err))
			return nil
		}
		return f
	case profile.RenderJS:
		f, err := headlessfetcher.New(headlessfetcher.Config{
			UserAgent:         a.Cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(a.Cfg.Crawl.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			a.Log.Error("headless fetcher unavailable",
				zap.String("source", profile.Name), zap.Error(err))
			return nil
		}
		return f
	default:
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.Cfg.Crawl.UserAgent,
			RespectRobots: profile.RespectRobots,
			Timeout:       time.Duration(a.Cfg.Crawl.TimeoutSeconds) * time.Second,
		})
	}
}

// Orchestrator builds a crawl orchestrator over the app's collaborators.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		SelectFetcher: a.SelectFetcher,
		Limiter:       a.Limiter,
		Extractor:     a.Extractor,
		Tracker:       a.Tracker,
		Indexer:       a.Indexer,
		Records:       a.Records,
		Blobs:         a.Blobs,
		Publisher:     a.Publisher,
		States:        a.States,
		Clock:         a.Clock,
		IDs:           a.IDs,
		Retry: pipeline.NewExponentialRetryPolicy(
			a.Cfg.Crawl.MaxRetries,
			time.Duration(a.Cfg.Crawl.BackoffInitialMs)*time.Millisecond,
			time.Duration(a.Cfg.Crawl.BackoffMaxMs)*time.Millisecond,
		),
	}, orchestrator.Config{
		Workers:   a.Cfg.Crawl.Workers,
		RawPrefix: a.Cfg.Storage.RawPrefix,
		Topic:     a.Cfg.PubSub.TopicName,
	}, a.Log)
}

// Discoverer builds a catalog discoverer. Remote discovery uses the plain
// HTTP fetcher regardless of the profile's render_js flag; sitemaps and
// listing pages are static.
func (a *App) Discoverer() *discovery.Discoverer {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.Cfg.Crawl.UserAgent,
		Timeout:   time.Duration(a.Cfg.Crawl.TimeoutSeconds) * time.Second,
	})
	return discovery.New(fetcher, a.Limiter, a.States, a.Clock, a.Log)
}

// QueryRouter builds the fan-out query router over the configured corpora.
func (a *App) QueryRouter() *query.Router {
	priority := make(map[string]int, len(a.Cfg.Query.Priority))
	for i, source := range a.Cfg.Query.Priority {
		priority[source] = i
	}

	var corpora []query.Corpus
	for name, profile := range a.Cfg.Sources {
		prio, ok := priority[name]
		if !ok {
			prio = len(priority) + 1
		}
		corpora = append(corpora, query.Corpus{
			Name:     profile.Corpus,
			Source:   name,
			Priority: prio,
			Backend:  a.Backends[profile.Corpus],
		})
	}
	return query.New(corpora, a.Records, nil, query.Options{
		TopK:    a.Cfg.Query.TopK,
		Timeout: time.Duration(a.Cfg.Query.TimeoutSeconds) * time.Second,
	}, a.Log)
}

// Close releases external connections.
func (a *App) Close() {
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Log.Warn("close gcs client", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Log.Warn("close pubsub client", zap.Error(err))
		}
	}
}
