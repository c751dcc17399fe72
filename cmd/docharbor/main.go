package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/docharbor/docharbor/internal/artifacts"
	"github.com/docharbor/docharbor/internal/config"
	"github.com/docharbor/docharbor/internal/director"
	"github.com/docharbor/docharbor/internal/events"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/sandbox"
	"github.com/docharbor/docharbor/internal/server"
	"github.com/docharbor/docharbor/internal/store"
	"github.com/docharbor/docharbor/internal/vlock"
	"github.com/docharbor/docharbor/internal/webhook"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"docharbor.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the build service: webhook endpoints, queue, and API"`

	Build struct {
		Project string `arg:"" help:"Project slug"`
		Version string `arg:"" help:"Version slug"`
	} `cmd:"" help:"Run a single build synchronously"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Project struct {
		Add struct {
			Slug          string `arg:"" help:"Project slug"`
			RepoURL       string `arg:"" help:"Repository clone URL"`
			DefaultBranch string `help:"Pin the default branch instead of following the remote"`
			Language      string `help:"Documentation language" default:"en"`
		} `cmd:"" help:"Register a project"`

		Sync struct {
			Slug string `arg:"" help:"Project slug"`
		} `cmd:"" help:"Sync versions from the remote repository"`
	} `cmd:"" help:"Manage projects"`
}

var logLevel = new(slog.LevelVar)

func main() {
	kctx := kong.Parse(&CLI)

	if err := run(kctx.Command()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(command string) error {
	if command == "init" {
		setupLogging(config.Default())
		return config.Init(CLI.Config, CLI.Init.Force)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	switch command {
	case "serve":
		return runServe(cfg)
	case "build <project> <version>":
		return runBuild(cfg, CLI.Build.Project, CLI.Build.Version)
	case "project add <slug> <repo-url>":
		return runProjectAdd(cfg)
	case "project sync <slug>":
		return runProjectSync(cfg, CLI.Project.Sync.Slug)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// loadConfig falls back to defaults when the default config file is
// absent, so the service is runnable out of the box.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(CLI.Config); os.IsNotExist(err) && CLI.Config == "docharbor.yaml" {
		return config.Default(), nil
	}
	return config.Load(CLI.Config)
}

func setupLogging(cfg *config.Config) {
	logLevel.Set(cfg.Logging.SlogLevel())
	if CLI.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// services holds the wired components shared by serve and build.
type services struct {
	cfg       *config.Config
	store     *store.Store
	recorder  *metrics.PrometheusRecorder
	publisher events.Publisher
	queue     *queue.Queue
	director  *director.Director
}

func newServices(cfg *config.Config) (*services, error) {
	if err := os.MkdirAll(cfg.Storage.CheckoutRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create checkout root: %w", err)
	}
	if dir := filepath.Dir(cfg.Storage.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	recorder := metrics.NewPrometheusRecorder(prometheus.NewRegistry())

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL)
		if err != nil {
			slog.Warn("Could not connect to NATS, build events disabled",
				"url", cfg.Events.NATSURL, "error", err)
		} else {
			publisher = p
		}
	}

	sink, err := artifacts.NewFSSink(filepath.Join(cfg.Storage.CheckoutRoot, "artifacts"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create artifact sink: %w", err)
	}

	d := director.New(director.Options{
		Store:             st,
		Locks:             vlock.NewRegistry(cfg.Build.TimeBudget),
		Envs:              dockerEnvFactory(docker, st, cfg),
		Cache:             artifacts.NewToolCache(sink),
		Events:            publisher,
		Metrics:           recorder,
		CheckoutRoot:      cfg.Storage.CheckoutRoot,
		VCSImage:          cfg.Build.VCSImage,
		BuildImagePattern: cfg.Build.BuildImagePattern,
		CloneDepth:        cfg.Build.CloneDepth,
	})

	return &services{
		cfg:       cfg,
		store:     st,
		recorder:  recorder,
		publisher: publisher,
		queue:     queue.New(cfg.Queue.MaxSize, cfg.Queue.Workers, d, recorder),
		director:  d,
	}, nil
}

func (s *services) close() {
	if err := s.publisher.Close(); err != nil {
		slog.Warn("Error closing event publisher", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Warn("Error closing store", "error", err)
	}
}

// dockerEnvFactory maps environment specs onto container sandboxes. The
// store doubles as the command recorder so every executed command lands
// on the build record.
func dockerEnvFactory(cli *client.Client, st *store.Store, cfg *config.Config) director.EnvFactory {
	return func(spec director.EnvSpec) sandbox.Environment {
		return sandbox.NewDockerEnvironment(cli, st, sandbox.DockerOptions{
			Image:         spec.Image,
			ContainerName: spec.Name,
			BuildID:       spec.BuildID,
			Building:      spec.Building,
			BaseEnv:       spec.BaseEnv,
			Binds:         spec.Binds,
			MemoryLimit:   cfg.Build.MemoryBytes(),
			CommandTime:   cfg.Build.CommandTime,
			User:          "docs",
			Hardened:      spec.Hardened,
		})
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	watcher, err := config.NewWatcher(CLI.Config, cfg, logLevel)
	if err == nil {
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("Configuration watcher disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	sweeper, err := queue.NewSweeper(svc.store, cfg.Build.TimeBudget, cfg.Build.SweepInterval)
	if err != nil {
		return fmt.Errorf("create build sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start build sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			slog.Warn("Error stopping build sweeper", "error", err)
		}
	}()

	svc.queue.Start(ctx)

	srv := server.New(server.Options{
		Addr:           cfg.Server.Addr,
		Store:          svc.store,
		Dispatcher:     webhook.NewDispatcher(svc.recorder),
		Processor:      webhook.NewProcessor(svc.store, svc.queue, &webhook.GitRemoteLister{}),
		Queue:          svc.queue,
		MetricsHandler: svc.recorder.Handler(),
	})

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", cfg.Server.Addr)
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := srv.Shutdown(stopCtx); err != nil {
		slog.Warn("Error shutting down server", "error", err)
	}
	svc.queue.Stop(stopCtx)
	slog.Info("Service stopped")
	return nil
}

func runBuild(cfg *config.Config, projectSlug, versionSlug string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	project, err := svc.store.GetProjectBySlug(ctx, projectSlug)
	if err != nil {
		return fmt.Errorf("resolve project %s: %w", projectSlug, err)
	}
	version, err := svc.store.GetVersion(ctx, project.ID, versionSlug)
	if err != nil {
		return fmt.Errorf("resolve version %s: %w", versionSlug, err)
	}
	build, err := svc.store.CreateBuild(ctx, project.ID, version.ID)
	if err != nil {
		return err
	}

	slog.Info("Starting build", "build_id", build.ID, "project", projectSlug, "version", versionSlug)
	return svc.director.Run(ctx, &queue.Job{
		BuildID:     build.ID,
		Trigger:     queue.TriggerManual,
		ProjectSlug: projectSlug,
		VersionSlug: versionSlug,
	})
}

func runProjectAdd(cfg *config.Config) error {
	ctx := context.Background()
	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	project := &model.Project{
		Slug:          CLI.Project.Add.Slug,
		RepoURL:       CLI.Project.Add.RepoURL,
		DefaultBranch: CLI.Project.Add.DefaultBranch,
		Language:      CLI.Project.Add.Language,
	}
	if err := st.CreateProject(ctx, project); err != nil {
		return err
	}
	slog.Info("Project registered", "slug", project.Slug, "id", project.ID)
	return nil
}

func runProjectSync(cfg *config.Config, slug string) error {
	ctx := context.Background()
	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := st.GetProjectBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("resolve project %s: %w", slug, err)
	}

	lister := &webhook.GitRemoteLister{}
	refs, head, err := lister.ListRefs(ctx, project.RepoURL)
	if err != nil {
		return fmt.Errorf("list remote refs: %w", err)
	}
	added, err := st.SyncVersions(ctx, project.ID, refs)
	if err != nil {
		return err
	}
	if head != "" && project.DefaultBranch == "" {
		if err := st.UpdateLatestIdentifier(ctx, project.ID, head); err != nil {
			return err
		}
	}
	slog.Info("Versions synced", "project", slug, "added", len(added), "default_branch", head)
	return nil
}
