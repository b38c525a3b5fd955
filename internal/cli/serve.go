package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/kintel/internal/config"
	"github.com/raphaelgruber/kintel/internal/server"
	"github.com/raphaelgruber/kintel/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr       string
	serveWithWorker bool
	workerPoolSize  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. Uploads are queued on the configured broker and
processed by 'kintel worker' processes, or in-process with --with-worker.

Examples:
  kintel serve
  kintel serve --addr :9000 --with-worker
  KINTEL_BROKER=memory KINTEL_VECTOR_STORE=memory kintel serve --with-worker`,
	RunE: runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run ingestion workers",
	Long: `Consume ingestion tasks from the configured broker until interrupted.
In-flight tasks finish before the process exits.

Examples:
  kintel worker
  kintel worker --concurrency 8`,
	RunE: runWorker,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default $KINTEL_SERVER_ADDR)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also run ingestion workers in this process")
	serveCmd.Flags().IntVar(&workerPoolSize, "concurrency", 0, "worker pool size (default $KINTEL_WORKER_CONCURRENCY)")
	workerCmd.Flags().IntVar(&workerPoolSize, "concurrency", 0, "worker pool size (default $KINTEL_WORKER_CONCURRENCY)")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func startApp(ctx context.Context) (*app, error) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return newApp(initCtx, cfg, logger)
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Error("failed to close dependencies", "error", err)
	}
}

func newWorker(a *app) (*worker.Worker, error) {
	size := workerPoolSize
	if size <= 0 {
		size = cfg.WorkerConcurrency
	}
	return worker.New(a.broker, a.tasks, worker.WithPoolSize(size), worker.WithLogger(logger))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if cfg.Broker == config.BrokerMemory && !serveWithWorker {
		return fmt.Errorf("the memory broker is process-local: use --with-worker or another KINTEL_BROKER")
	}

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := serveAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}
	srv := server.New(addr, server.Deps{
		Tasks:     a.tasks,
		Documents: a.documents,
		Questions: a.questions,
		Chat:      a.chat,
		Health:    a.healthChecks(),
		Metrics:   a.metrics,
		UploadDir: cfg.UploadDir,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if serveWithWorker {
		w, err := newWorker(a)
		if err != nil {
			return err
		}
		defer w.Release()
		g.Go(func() error { return w.Start(gctx) })
	}

	logger.Info("kintel started", "version", Version, "addr", addr, "broker", cfg.Broker,
		"vector_store", cfg.VectorStore, "with_worker", serveWithWorker)
	return g.Wait()
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if cfg.Broker == config.BrokerMemory {
		return fmt.Errorf("the memory broker is process-local: run 'kintel serve --with-worker' instead")
	}

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	w, err := newWorker(a)
	if err != nil {
		return err
	}
	defer w.Release()

	logger.Info("kintel worker started", "version", Version, "broker", cfg.Broker, "consumer", cfg.WorkerName)
	return w.Start(ctx)
}
