package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/filestand/filestand/internal/cluster"
	"github.com/filestand/filestand/internal/config"
	"github.com/filestand/filestand/internal/discovery"
	"github.com/filestand/filestand/internal/health"
	"github.com/filestand/filestand/internal/metrics"
	"github.com/filestand/filestand/internal/servicemap"
	"github.com/filestand/filestand/internal/status"
	"github.com/filestand/filestand/internal/transport"
	"github.com/filestand/filestand/internal/util"
	"github.com/filestand/filestand/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a YAML config file. Optional.")
	kubeconfig  = flag.String("kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	metricsAddr = flag.String("metrics-bind-address", "", "The address the metric endpoint binds to. Overrides the config file.")
)

func main() {
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.NewLoader().WithConfigFile(*configFile).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *kubeconfig != "" {
		cfg.Cluster.Kubeconfig = *kubeconfig
	}
	if *metricsAddr != "" {
		cfg.Observability.ListenAddress = *metricsAddr
	}

	// 2. Initialize Logger
	zapLog, err := util.BuildZapLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := zapr.NewLogger(zapLog)
	ctrl.SetLogger(logger)

	setupLog := logger.WithName("setup")
	info := version.Get()
	setupLog.Info("Starting filestand control plane",
		"version", info.String(),
		"commit", info.GitCommit,
		"platform", info.Platform)

	// 3. Setup K8s clients
	clients, err := cluster.NewClients(cfg.Cluster.Kubeconfig)
	if err != nil {
		setupLog.Error(err, "Failed to create kubernetes clients")
		os.Exit(1)
	}
	namespace := cluster.CurrentNamespace(cfg.Cluster.Namespace, setupLog)
	setupLog.Info("Managing namespace", "namespace", namespace)

	ctx := ctrl.SetupSignalHandler()

	// 4. Record the running build for operators
	version.StampConfigMap(ctx, setupLog, clients.Kubernetes, namespace)

	// 5. Setup the status pipeline
	controlMetrics := metrics.NewControlPlaneMetrics()
	engine := discovery.NewEngine(clients.Kubernetes, namespace, logger)
	prober := health.NewProber(cfg.Broadcast.ProbeTimeout, logger)
	hub := transport.NewHub(100, logger)
	recorder := transport.NewBufferedRecorder(
		transport.NewLogStore(logger), logger, transport.DefaultBufferedRecorderOptions())

	var usage status.UsageSource
	if cfg.Broadcast.UsageMetrics {
		usage = status.NewUsageCollector(clients.Metrics, namespace, logger)
	}

	broadcaster := status.NewBroadcaster(status.BroadcasterOptions{
		Discoverer:   engine,
		Prober:       prober,
		Usage:        usage,
		Hub:          hub,
		Recorder:     recorder,
		Metrics:      controlMetrics,
		Interval:     cfg.Broadcast.Interval,
		InitialDelay: cfg.Broadcast.InitialDelay,
	}, logger)

	// 6. Publish the discovery ConfigMap once so consumers see the current
	// fleet without waiting for the first lifecycle change.
	reconciler := servicemap.NewReconciler(
		clients.Kubernetes, engine, namespace, cfg.ServiceMap.ConfigMapName, logger)
	if err := reconciler.Reconcile(ctx); err != nil {
		setupLog.Error(err, "Initial service map reconcile failed, continuing")
	}

	// 7. Start background loops
	if err := recorder.Start(ctx); err != nil {
		setupLog.Error(err, "Failed to start sample recorder")
		os.Exit(1)
	}
	if err := broadcaster.Start(ctx); err != nil {
		setupLog.Error(err, "Failed to start status broadcaster")
		os.Exit(1)
	}

	// 8. HTTP server for metrics and probes
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if broadcaster.GetLatestSnapshot() == nil {
			http.Error(w, "no status snapshot yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    cfg.Observability.ListenAddress,
		Handler: mux,
	}

	go func() {
		setupLog.Info("Starting HTTP server", "addr", cfg.Observability.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			setupLog.Error(err, "HTTP server failed")
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	setupLog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	broadcaster.Stop()
	recorder.Stop()
}
