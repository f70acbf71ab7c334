package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	kvhttp "kvdb/internal/http"
	"kvdb/pkg/cluster"
	"kvdb/pkg/metrics"
	"kvdb/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "config/kvrouter.yaml", "path to the YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("kvrouter failed", "error", err)
		os.Exit(1)
	}
	slog.Info("kvrouter stopped")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}
	initLogger(cfg.Logger)
	if err := cfg.ValidateRouter(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ZooKeeper.ConnectTimeout)
	conn, sessions, err := cluster.Dial(dialCtx, cfg.ZooKeeper.Servers, cfg.ZooKeeper.SessionTimeout)
	cancelDial()
	if err != nil {
		return err
	}
	defer conn.Close()

	watcher, err := cluster.NewTopologyWatcher(conn, sessions, cfg.Router.Partitions, metrics.NewCluster(reg))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Close()
	slog.Info("topology loaded", "partitions", len(cfg.Router.Partitions), "version", watcher.Topology().Version)

	router := cluster.NewRouter(watcher, func(addr string) (cluster.Remote, error) {
		return rpc.NewClient(addr, cfg.Router.ClientTimeout), nil
	})

	server := kvhttp.NewRouterServer(router, kvhttp.Options{
		Address:           cfg.Server.Address,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		RequestTimeout:    cfg.Server.RequestTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Registry:          reg,
	})
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutting down")

	return server.Stop()
}
