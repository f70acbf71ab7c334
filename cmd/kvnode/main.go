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
	"kvdb/pkg/index"
	"kvdb/pkg/metrics"
	"kvdb/pkg/node"
	"kvdb/pkg/replication"
	"kvdb/pkg/rpc"
	"kvdb/pkg/store"
)

func main() {
	configPath := flag.String("config", "config/kvnode.yaml", "path to the YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("kvnode failed", "error", err)
		os.Exit(1)
	}
	slog.Info("kvnode stopped")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := initConfig(configPath)
	if err != nil {
		return err
	}
	initLogger(cfg.Logger)
	if err := cfg.ValidateNode(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := store.Open(cfg.Storage.FileName,
		store.WithSync(cfg.Storage.SyncWrites),
		store.WithIndex(index.Kind(cfg.Storage.IndexEngine)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("close store", "error", err)
		}
	}()
	metrics.RegisterStoreStats(reg,
		func() float64 { return float64(st.Stats().Keys) },
		func() float64 { return float64(st.Stats().FileBytes) },
	)

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ZooKeeper.ConnectTimeout)
	conn, sessions, err := cluster.Dial(dialCtx, cfg.ZooKeeper.Servers, cfg.ZooKeeper.SessionTimeout)
	cancelDial()
	if err != nil {
		return err
	}

	member, err := cluster.NewMember(conn, sessions, cluster.MemberConfig{
		Paths:     cfg.NodePaths(),
		Advertise: cfg.Server.URL,
	}, metrics.NewCluster(reg))
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		if err := member.Close(); err != nil {
			slog.Warn("leave partition", "error", err)
		}
	}()

	rep := replication.New(rpc.NewSender(cfg.Replication.Timeout),
		replication.WithQueueSize(cfg.Replication.QueueSize),
		replication.WithTimeout(cfg.Replication.Timeout),
		replication.WithMetrics(metrics.NewReplication(reg)),
	)
	defer rep.Close()

	n := node.New(st, member, rep)
	n.Start(ctx)
	defer n.Close()

	if err := member.Start(ctx); err != nil {
		return err
	}
	slog.Info("node joined partition", "id", member.ID(), "url", cfg.Server.URL, "role", member.Role().Kind)

	server := kvhttp.NewNodeServer(n, kvhttp.Options{
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
