package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/maxpert/hotspot/admin"
	"github.com/maxpert/hotspot/cfg"
	"github.com/maxpert/hotspot/cluster"
	"github.com/maxpert/hotspot/db"
	hotspotgrpc "github.com/maxpert/hotspot/grpc"
	"github.com/maxpert/hotspot/hlc"
	"github.com/maxpert/hotspot/id"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/telemetry"
	"github.com/maxpert/hotspot/toppartitions"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const renderCacheSize = 16384

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Hotspot - distributed top partition sampling")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	log.Info().Int("shards", cfg.Config.Shards.Count).Msg("Opening shards")
	database, err := db.Open(db.Options{
		Shards:     cfg.Config.Shards.Count,
		QueueDepth: cfg.Config.Shards.QueueDepth,
		InMemory:   cfg.Config.Shards.InMemory,
		ShardPath:  cfg.ShardPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open shards")
		return
	}
	defer database.Close()

	if err := createTables(database); err != nil {
		log.Fatal().Err(err).Msg("Failed to create configured tables")
		return
	}

	renderer, err := schema.NewRenderer(renderCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create partition renderer")
		return
	}

	local := cluster.NewLocalNode(cfg.Config.NodeID, database, renderer)
	membership := cluster.NewMembership(local, cfg.Config.Cluster.GRPCAdvertiseAddress)

	client := hotspotgrpc.NewClient(cfg.Config.NodeID)
	defer client.Close()
	connectPeers(client, membership)

	broadcastTimeout := time.Duration(cfg.Config.TopPartitions.BroadcastTimeoutMS) * time.Millisecond
	sessions := toppartitions.NewSessions()
	sampler := toppartitions.NewSampler(
		id.NewHLCGenerator(hlc.NewClock(cfg.Config.NodeID)),
		cluster.NewBroadcaster(membership, broadcastTimeout),
		sessions,
		clockwork.NewRealClock(),
		samplerConfig(broadcastTimeout),
	)

	if cfg.Config.Prometheus.Enabled {
		interval := time.Duration(cfg.Config.Prometheus.CollectIntervalSeconds) * time.Second
		collector := telemetry.NewMetricsCollector(database, sessions, interval)
		collector.Start()
		defer collector.Stop()
	}

	server := hotspotgrpc.NewServer(hotspotgrpc.ServerConfig{
		NodeID:  cfg.Config.NodeID,
		Address: cfg.Config.Cluster.GRPCBindAddress,
		Port:    cfg.Config.Cluster.GRPCPort,
	}, local)
	server.SetMetricsHandler(telemetry.GetMetricsHandler())
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewAdminHandlers(cfg.Config.NodeID, sampler, membership, database, renderer)
		server.SetAdminHandler(admin.NewRouter(handlers))
	}

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
		return
	}
	defer server.Stop()

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Int("grpc_port", cfg.Config.Cluster.GRPCPort).
		Int("members", membership.Len()).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Node is operational")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Int("sessions_active", sessions.Len()).Msg("Shutting down")
	for _, s := range sessions.List() {
		_ = sessions.Cancel(s.Session)
	}

	// Cancelled sessions still uninstall their listeners; give them a moment
	// before the server and shards go away.
	deadline := time.Now().Add(broadcastTimeout)
	for sessions.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func createTables(database *db.Database) error {
	for _, t := range cfg.Config.Tables {
		pk, err := schema.ParseColumns(t.PartitionKey)
		if err != nil {
			return fmt.Errorf("table %s.%s: %w", t.Keyspace, t.Table, err)
		}
		ck, err := schema.ParseColumns(t.ClusteringKey)
		if err != nil {
			return fmt.Errorf("table %s.%s: %w", t.Keyspace, t.Table, err)
		}
		if _, err := database.CreateTable(schema.TableDef{
			Keyspace:      t.Keyspace,
			Table:         t.Table,
			PartitionKey:  pk,
			ClusteringKey: ck,
		}); err != nil {
			return err
		}
		log.Info().Str("keyspace", t.Keyspace).Str("table", t.Table).Msg("Table created")
	}
	return nil
}

// connectPeers dials every configured peer. Unreachable peers stay members so
// sampling reports them as failed nodes instead of silently shrinking the cluster.
func connectPeers(client *hotspotgrpc.Client, membership *cluster.Membership) {
	peers, err := cfg.ParsePeers(cfg.Config.Cluster.Peers)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring invalid peer list")
		return
	}
	if len(peers) == 0 {
		log.Info().Msg("No peers configured, starting as single-node cluster")
		return
	}

	for _, p := range peers {
		if p.NodeID == cfg.Config.NodeID {
			continue
		}
		if err := client.Connect(p.NodeID, p.Address); err != nil {
			log.Warn().Err(err).Uint64("peer", p.NodeID).Str("address", p.Address).Msg("Failed to connect to peer")
		}
		if err := membership.Add(client.Node(p.NodeID), p.Address); err != nil {
			log.Warn().Err(err).Uint64("peer", p.NodeID).Msg("Failed to add peer")
		}
	}
}

func samplerConfig(broadcastTimeout time.Duration) toppartitions.Config {
	tp := cfg.Config.TopPartitions
	return toppartitions.Config{
		DefaultDuration: time.Duration(tp.DefaultDurationMS) * time.Millisecond,
		DefaultListSize: tp.DefaultListSize,
		DefaultCapacity: tp.DefaultCapacity,
		Limits: toppartitions.Limits{
			MaxDuration: time.Duration(tp.MaxDurationMS) * time.Millisecond,
			MaxListSize: tp.MaxListSize,
			MaxCapacity: tp.MaxCapacity,
		},
		BroadcastTimeout: broadcastTimeout,
	}
}
