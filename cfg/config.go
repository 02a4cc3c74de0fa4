package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/hotspot/hlc"
	"github.com/rs/zerolog/log"
)

// ShardConfiguration controls the local shard set
type ShardConfiguration struct {
	Count      int  `toml:"count"`
	InMemory   bool `toml:"in_memory"`   // Keep shard storage in memory (tests, demos)
	QueueDepth int  `toml:"queue_depth"` // Pending tasks per shard before Submit blocks
}

// ClusterConfiguration controls node-to-node communication
type ClusterConfiguration struct {
	GRPCBindAddress      string   `toml:"grpc_bind_address"`
	GRPCAdvertiseAddress string   `toml:"grpc_advertise_address"` // Address other nodes use to connect (defaults to hostname:port)
	GRPCPort             int      `toml:"grpc_port"`
	Peers                []string `toml:"peers"`          // Static membership, "node_id=host:port"
	ClusterSecret        string   `toml:"cluster_secret"` // Shared secret for gRPC and admin calls, empty disables auth
}

// GRPCClientConfiguration controls gRPC client behavior
type GRPCClientConfiguration struct {
	KeepaliveTimeSeconds    int    `toml:"keepalive_time_seconds"`    // Keepalive ping interval
	KeepaliveTimeoutSeconds int    `toml:"keepalive_timeout_seconds"` // Keepalive ping timeout
	CallTimeoutMS           int    `toml:"call_timeout_ms"`           // Per-call deadline for shard operations
	Compression             string `toml:"compression"`               // "zstd" or "none"
	CompressionLevel        int    `toml:"compression_level"`         // 1 (fastest) to 4 (best)
}

// TopPartitionsConfiguration holds sampling defaults and limits
type TopPartitionsConfiguration struct {
	DefaultDurationMS  int `toml:"default_duration_ms"`
	DefaultListSize    int `toml:"default_list_size"`
	DefaultCapacity    int `toml:"default_capacity"`
	MaxDurationMS      int `toml:"max_duration_ms"`
	MaxListSize        int `toml:"max_list_size"`
	MaxCapacity        int `toml:"max_capacity"`
	BroadcastTimeoutMS int `toml:"broadcast_timeout_ms"` // Bound on each scatter/gather round
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled                bool `toml:"enabled"`
	CollectIntervalSeconds int  `toml:"collect_interval_seconds"`
}

// TableConfiguration declares a table created at startup. Columns are "name:type".
type TableConfiguration struct {
	Keyspace      string   `toml:"keyspace"`
	Table         string   `toml:"table"`
	PartitionKey  []string `toml:"partition_key"`
	ClusteringKey []string `toml:"clustering_key"`
}

// AdminConfiguration controls the HTTP admin surface
type AdminConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Shards        ShardConfiguration         `toml:"shards"`
	Cluster       ClusterConfiguration       `toml:"cluster"`
	GRPCClient    GRPCClientConfiguration    `toml:"grpc_client"`
	TopPartitions TopPartitionsConfiguration `toml:"toppartitions"`
	Logging       LoggingConfiguration       `toml:"logging"`
	Prometheus    PrometheusConfiguration    `toml:"prometheus"`
	Admin         AdminConfiguration         `toml:"admin"`

	Tables []TableConfiguration `toml:"tables"`
}

// Peer is one statically configured remote node
type Peer struct {
	NodeID  uint64
	Address string
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	GRPCPortFlag   = flag.Int("grpc-port", 0, "gRPC port (overrides config)")
	ShardsFlag     = flag.Int("shards", 0, "Shard count (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./hotspot-data",

	Shards: ShardConfiguration{
		Count:      4,
		InMemory:   false,
		QueueDepth: 1024,
	},

	Cluster: ClusterConfiguration{
		GRPCBindAddress: "0.0.0.0",
		GRPCPort:        8080,
		Peers:           []string{},
	},

	GRPCClient: GRPCClientConfiguration{
		KeepaliveTimeSeconds:    10,
		KeepaliveTimeoutSeconds: 3,
		CallTimeoutMS:           5000,
		Compression:             "zstd",
		CompressionLevel:        1,
	},

	TopPartitions: TopPartitionsConfiguration{
		DefaultDurationMS:  10000,
		DefaultListSize:    10,
		DefaultCapacity:    256,
		MaxDurationMS:      600000, // 10 minutes
		MaxListSize:        1000,
		MaxCapacity:        100000,
		BroadcastTimeoutMS: 10000,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:                true,
		CollectIntervalSeconds: 15,
	},

	Admin: AdminConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *GRPCPortFlag != 0 {
		Config.Cluster.GRPCPort = *GRPCPortFlag
	}
	if *ShardsFlag != 0 {
		Config.Shards.Count = *ShardsFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	if !Config.Shards.InMemory {
		if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return nil
}

// IsClusterAuthEnabled reports whether a cluster secret is configured
func IsClusterAuthEnabled() bool {
	return GetClusterSecret() != ""
}

// GetClusterSecret returns the cluster secret. HOTSPOT_CLUSTER_SECRET takes
// precedence over the config file.
func GetClusterSecret() string {
	if s := os.Getenv("HOTSPOT_CLUSTER_SECRET"); s != "" {
		return s
	}
	if Config == nil {
		return ""
	}
	return Config.Cluster.ClusterSecret
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("hotspot")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Cluster.GRPCPort < 1 || Config.Cluster.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", Config.Cluster.GRPCPort)
	}

	if Config.Cluster.GRPCAdvertiseAddress == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get hostname, using localhost")
			hostname = "localhost"
		}
		Config.Cluster.GRPCAdvertiseAddress = fmt.Sprintf("%s:%d", hostname, Config.Cluster.GRPCPort)
		log.Info().
			Str("advertise_address", Config.Cluster.GRPCAdvertiseAddress).
			Msg("Auto-configured gRPC advertise address")
	}

	peers, err := ParsePeers(Config.Cluster.Peers)
	if err != nil {
		return err
	}
	// Session ids carry only the low node id bits.
	owner := map[uint64]uint64{Config.NodeID & hlc.NodeIDMask: Config.NodeID}
	for _, p := range peers {
		if p.NodeID == Config.NodeID {
			continue
		}
		bits := p.NodeID & hlc.NodeIDMask
		if other, ok := owner[bits]; ok {
			return fmt.Errorf("node ids %d and %d collide in session ids (equal modulo %d)", other, p.NodeID, hlc.NodeIDMask+1)
		}
		owner[bits] = p.NodeID
	}

	if Config.Shards.Count < 1 {
		return fmt.Errorf("shard count must be >= 1")
	}
	if Config.Shards.QueueDepth < 1 {
		return fmt.Errorf("shard queue depth must be >= 1")
	}

	if Config.GRPCClient.KeepaliveTimeSeconds < 1 {
		return fmt.Errorf("gRPC keepalive time must be >= 1 second")
	}
	if Config.GRPCClient.KeepaliveTimeoutSeconds < 1 {
		return fmt.Errorf("gRPC keepalive timeout must be >= 1 second")
	}
	if Config.GRPCClient.CallTimeoutMS < 1 {
		return fmt.Errorf("gRPC call timeout must be >= 1ms")
	}
	switch Config.GRPCClient.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("invalid gRPC compression: %s", Config.GRPCClient.Compression)
	}
	if Config.GRPCClient.CompressionLevel < 1 || Config.GRPCClient.CompressionLevel > 4 {
		return fmt.Errorf("gRPC compression level must be between 1 and 4")
	}

	tp := Config.TopPartitions
	if tp.MaxDurationMS < 1 {
		return fmt.Errorf("toppartitions max duration must be >= 1ms")
	}
	if tp.DefaultDurationMS < 1 || tp.DefaultDurationMS > tp.MaxDurationMS {
		return fmt.Errorf("toppartitions default duration must be between 1 and %dms", tp.MaxDurationMS)
	}
	if tp.MaxListSize < 1 || tp.DefaultListSize < 1 || tp.DefaultListSize > tp.MaxListSize {
		return fmt.Errorf("toppartitions default list size must be between 1 and %d", tp.MaxListSize)
	}
	if tp.MaxCapacity < 1 || tp.DefaultCapacity < 1 || tp.DefaultCapacity > tp.MaxCapacity {
		return fmt.Errorf("toppartitions default capacity must be between 1 and %d", tp.MaxCapacity)
	}
	if tp.BroadcastTimeoutMS < 1 {
		return fmt.Errorf("toppartitions broadcast timeout must be >= 1ms")
	}

	seen := make(map[string]bool, len(Config.Tables))
	for _, t := range Config.Tables {
		if t.Keyspace == "" || t.Table == "" {
			return fmt.Errorf("tables entries need keyspace and table")
		}
		if len(t.PartitionKey) == 0 {
			return fmt.Errorf("table %s.%s needs a partition key", t.Keyspace, t.Table)
		}
		name := t.Keyspace + "." + t.Table
		if seen[name] {
			return fmt.Errorf("table %s declared twice", name)
		}
		seen[name] = true
	}

	if Config.Prometheus.Enabled && Config.Prometheus.CollectIntervalSeconds < 1 {
		return fmt.Errorf("prometheus collect interval must be >= 1 second")
	}

	return nil
}

// ParsePeers parses "node_id=host:port" entries
func ParsePeers(entries []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(entries))
	seen := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		idPart, addr, ok := strings.Cut(strings.TrimSpace(e), "=")
		if !ok || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, expected node_id=host:port", e)
		}
		nodeID, err := strconv.ParseUint(idPart, 10, 64)
		if err != nil || nodeID == 0 {
			return nil, fmt.Errorf("invalid peer node id in %q", e)
		}
		if seen[nodeID] {
			return nil, fmt.Errorf("duplicate peer node id %d", nodeID)
		}
		seen[nodeID] = true
		peers = append(peers, Peer{NodeID: nodeID, Address: addr})
	}
	return peers, nil
}

// ShardPath returns the storage directory of one shard
func ShardPath(shard int) string {
	return path.Join(Config.DataDir, "shards", strconv.Itoa(shard))
}
