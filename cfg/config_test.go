package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Configuration {
	return &Configuration{
		NodeID:  1,
		DataDir: "./test-data",
		Shards: ShardConfiguration{
			Count:      2,
			QueueDepth: 16,
		},
		Cluster: ClusterConfiguration{
			GRPCPort:             8080,
			GRPCAdvertiseAddress: "localhost:8080",
		},
		GRPCClient: GRPCClientConfiguration{
			KeepaliveTimeSeconds:    10,
			KeepaliveTimeoutSeconds: 3,
			CallTimeoutMS:           1000,
			Compression:             "zstd",
			CompressionLevel:        1,
		},
		TopPartitions: TopPartitionsConfiguration{
			DefaultDurationMS:  1000,
			DefaultListSize:    10,
			DefaultCapacity:    256,
			MaxDurationMS:      60000,
			MaxListSize:        100,
			MaxCapacity:        1000,
			BroadcastTimeoutMS: 1000,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	copied := *original
	Config = &copied
	Config.Cluster.GRPCAdvertiseAddress = ""

	if err := Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
	if Config.Cluster.GRPCAdvertiseAddress == "" {
		t.Error("Expected advertise address to be auto-configured")
	}
}

func TestValidate_InvalidGRPCPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = validConfig()
		Config.Cluster.GRPCPort = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid gRPC port %d", port)
		}
	}
}

func TestValidate_Rejects(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"zero shards", func(c *Configuration) { c.Shards.Count = 0 }},
		{"zero queue depth", func(c *Configuration) { c.Shards.QueueDepth = 0 }},
		{"bad compression", func(c *Configuration) { c.GRPCClient.Compression = "gzip" }},
		{"compression level", func(c *Configuration) { c.GRPCClient.CompressionLevel = 9 }},
		{"call timeout", func(c *Configuration) { c.GRPCClient.CallTimeoutMS = 0 }},
		{"default duration above max", func(c *Configuration) { c.TopPartitions.DefaultDurationMS = 120000 }},
		{"list size above max", func(c *Configuration) { c.TopPartitions.DefaultListSize = 101 }},
		{"capacity above max", func(c *Configuration) { c.TopPartitions.DefaultCapacity = 1001 }},
		{"broadcast timeout", func(c *Configuration) { c.TopPartitions.BroadcastTimeoutMS = 0 }},
		{"bad peer", func(c *Configuration) { c.Cluster.Peers = []string{"localhost:8081"} }},
		{"peer collides with local node bits", func(c *Configuration) { c.Cluster.Peers = []string{"4097=node-2:8080"} }},
		{"peers collide with each other", func(c *Configuration) {
			c.Cluster.Peers = []string{"2=node-2:8080", "4098=node-3:8080"}
		}},
		{"table without key", func(c *Configuration) {
			c.Tables = []TableConfiguration{{Keyspace: "ks", Table: "t"}}
		}},
		{"duplicate table", func(c *Configuration) {
			def := TableConfiguration{Keyspace: "ks", Table: "t", PartitionKey: []string{"k:int"}}
			c.Tables = []TableConfiguration{def, def}
		}},
		{"collect interval", func(c *Configuration) {
			c.Prometheus.Enabled = true
			c.Prometheus.CollectIntervalSeconds = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig()
			tt.mutate(Config)
			if err := Validate(); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestValidate_PeerListIncludingSelf(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.Cluster.Peers = []string{"1=localhost:8080", "2=node-2:8080", "3=node-3:8080"}
	if err := Validate(); err != nil {
		t.Errorf("Expected a peer list naming this node to validate, got: %v", err)
	}
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers([]string{"2=node-2:8080", " 3=10.0.0.3:9000 "})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(peers))
	}
	if peers[0].NodeID != 2 || peers[0].Address != "node-2:8080" {
		t.Errorf("Unexpected first peer: %+v", peers[0])
	}
	if peers[1].NodeID != 3 || peers[1].Address != "10.0.0.3:9000" {
		t.Errorf("Unexpected second peer: %+v", peers[1])
	}

	for _, bad := range [][]string{
		{"node-2:8080"},
		{"x=node-2:8080"},
		{"0=node-2:8080"},
		{"2="},
		{"2=a:1", "2=b:1"},
	} {
		if _, err := ParsePeers(bad); err == nil {
			t.Errorf("Expected error for %v", bad)
		}
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
node_id = 7
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[shards]
count = 8

[cluster]
peers = ["2=node-2:8080"]

[toppartitions]
default_list_size = 25

[[tables]]
keyspace = "app"
table = "events"
partition_key = ["user:text", "day:int"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	Config = validConfig()
	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.NodeID != 7 {
		t.Errorf("Expected node ID 7, got %d", Config.NodeID)
	}
	if Config.Shards.Count != 8 {
		t.Errorf("Expected 8 shards, got %d", Config.Shards.Count)
	}
	if Config.Shards.QueueDepth != 16 {
		t.Errorf("Expected queue depth to keep its default, got %d", Config.Shards.QueueDepth)
	}
	if len(Config.Cluster.Peers) != 1 {
		t.Errorf("Expected 1 peer, got %v", Config.Cluster.Peers)
	}
	if Config.TopPartitions.DefaultListSize != 25 {
		t.Errorf("Expected list size 25, got %d", Config.TopPartitions.DefaultListSize)
	}
	if len(Config.Tables) != 1 || len(Config.Tables[0].PartitionKey) != 2 {
		t.Errorf("Expected one table with a two column key, got %+v", Config.Tables)
	}
	if _, err := os.Stat(Config.DataDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestLoad_InMemorySkipsDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dataDir := filepath.Join(t.TempDir(), "never-created")
	Config = validConfig()
	Config.DataDir = dataDir
	Config.Shards.InMemory = true

	if err := Load(""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Error("Data directory should not be created for in-memory shards")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := t.TempDir()

	*DataDirFlag = tempDir
	*NodeIDFlag = 12345
	*GRPCPortFlag = 9999
	*ShardsFlag = 3

	defer func() {
		*DataDirFlag = ""
		*NodeIDFlag = 0
		*GRPCPortFlag = 0
		*ShardsFlag = 0
	}()

	Config = validConfig()

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.NodeID != 12345 {
		t.Errorf("Expected node ID 12345, got %d", Config.NodeID)
	}
	if Config.Cluster.GRPCPort != 9999 {
		t.Errorf("Expected gRPC port 9999, got %d", Config.Cluster.GRPCPort)
	}
	if Config.Shards.Count != 3 {
		t.Errorf("Expected 3 shards, got %d", Config.Shards.Count)
	}
}

func TestGenerateNodeID(t *testing.T) {
	id1, err := generateNodeID()
	if err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}

	if id1 == 0 {
		t.Error("Generated node ID should not be 0")
	}

	id2, err := generateNodeID()
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if id1 != id2 {
		t.Error("Node ID should be deterministic for same machine")
	}
}

func TestShardPath(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	Config.DataDir = "/var/lib/hotspot"

	if got := ShardPath(3); got != "/var/lib/hotspot/shards/3" {
		t.Errorf("unexpected shard path %s", got)
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
