package grpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/maxpert/hotspot/cluster"
	"github.com/maxpert/hotspot/db"
	"github.com/maxpert/hotspot/schema"
	"github.com/maxpert/hotspot/stream"
	"github.com/maxpert/hotspot/toppartitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const remoteNode = 2

type peer struct {
	db     *db.Database
	lis    *bufconn.Listener
	server *Server
	client *Client
}

func startPeer(t *testing.T) *peer {
	t.Helper()

	d, err := db.Open(db.Options{Shards: 2, QueueDepth: 16, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.CreateTable(schema.TableDef{
		Keyspace:     "ks",
		Table:        "t",
		PartitionKey: []schema.Column{{Name: "k", Type: schema.TypeText}},
	})
	require.NoError(t, err)

	renderer, err := schema.NewRenderer(16)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	server := NewServer(ServerConfig{NodeID: remoteNode}, cluster.NewLocalNode(remoteNode, d, renderer))
	server.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hotspot_sampling_sessions_active 0\n")
	}))
	server.Serve(lis)
	t.Cleanup(server.Stop)

	client := NewClient(1, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, client.Connect(remoteNode, "passthrough:///bufnet"))
	t.Cleanup(func() { _ = client.Close() })

	return &peer{db: d, lis: lis, server: server, client: client}
}

func TestRemoteNode_SessionRoundTrip(t *testing.T) {
	p := startPeer(t)
	ctx := context.Background()
	node := p.client.Node(remoteNode)
	assert.Equal(t, uint64(remoteNode), node.NodeID())

	results, err := node.Execute(ctx, toppartitions.Op{
		Phase:    toppartitions.PhaseInstall,
		Session:  42,
		Keyspace: "ks",
		Table:    "t",
		Capacity: 8,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, uint64(remoteNode), r.NodeID)
		assert.False(t, r.Failed())
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, p.db.Insert(ctx, "ks", "t", []interface{}{"hot"}, stream.Row{}))
	}
	require.NoError(t, p.db.Insert(ctx, "ks", "t", []interface{}{"cold"}, stream.Row{}))

	results, err = node.Execute(ctx, toppartitions.Op{Phase: toppartitions.PhaseHarvest, Session: 42})
	require.NoError(t, err)
	require.Len(t, results, 2)

	writes := map[string]uint64{}
	for _, r := range results {
		assert.True(t, r.Found)
		for _, e := range r.Writes.Entries {
			writes[e.Key] += e.Count
		}
	}
	assert.Equal(t, map[string]uint64{"hot": 3, "cold": 1}, writes)

	count, err := p.db.ListenerCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "harvest uninstalls")
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(1)
	_, err := c.Node(9).Execute(context.Background(), toppartitions.Op{Phase: toppartitions.PhaseUninstall, Session: 1})
	assert.ErrorContains(t, err, "not connected to node 9")
	assert.NoError(t, c.Disconnect(9))
}

func TestServer_HTTPSharesPort(t *testing.T) {
	p := startPeer(t)

	httpClient := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return p.lis.DialContext(ctx)
		},
	}}
	resp, err := httpClient.Get("http://bufnet/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sessions_active")
}

func TestValidateClusterSecret(t *testing.T) {
	require.NoError(t, validateClusterSecret(context.Background()), "auth disabled without a secret")

	t.Setenv("HOTSPOT_CLUSTER_SECRET", "s3cret")

	err := validateClusterSecret(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	wrong := metadata.NewIncomingContext(context.Background(), metadata.Pairs(ClusterSecretHeader, "nope"))
	assert.Equal(t, codes.Unauthenticated, status.Code(validateClusterSecret(wrong)))

	right := metadata.NewIncomingContext(context.Background(), metadata.Pairs(ClusterSecretHeader, "s3cret"))
	assert.NoError(t, validateClusterSecret(right))
}

func TestRemoteNode_WithClusterSecret(t *testing.T) {
	t.Setenv("HOTSPOT_CLUSTER_SECRET", "s3cret")
	p := startPeer(t)

	_, err := p.client.Node(remoteNode).Execute(context.Background(), toppartitions.Op{Phase: toppartitions.PhaseUninstall, Session: 1})
	assert.NoError(t, err, "client interceptor attaches the secret")
}

func TestMsgpackCodec_RoundTrip(t *testing.T) {
	c := msgpackCodec{}
	in := &ExecuteRequest{Op: toppartitions.Op{Phase: toppartitions.PhaseInstall, Session: 0xbeef, Keyspace: "ks", Table: "t", Capacity: 3}}

	b, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(ExecuteRequest)
	require.NoError(t, c.Unmarshal(b, out))
	assert.Equal(t, in, out)
	assert.Equal(t, "msgpack", c.Name())
}
