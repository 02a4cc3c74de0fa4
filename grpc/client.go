package grpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/hotspot/cfg"
	"github.com/maxpert/hotspot/toppartitions"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client manages one connection per peer node
type Client struct {
	nodeID   uint64
	conns    map[uint64]*grpc.ClientConn
	addrs    map[uint64]string
	dialOpts []grpc.DialOption
	mu       sync.RWMutex
}

// NewClient creates a client manager. extra dial options are appended to the
// defaults, which lets tests dial in-memory listeners.
func NewClient(nodeID uint64, extra ...grpc.DialOption) *Client {
	return &Client{
		nodeID:   nodeID,
		conns:    make(map[uint64]*grpc.ClientConn),
		addrs:    make(map[uint64]string),
		dialOpts: append(createDialOptions(), extra...),
	}
}

// createDialOptions returns common gRPC dial options
func createDialOptions() []grpc.DialOption {
	keepaliveTime := 10 * time.Second
	keepaliveTimeout := 3 * time.Second
	if cfg.Config != nil {
		keepaliveTime = time.Duration(cfg.Config.GRPCClient.KeepaliveTimeSeconds) * time.Second
		keepaliveTimeout = time.Duration(cfg.Config.GRPCClient.KeepaliveTimeoutSeconds) * time.Second
	}

	callOpts := []grpc.CallOption{
		grpc.CallContentSubtype(codecName),
		grpc.MaxCallRecvMsgSize(maxMessageSize),
		grpc.MaxCallSendMsgSize(maxMessageSize),
	}
	if name := compressionName(); name != "" {
		callOpts = append(callOpts, grpc.UseCompressor(name))
	}

	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor()),
	}
}

// Connect creates the connection to a peer. Idempotent per node id.
func (c *Client) Connect(nodeID uint64, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.conns[nodeID]; exists {
		log.Debug().Uint64("node_id", nodeID).Msg("Connection already exists, skipping")
		return nil
	}

	conn, err := grpc.NewClient(address, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create connection to node %d: %w", nodeID, err)
	}

	c.conns[nodeID] = conn
	c.addrs[nodeID] = address

	log.Info().
		Uint64("node_id", nodeID).
		Str("address", address).
		Msg("Connected to peer")
	return nil
}

// Disconnect closes the connection to a peer
func (c *Client) Disconnect(nodeID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, exists := c.conns[nodeID]
	if !exists {
		return nil
	}
	delete(c.conns, nodeID)
	delete(c.addrs, nodeID)

	log.Debug().Uint64("node_id", nodeID).Msg("Closing peer connection")
	return conn.Close()
}

// Close closes every peer connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for nodeID, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing connection to node %d: %w", nodeID, err)
		}
	}
	c.conns = make(map[uint64]*grpc.ClientConn)
	c.addrs = make(map[uint64]string)
	return firstErr
}

func (c *Client) getConn(nodeID uint64) (*grpc.ClientConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conn, exists := c.conns[nodeID]
	if !exists {
		return nil, fmt.Errorf("not connected to node %d", nodeID)
	}
	return conn, nil
}

// Execute sends op to a peer and returns its per-shard results
func (c *Client) Execute(ctx context.Context, nodeID uint64, op toppartitions.Op) ([]toppartitions.ShardResult, error) {
	conn, err := c.getConn(nodeID)
	if err != nil {
		return nil, err
	}

	if cfg.Config != nil && cfg.Config.GRPCClient.CallTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Config.GRPCClient.CallTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	resp := new(ExecuteResponse)
	if err := conn.Invoke(ctx, executeMethod, &ExecuteRequest{Op: op}, resp); err != nil {
		return nil, fmt.Errorf("node %d: %w", nodeID, err)
	}
	return resp.Results, nil
}

// Node returns the NodeOps view of one peer
func (c *Client) Node(nodeID uint64) *RemoteNode {
	return &RemoteNode{client: c, nodeID: nodeID}
}

// RemoteNode is a peer reached through Client
type RemoteNode struct {
	client *Client
	nodeID uint64
}

func (n *RemoteNode) NodeID() uint64 {
	return n.nodeID
}

func (n *RemoteNode) Execute(ctx context.Context, op toppartitions.Op) ([]toppartitions.ShardResult, error) {
	return n.client.Execute(ctx, n.nodeID, op)
}
