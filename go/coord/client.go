package coord

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Client is the graph server's handle onto the coordinator, satisfying
// graphserver.BarrierClient.
type Client struct {
	nodeID uint32
	conn   *grpc.ClientConn
}

// Dial connects to a coordinator at addr. nodeID tags every call this
// client makes so the coordinator's logs can attribute arrivals.
func Dial(addr string, nodeID uint32) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator %s: %w", addr, err)
	}
	return &Client{nodeID: nodeID, conn: conn}, nil
}

// Barrier blocks until every node has called Barrier with the same tag.
func (c *Client) Barrier(ctx context.Context, tag string) error {
	req := &BarrierRequest{NodeID: c.nodeID, Tag: tag}
	resp := new(BarrierResponse)
	return c.conn.Invoke(ctx, "/dorylus.coord.NodeCoordinator/Barrier", req, resp)
}

// Term announces this node is done and blocks until every other node has
// too.
func (c *Client) Term(ctx context.Context) error {
	req := &TermRequest{NodeID: c.nodeID}
	resp := new(TermResponse)
	return c.conn.Invoke(ctx, "/dorylus.coord.NodeCoordinator/Term", req, resp)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
