package api

import (
	"context"
	"fmt"
	"net/netip"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/neighd/internal/topology"
)

// Client is a client of the neighbour service.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client connected to the given endpoint.
func NewClient(endpoint string, options ...grpc.DialOption) (*Client, error) {
	options = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, options...)

	conn, err := grpc.NewClient(endpoint, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", endpoint, err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (m *Client) Close() error {
	return m.conn.Close()
}

// List returns entries of the scope, or of all scopes if scope is nil.
func (m *Client) List(ctx context.Context, scope *topology.Scope) ([]Entry, error) {
	resp, err := m.invoke(ctx, methodList, request{Scope: scope})
	if err != nil {
		return nil, err
	}

	values := resp.GetFields()["entries"].GetListValue().GetValues()
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		entry, err := entryFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Flush invalidates the neighbour, or the whole scope if addr is the zero
// value, and returns the number of removed entries.
func (m *Client) Flush(ctx context.Context, scope topology.Scope, addr netip.Addr) (int, error) {
	resp, err := m.invoke(ctx, methodFlush, request{Scope: &scope, Addr: addr})
	if err != nil {
		return 0, err
	}

	return int(numberField(resp, "flushed")), nil
}

// Resolution is the outcome of a resolve request.
type Resolution struct {
	Resolved bool
	LinkAddr topology.MAC
	Port     topology.Port
}

// Resolve requests resolution of the neighbour. With wait set the call
// blocks until resolution completes or ctx is done.
func (m *Client) Resolve(ctx context.Context, scope topology.Scope, addr netip.Addr, wait bool) (Resolution, error) {
	resp, err := m.invoke(ctx, methodResolve, request{Scope: &scope, Addr: addr, Wait: wait})
	if err != nil {
		return Resolution{}, err
	}

	resolution := Resolution{
		Resolved: resp.GetFields()["resolved"].GetBoolValue(),
	}
	if !resolution.Resolved {
		return resolution, nil
	}

	resolution.LinkAddr, err = topology.ParseMAC(stringField(resp, "link_addr"))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid link address in response: %w", err)
	}
	resolution.Port = topology.Port(numberField(resp, "port"))

	return resolution, nil
}

func (m *Client) invoke(ctx context.Context, method string, req request) (*structpb.Struct, error) {
	in, err := req.asStruct()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := m.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}

	return out, nil
}
