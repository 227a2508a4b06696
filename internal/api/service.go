package api

import (
	"context"
	"errors"
	"net/netip"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
)

const serviceName = "neighd.Neighbour"

const (
	methodList    = "/" + serviceName + "/List"
	methodFlush   = "/" + serviceName + "/Flush"
	methodResolve = "/" + serviceName + "/Resolve"
)

// Cache is the neighbour cache exposed by the service.
type Cache interface {
	Entries(ctx context.Context, scopes ...topology.Scope) ([]neigh.Info, error)
	Flush(ctx context.Context, scope topology.Scope, addr netip.Addr) (int, error)
	Resolve(ctx context.Context, scope topology.Scope, addr netip.Addr) (neigh.Target, bool, error)
	ResolveWait(ctx context.Context, scope topology.Scope, addr netip.Addr) (neigh.Target, error)
}

// NeighbourService is the diagnostic and administrative gRPC service of the
// neighbour cache.
//
// Messages are google.protobuf.Struct values.
type NeighbourService struct {
	cache Cache
	log   *zap.SugaredLogger
}

// NewNeighbourService creates a new service.
func NewNeighbourService(cache Cache, log *zap.SugaredLogger) *NeighbourService {
	return &NeighbourService{
		cache: cache,
		log:   log,
	}
}

// List returns entries of the requested scope, or of all scopes.
func (m *NeighbourService) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, statusFromError(err)
	}

	scopes := []topology.Scope{}
	if req.Scope != nil {
		scopes = append(scopes, *req.Scope)
	}

	infos, err := m.cache.Entries(ctx, scopes...)
	if err != nil {
		return nil, statusFromError(err)
	}

	entries := make([]any, 0, len(infos))
	for _, info := range infos {
		entry := entryFromInfo(info)
		entries = append(entries, entry.asMap())
	}

	return newStruct(map[string]any{"entries": entries})
}

// Flush invalidates a single neighbour or a whole scope.
func (m *NeighbourService) Flush(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, statusFromError(err)
	}
	if req.Scope == nil {
		return nil, status.Error(codes.InvalidArgument, "scope is required")
	}

	count, err := m.cache.Flush(ctx, *req.Scope, req.Addr)
	if err != nil {
		return nil, statusFromError(err)
	}

	m.log.Infow("flushed neighbours",
		zap.Stringer("scope", req.Scope),
		zap.Stringer("addr", req.Addr),
		zap.Int("count", count),
	)
	return newStruct(map[string]any{"flushed": count})
}

// Resolve starts resolution of a neighbour, optionally waiting for it to
// complete.
func (m *NeighbourService) Resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, statusFromError(err)
	}
	if req.Scope == nil || !req.Addr.IsValid() {
		return nil, status.Error(codes.InvalidArgument, "scope and address are required")
	}

	var target neigh.Target
	resolved := true
	if req.Wait {
		target, err = m.cache.ResolveWait(ctx, *req.Scope, req.Addr)
	} else {
		target, resolved, err = m.cache.Resolve(ctx, *req.Scope, req.Addr)
	}
	if err != nil {
		return nil, statusFromError(err)
	}

	resp := map[string]any{"resolved": resolved}
	if resolved {
		resp["link_addr"] = target.LinkAddr.String()
		resp["port"] = int64(target.Port)
	}

	return newStruct(resp)
}

func newStruct(v map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}

	return s, nil
}

// statusFromError maps cache errors to gRPC status codes.
func statusFromError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, neigh.ErrUnknownScope):
		code = codes.NotFound
	case errors.Is(err, neigh.ErrInvalidAddress):
		code = codes.InvalidArgument
	case errors.Is(err, neigh.ErrUnreachable), errors.Is(err, neigh.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, neigh.ErrFlushed):
		code = codes.Aborted
	case errors.Is(err, neigh.ErrPendingLimit), errors.Is(err, neigh.ErrEntryLimit):
		code = codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}

	return status.Error(code, err.Error())
}

type handlerFunc func(m *NeighbourService, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, fn handlerFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(*NeighbourService), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(*NeighbourService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the neighd.Neighbour gRPC service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: unaryHandler(methodList, (*NeighbourService).List)},
		{MethodName: "Flush", Handler: unaryHandler(methodFlush, (*NeighbourService).Flush)},
		{MethodName: "Resolve", Handler: unaryHandler(methodResolve, (*NeighbourService).Resolve)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "neighd/neighbour.proto",
}
