// Package rpc exposes the cache operations as the gRPC service
// kvcache.v1.Cache. Requests and responses are protobuf well-known types, so
// the service descriptor is declared by hand instead of generated.
package rpc

import (
	"context"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"kvcache/internal/cache"
	"kvcache/internal/instrument"
	"kvcache/internal/obs"
	"kvcache/internal/replay"
	"kvcache/internal/webcache"
)

const ServiceName = "kvcache.v1.Cache"

// CacheServer is the server side of kvcache.v1.Cache.
type CacheServer interface {
	Store(context.Context, *anypb.Any) (*wrapperspb.StringValue, error)
	Retrieve(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Calls(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	Replay(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

type ServerConfig struct {
	Cache  *cache.Cache
	Replay *replay.Engine
	Fetch  *webcache.Cache
}

type Server struct {
	cache  *cache.Cache
	replay *replay.Engine
	fetch  *webcache.Cache
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{cache: cfg.Cache, replay: cfg.Replay, fetch: cfg.Fetch}
}

// Register adds the service to s.
func Register(s grpc.ServiceRegistrar, srv CacheServer) {
	s.RegisterService(&serviceDesc, srv)
}

// NewGRPCServer returns a grpc.Server with the event-logging interceptor and
// srv registered.
func NewGRPCServer(srv CacheServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogInterceptor)}, opts...)
	server := grpc.NewServer(opts...)
	Register(server, srv)
	return server
}

func (s *Server) Store(ctx context.Context, req *anypb.Any) (*wrapperspb.StringValue, error) {
	if s.cache == nil {
		return nil, status.Error(codes.Unavailable, "cache unavailable")
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "value is required")
	}
	msg, err := req.UnmarshalNew()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "unpack value: %v", err)
	}
	value, err := instrument.FromMessage(msg)
	if err != nil {
		return nil, statusFromError(err)
	}
	if _, isBool := value.(bool); isBool {
		return nil, status.Error(codes.InvalidArgument, "bool values cannot be stored")
	}
	key, err := s.cache.Store(ctx, value)
	if err != nil {
		return nil, statusFromError(err)
	}
	return wrapperspb.String(key), nil
}

func (s *Server) Retrieve(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s.cache == nil {
		return nil, status.Error(codes.Unavailable, "cache unavailable")
	}
	key := strings.TrimSpace(req.GetValue())
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	value, ok, err := s.cache.Retrieve(ctx, key)
	if err != nil {
		return nil, statusFromError(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "key %s not found", key)
	}
	return wrapperspb.Bytes(value), nil
}

func (s *Server) Calls(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	if s.replay == nil {
		return nil, status.Error(codes.Unavailable, "replay unavailable")
	}
	identity := req.GetValue()
	if identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity is required")
	}
	calls, err := s.replay.Calls(ctx, identity)
	if err != nil {
		return nil, statusFromError(err)
	}
	return wrapperspb.Int64(calls), nil
}

// Replay returns one rendered line per recorded call.
func (s *Server) Replay(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if s.replay == nil {
		return nil, status.Error(codes.Unavailable, "replay unavailable")
	}
	identity := req.GetValue()
	if identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity is required")
	}
	list := &structpb.ListValue{}
	for line, err := range s.replay.Lines(ctx, identity) {
		if err != nil {
			return nil, statusFromError(err)
		}
		list.Values = append(list.Values, structpb.NewStringValue(line))
	}
	return list, nil
}

func (s *Server) Fetch(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s.fetch == nil {
		return nil, status.Error(codes.Unavailable, "fetch unavailable")
	}
	body, err := s.fetch.Fetch(ctx, req.GetValue())
	if err != nil {
		return nil, statusFromError(err)
	}
	return wrapperspb.String(body), nil
}

// UnaryLogInterceptor writes one event line per call.
func UnaryLogInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	event := obs.Event{
		Name:     "grpc_" + methodName(info.FullMethod),
		Duration: time.Since(start),
		Err:      err,
	}
	if value, ok := req.(*wrapperspb.StringValue); ok {
		switch info.FullMethod {
		case fetchMethod:
			event.URL = value.GetValue()
		case callsMethod, replayMethod:
			event.Identity = value.GetValue()
		case retrieveMethod:
			event.Key = value.GetValue()
		}
	}
	if err != nil {
		event.ErrorCode = status.Code(err).String()
	}
	obs.LogEvent(event)
	return resp, err
}

func methodName(fullMethod string) string {
	if idx := strings.LastIndex(fullMethod, "/"); idx >= 0 {
		return strings.ToLower(fullMethod[idx+1:])
	}
	return fullMethod
}

// statusFromError maps platform error codes onto gRPC status codes.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if isFetchError(err) {
		return status.Error(codes.Unavailable, err.Error())
	}
	if ctxErr := status.FromContextError(err); ctxErr.Code() != codes.Unknown {
		return ctxErr.Err()
	}
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case platformerrors.CodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case platformerrors.CodeDatabase, platformerrors.CodeUnavailable, platformerrors.CodeNetwork:
		return status.Error(codes.Unavailable, err.Error())
	case platformerrors.CodeTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
