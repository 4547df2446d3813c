package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"kvcache/internal/webcache"
)

const (
	storeMethod    = "/" + ServiceName + "/Store"
	retrieveMethod = "/" + ServiceName + "/Retrieve"
	callsMethod    = "/" + ServiceName + "/Calls"
	replayMethod   = "/" + ServiceName + "/Replay"
	fetchMethod    = "/" + ServiceName + "/Fetch"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Store", Handler: storeHandler},
		{MethodName: "Retrieve", Handler: retrieveHandler},
		{MethodName: "Calls", Handler: callsHandler},
		{MethodName: "Replay", Handler: replayHandler},
		{MethodName: "Fetch", Handler: fetchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kvcache/v1/cache.proto",
}

func storeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(anypb.Any)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CacheServer).Store(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: storeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CacheServer).Store(ctx, req.(*anypb.Any))
	}
	return interceptor(ctx, in, info, handler)
}

func retrieveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryString(srv, ctx, dec, interceptor, retrieveMethod, func(s CacheServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
		return s.Retrieve(ctx, in)
	})
}

func callsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryString(srv, ctx, dec, interceptor, callsMethod, func(s CacheServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
		return s.Calls(ctx, in)
	})
}

func replayHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryString(srv, ctx, dec, interceptor, replayMethod, func(s CacheServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
		return s.Replay(ctx, in)
	})
}

func fetchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return unaryString(srv, ctx, dec, interceptor, fetchMethod, func(s CacheServer, ctx context.Context, in *wrapperspb.StringValue) (interface{}, error) {
		return s.Fetch(ctx, in)
	})
}

// unaryString decodes a StringValue request and runs call through the
// interceptor chain.
func unaryString(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
	fullMethod string,
	call func(CacheServer, context.Context, *wrapperspb.StringValue) (interface{}, error),
) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(CacheServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return call(srv.(CacheServer), ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func isFetchError(err error) bool {
	return errors.Is(err, webcache.ErrFetch)
}
