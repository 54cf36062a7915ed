// Package grpc provides the gRPC front door for the engine.
//
// The service surface is two operations over google.protobuf.Struct
// payloads: a unary Query and a server-streaming QueryStream. Struct keeps
// the wire schema owned by the gateway collaborator while the engine's
// request/response shapes stay plain Go; the service descriptor below is
// registered by hand for the same reason a generated one would be.
package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnalysisServiceName is the fully qualified gRPC service name.
const AnalysisServiceName = "codeanalysis.v1.AnalysisService"

const (
	methodQuery       = "/" + AnalysisServiceName + "/Query"
	methodQueryStream = "/" + AnalysisServiceName + "/QueryStream"
)

// AnalysisService is the server-side contract behind the descriptor.
type AnalysisService interface {
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	QueryStream(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// analysisServiceDesc is the hand-registered service descriptor.
var analysisServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisServiceName,
	HandlerType: (*AnalysisService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    queryHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "QueryStream",
			Handler:       queryStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "codeanalysis/v1/analysis.proto",
}

func queryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisService).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: methodQuery,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AnalysisService).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func queryStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AnalysisService).QueryStream(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// =============================================================================
// STRUCT CONVERSION
// =============================================================================

// toStruct converts any JSON-shaped Go value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct converts a protobuf Struct into the given JSON-shaped target.
func fromStruct(s *structpb.Struct, target any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
