package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/service"
)

// AnalysisServer adapts the service façade to the gRPC surface.
// Thread-safe: the façade handles concurrent requests.
type AnalysisServer struct {
	logger Logger
	facade *service.Facade
}

// NewAnalysisServer creates the RPC adapter over a façade.
func NewAnalysisServer(facade *service.Facade, logger Logger) *AnalysisServer {
	return &AnalysisServer{
		logger: logger,
		facade: facade,
	}
}

// Query runs one request to completion and returns the terminal payload.
func (s *AnalysisServer) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, err
	}

	resp, err := s.facade.Query(ctx, req)
	if err != nil {
		return nil, Internal("query", err)
	}

	out, err := toStruct(resp)
	if err != nil {
		return nil, Internal("encoding response", err)
	}
	return out, nil
}

// QueryStream runs one request and streams stage events, ending with the
// terminal event.
func (s *AnalysisServer) QueryStream(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	req, err := decodeRequest(in)
	if err != nil {
		return err
	}

	events, requestID, err := s.facade.QueryStream(stream.Context(), req)
	if err != nil {
		return Internal("query_stream", err)
	}

	for ev := range events {
		payload, err := toStruct(ev)
		if err != nil {
			s.logger.Error("stream_encode_failed", "request_id", requestID, "error", err.Error())
			continue
		}
		if err := stream.Send(payload); err != nil {
			// The client went away; the runner keeps draining via the
			// façade's cancellation path.
			s.facade.Cancel(requestID)
			return err
		}
	}
	return nil
}

// decodeRequest validates and converts the wire payload.
func decodeRequest(in *structpb.Struct) (service.Request, error) {
	var req service.Request
	if in == nil {
		return req, InvalidArgument("request")
	}
	if err := fromStruct(in, &req); err != nil {
		return req, InvalidArgument("request")
	}
	return req, nil
}
