package grpc

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/runtime"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/service"
)

// AnalysisClient is a thin typed client over a gRPC connection, used by the
// gateway and by end-to-end tests.
type AnalysisClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalysisClient wraps an established connection.
func NewAnalysisClient(cc grpc.ClientConnInterface) *AnalysisClient {
	return &AnalysisClient{cc: cc}
}

// Query runs one request to completion.
func (c *AnalysisClient) Query(ctx context.Context, req service.Request) (*service.Response, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodQuery, in, out); err != nil {
		return nil, err
	}

	var resp service.Response
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueryStream runs one request and returns its decoded event stream.
func (c *AnalysisClient) QueryStream(ctx context.Context, req service.Request) (<-chan runtime.Event, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}

	stream, err := c.cc.NewStream(ctx, &analysisServiceDesc.Streams[0], methodQueryStream)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	events := make(chan runtime.Event, 16)
	go func() {
		defer close(events)
		for {
			payload := new(structpb.Struct)
			if err := stream.RecvMsg(payload); err != nil {
				if err != io.EOF {
					// The channel closing is the error signal; callers see
					// a truncated stream without a terminal event.
					_ = err
				}
				return
			}
			var ev runtime.Event
			if err := fromStruct(payload, &ev); err != nil {
				continue
			}
			events <- ev
		}
	}()
	return events, nil
}
