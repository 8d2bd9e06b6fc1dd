package cmd

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// dialTelemetry opens a client connection to a running heapkeeper process's
// telemetry server. There is no generated stub: the Telemetry service was
// hand-registered, so requests are issued with conn.Invoke/NewStream
// against the method names directly.
func dialTelemetry(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func getStats(ctx context.Context, addr string) (map[string]interface{}, error) {
	conn, err := dialTelemetry(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req := &structpb.Struct{}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/GetStats", req, resp); err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}
	return resp.AsMap(), nil
}

func collectRemote(ctx context.Context, addr string) (map[string]interface{}, error) {
	conn, err := dialTelemetry(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &structpb.Struct{}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/Collect", req, resp); err != nil {
		return nil, fmt.Errorf("Collect: %w", err)
	}
	return resp.AsMap(), nil
}

func streamStats(ctx context.Context, addr string, fn func(map[string]interface{})) error {
	conn, err := dialTelemetry(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	desc := &grpc.StreamDesc{StreamName: "StreamStats", ServerStreams: true}
	stream, err := conn.NewStream(ctx, desc, "/heapkeeper.telemetry.Telemetry/StreamStats")
	if err != nil {
		return fmt.Errorf("StreamStats: %w", err)
	}

	if err := stream.SendMsg(&structpb.Struct{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		resp := &structpb.Struct{}
		if err := stream.RecvMsg(resp); err != nil {
			return err
		}
		fn(resp.AsMap())
	}
}
