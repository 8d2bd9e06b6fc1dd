package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeProvider struct{}

func (fakeProvider) Stats() map[string]interface{} {
	return map[string]interface{}{
		"live_allocations": float64(3),
		"generation":       float64(7),
	}
}

type fakeCollector struct{ calls int }

func (f *fakeCollector) CollectBlocked() { f.calls++ }

func TestGetStatsOverGRPC(t *testing.T) {
	srv := New("127.0.0.1:18743", fakeProvider{}, nil, nil)

	require.NoError(t, srv.Start())
	defer srv.Stop()

	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("127.0.0.1:18743", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &structpb.Struct{}
	resp := &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/GetStats", req, resp))

	assert.Equal(t, float64(3), resp.Fields["live_allocations"].GetNumberValue())
}

func TestCollectOverGRPCWithoutCollectorIsRejected(t *testing.T) {
	srv := New("127.0.0.1:18744", fakeProvider{}, nil, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()
	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("127.0.0.1:18744", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/Collect", &structpb.Struct{}, &structpb.Struct{})
	assert.Error(t, err)
}

func TestCollectOverGRPCWithCollector(t *testing.T) {
	fc := &fakeCollector{}
	srv := New("127.0.0.1:18745", fakeProvider{}, fc, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()
	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("127.0.0.1:18745", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp := &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/heapkeeper.telemetry.Telemetry/Collect", &structpb.Struct{}, resp))
	assert.Equal(t, 1, fc.calls)
}
