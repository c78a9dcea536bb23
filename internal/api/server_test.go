package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/config"
)

func startServer(t *testing.T, svc QueryService) *grpc.ClientConn {
	t.Helper()
	server, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second}, NewQueryServer(svc, nil))
	require.NoError(t, err)
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(server.Address(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCListAnomalies(t *testing.T) {
	svc := &fakeQueryService{}
	conn := startServer(t, svc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := invoke(ctx, conn, "ListAnomalies", map[string]any{"service": "payments", "limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, svc.anomalyReq.Limit)
	assert.Equal(t, "payments", svc.anomalyReq.Service)

	anomalies := out.GetFields()["anomalies"].GetListValue().GetValues()
	require.Len(t, anomalies, 1)
	assert.Equal(t, "a1", anomalies[0].GetStructValue().GetFields()["id"].GetStringValue())
	assert.Equal(t, "20", out.GetFields()["next_page_token"].GetStringValue())
}

func TestGRPCErrorsMapToStatusCodes(t *testing.T) {
	conn := startServer(t, &fakeQueryService{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := invoke(ctx, conn, "ListAnomalies", map[string]any{"limit": 101})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = invoke(ctx, conn, "ListRootCauses", map[string]any{"limit": "five"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCStatsCategoriesAndHealth(t *testing.T) {
	conn := startServer(t, &fakeQueryService{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := invoke(ctx, conn, "GetStats", nil)
	require.NoError(t, err)
	anomalies := stats.GetFields()["anomalies"].GetStructValue().GetFields()
	assert.Equal(t, 3.0, anomalies["total"].GetNumberValue())

	cats, err := invoke(ctx, conn, "ListCategories", nil)
	require.NoError(t, err)
	assert.Len(t, cats.GetFields()["categories"].GetListValue().GetValues(), 2)

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
