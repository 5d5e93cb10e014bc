package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/jobs"
)

func dialBufconn(t *testing.T, svc JobService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewGRPCServer(svc, nil)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCGetJob(t *testing.T) {
	fj := newFakeJobs(t)
	fj.records["j1"] = jobs.Record{
		ID:               "j1",
		Status:           constants.JobStatusCompleted,
		Progress:         100,
		QuestionsPerPage: map[int]int{1: 2, 2: 3},
	}
	client := NewJobClient(dialBufconn(t, fj))
	ctx := context.Background()

	got, err := client.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	fields := got.GetFields()
	if fields["status"].GetStringValue() != "completed" || fields["progress"].GetNumberValue() != 100 {
		t.Fatalf("fields = %v", fields)
	}
	if fields["questions_per_page"].GetStructValue().GetFields()["2"].GetNumberValue() != 3 {
		t.Fatalf("questions_per_page = %v", fields["questions_per_page"])
	}

	_, err = client.GetJob(ctx, "missing")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("missing code = %v", status.Code(err))
	}
	_, err = client.GetJob(ctx, " ")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("blank code = %v", status.Code(err))
	}
}

func TestGRPCHealth(t *testing.T) {
	conn := dialBufconn(t, newFakeJobs(t))
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.GetStatus())
	}
}
