package grpctransport

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/gateway"
)

type rotatingSource struct {
	mu         sync.Mutex
	credential string
	refreshes  int
	logouts    int
}

func (s *rotatingSource) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, s.credential != ""
}

func (s *rotatingSource) RefreshCredential(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.credential = "fresh"
	return nil
}

func (s *rotatingSource) Logout(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	s.credential = ""
}

// ledgerHealth stands in for a remote collaborator that authenticates calls.
type ledgerHealth struct {
	healthpb.UnimplementedHealthServer

	accept string

	mu   sync.Mutex
	seen [][]string
}

func (h *ledgerHealth) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(authorizationKey)

	h.mu.Lock()
	h.seen = append(h.seen, values)
	h.mu.Unlock()

	if len(values) != 1 || values[0] != "Bearer "+h.accept {
		return nil, status.Error(codes.Unauthenticated, "bad credential")
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (h *ledgerHealth) calls() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.seen...)
}

func dialLedger(t *testing.T, server *ledgerHealth, source gateway.SessionSource) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, server)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///ledger",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(UnaryClientInterceptor(gateway.New(source, gateway.Options{}))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestInterceptorRetriesAfterRefresh(t *testing.T) {
	server := &ledgerHealth{accept: "fresh"}
	source := &rotatingSource{credential: "stale"}
	client := dialLedger(t, server, source)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	assert.Equal(t, [][]string{{"Bearer stale"}, {"Bearer fresh"}}, server.calls())
	assert.Equal(t, 1, source.refreshes)
}

func TestInterceptorSessionExpired(t *testing.T) {
	server := &ledgerHealth{accept: "never"}
	source := &rotatingSource{credential: "stale"}
	client := dialLedger(t, server, source)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	assert.True(t, oerrors.IsCode(err, oerrors.CodeSessionExpired))
	assert.Len(t, server.calls(), 2)
	assert.Equal(t, 1, source.logouts)
}

func TestInterceptorPassesThroughOtherErrors(t *testing.T) {
	source := &rotatingSource{credential: "c"}
	interceptor := UnaryClientInterceptor(gateway.New(source, gateway.Options{}))

	var attempts int
	err := interceptor(context.Background(), "/ledger.Ledger/Transfer", nil, nil, nil,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			attempts++
			return status.Error(codes.Unavailable, "ledger down")
		})

	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, 1, attempts)
	assert.Zero(t, source.refreshes)
}

func TestInterceptorWithoutSession(t *testing.T) {
	interceptor := UnaryClientInterceptor(gateway.New(&rotatingSource{}, gateway.Options{}))

	err := interceptor(context.Background(), "/ledger.Ledger/Balance", nil, nil, nil,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			t.Fatal("invoker must not run without a session")
			return nil
		})
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotAuthenticated))
}
