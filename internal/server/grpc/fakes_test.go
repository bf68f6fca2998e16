package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "secret"

func newIssuer() *auth.Issuer {
	return auth.NewIssuer([]byte(testSecret), "authkeeper", "authkeeper-clients", time.Hour)
}

type fakeAuth struct {
	profile  *models.Profile
	login    *services.LoginResult
	access   string
	err      error
	seen     auth.Principal
	hadPrinc bool
}

func (f *fakeAuth) record(ctx context.Context) {
	f.seen, f.hadPrinc = auth.PrincipalFrom(ctx)
}

func (f *fakeAuth) Register(ctx context.Context, email, password, role string) (*models.Profile, error) {
	return f.profile, f.err
}

func (f *fakeAuth) Login(ctx context.Context, email, password string) (*services.LoginResult, error) {
	return f.login, f.err
}

func (f *fakeAuth) Refresh(ctx context.Context) (string, error) {
	f.record(ctx)
	return f.access, f.err
}

func (f *fakeAuth) Logout(ctx context.Context) error {
	f.record(ctx)
	return f.err
}

// dial starts s on an in-memory listener and returns a connected client.
func dial(t *testing.T, s *GRPCServer) pb.AuthServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})
	return pb.NewAuthServiceClient(conn)
}

func newServer(a AuthUseCases) *GRPCServer {
	return NewGRPCServer("bufnet", logging.NopLogger{}, a, newIssuer())
}
