package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeServer records the access token seen by each method and answers with
// preset values.
type fakeServer struct {
	pb.UnimplementedAuthServiceServer

	mu     sync.Mutex
	tokens map[string][]string

	loginErr   error
	logoutErrs []error
	refreshErr error
	newAccess  string
}

func (f *fakeServer) seen(ctx context.Context, method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
		token = v[0]
	}
	if f.tokens == nil {
		f.tokens = map[string][]string{}
	}
	f.tokens[method] = append(f.tokens[method], token)
}

func (f *fakeServer) calls(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[method]
}

func (f *fakeServer) Register(ctx context.Context, in *pb.RegisterRequest) (*pb.RegisterResponse, error) {
	f.seen(ctx, "register")
	if in.Role == "" {
		return nil, status.Error(codes.InvalidArgument, "role is required: validation error")
	}
	return &pb.RegisterResponse{User: &pb.UserProfile{Id: "u1", Email: in.Email, Roles: []string{in.Role}}}, nil
}

func (f *fakeServer) Login(ctx context.Context, in *pb.LoginRequest) (*pb.LoginResponse, error) {
	f.seen(ctx, "login")
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &pb.LoginResponse{AccessToken: "acc-1", RefreshToken: "ref-1", User: &pb.UserProfile{Id: "u1", Email: in.Email}}, nil
}

func (f *fakeServer) Refresh(ctx context.Context, _ *pb.RefreshRequest) (*pb.RefreshResponse, error) {
	f.seen(ctx, "refresh")
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &pb.RefreshResponse{AccessToken: f.newAccess}, nil
}

func (f *fakeServer) Logout(ctx context.Context, _ *pb.LogoutRequest) (*pb.LogoutResponse, error) {
	f.seen(ctx, "logout")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.logoutErrs) > 0 {
		err := f.logoutErrs[0]
		f.logoutErrs = f.logoutErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &pb.LogoutResponse{}, nil
}

func (f *fakeServer) Ping(context.Context, *pb.PingRequest) (*pb.PingResponse, error) {
	return &pb.PingResponse{Status: "OK"}, nil
}

func newTestClient(t *testing.T, srv pb.AuthServiceServer) *GRPCClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	pb.RegisterAuthServiceServer(s, srv)
	go func() { _ = s.Serve(lis) }()

	c, err := NewGRPCClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		s.Stop()
	})
	return c
}

var expired = status.Error(codes.Unauthenticated, "token expired")

func TestLogin_StoresSession(t *testing.T) {
	c := newTestClient(t, &fakeServer{})

	user, err := c.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Id)
	assert.True(t, c.LoggedIn())
	assert.Equal(t, "ref-1", c.Session().RefreshToken)
}

func TestLogin_Unauthorized(t *testing.T) {
	c := newTestClient(t, &fakeServer{loginErr: status.Error(codes.Unauthenticated, "unauthorized")})

	_, err := c.Login(context.Background(), "a@example.com", "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, c.LoggedIn())
}

func TestRegister_InvalidArgument(t *testing.T) {
	c := newTestClient(t, &fakeServer{})

	_, err := c.Register(context.Background(), "a@example.com", "pw", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInterceptor_AttachesAccessToken(t *testing.T) {
	fs := &fakeServer{}
	c := newTestClient(t, fs)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, []string{""}, fs.calls("login"))
	assert.Equal(t, []string{"acc-1"}, fs.calls("logout"))
	assert.False(t, c.LoggedIn())
}

func TestInterceptor_RefreshesOnceAndRetries(t *testing.T) {
	fs := &fakeServer{logoutErrs: []error{expired}, newAccess: "acc-2"}
	c := newTestClient(t, fs)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, []string{"acc-1"}, fs.calls("refresh"))
	assert.Equal(t, []string{"acc-1", "acc-2"}, fs.calls("logout"))
}

func TestInterceptor_NoSecondRetry(t *testing.T) {
	fs := &fakeServer{logoutErrs: []error{expired, expired}, newAccess: "acc-2"}
	c := newTestClient(t, fs)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	err = c.Logout(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, fs.calls("logout"), 2)
	assert.Len(t, fs.calls("refresh"), 1)
}

func TestRefresh_SessionExpiredClearsSession(t *testing.T) {
	fs := &fakeServer{refreshErr: status.Error(codes.Unauthenticated, "session expired")}
	c := newTestClient(t, fs)
	ctx := context.Background()

	_, err := c.Login(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	_, err = c.Refresh(ctx)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, c.LoggedIn())
}

func TestNotLoggedIn(t *testing.T) {
	c := newTestClient(t, &fakeServer{})

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, c.Logout(context.Background()), ErrNotLoggedIn)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, &fakeServer{})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{status.Error(codes.Unavailable, "down"), ErrUnavailable},
		{status.Error(codes.DeadlineExceeded, "slow"), ErrUnavailable},
		{status.Error(codes.PermissionDenied, "no"), ErrUnauthorized},
		{status.Error(codes.Unauthenticated, "session expired"), ErrSessionExpired},
		{ErrNotLoggedIn, ErrNotLoggedIn},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, mapError(tt.in), tt.want)
	}

	internal := mapError(status.Error(codes.Internal, "internal error"))
	assert.False(t, errors.Is(internal, ErrUnavailable))
	assert.Contains(t, internal.Error(), "rpc error")
}
