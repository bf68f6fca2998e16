package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Session is the state a successful login leaves behind.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *pb.UserProfile
}

type GRPCClient struct {
	conn   *grpc.ClientConn
	client pb.AuthServiceClient

	mu      sync.Mutex
	session Session
}

// NewGRPCClient connects to target. Extra dial options are appended to the
// defaults (insecure transport, token interceptor).
func NewGRPCClient(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{}

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = pb.NewAuthServiceClient(conn)
	return c, nil
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.AccessToken
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token := c.accessToken()
	if token == "" {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	err := invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	if err == nil || method == pb.AuthService_Refresh_FullMethodName || !isTokenExpired(err) {
		return err
	}

	if _, err := c.Refresh(ctx); err != nil {
		return err
	}

	return invoker(withAccessToken(ctx, c.accessToken()), method, req, reply, cc, opts...)
}

func (c *GRPCClient) Register(ctx context.Context, email, password, role string) (*pb.UserProfile, error) {
	resp, err := c.client.Register(ctx, &pb.RegisterRequest{Email: email, Password: password, Role: role})
	if err != nil {
		return nil, mapError(err)
	}
	return resp.User, nil
}

func (c *GRPCClient) Login(ctx context.Context, email, password string) (*pb.UserProfile, error) {
	resp, err := c.client.Login(ctx, &pb.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, mapError(err)
	}

	c.mu.Lock()
	c.session = Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: resp.User}
	c.mu.Unlock()

	return resp.User, nil
}

// Refresh renews the access token. The server identifies the session by the
// current (possibly expired) access token.
func (c *GRPCClient) Refresh(ctx context.Context) (string, error) {
	if c.accessToken() == "" {
		return "", ErrNotLoggedIn
	}

	resp, err := c.client.Refresh(ctx, &pb.RefreshRequest{})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, ErrSessionExpired) {
			c.clear()
		}
		return "", err
	}

	c.mu.Lock()
	c.session.AccessToken = resp.AccessToken
	c.mu.Unlock()

	return resp.AccessToken, nil
}

// Logout revokes the session on the server. The local session is dropped
// even if the server call fails.
func (c *GRPCClient) Logout(ctx context.Context) error {
	if c.accessToken() == "" {
		return ErrNotLoggedIn
	}
	defer c.clear()

	if _, err := c.client.Logout(ctx, &pb.LogoutRequest{}); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(ctx, &pb.PingRequest{})
	if err != nil {
		return mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

// Session returns a copy of the current session.
func (c *GRPCClient) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *GRPCClient) LoggedIn() bool {
	return c.accessToken() != ""
}

func (c *GRPCClient) clear() {
	c.mu.Lock()
	c.session = Session{}
	c.mu.Unlock()
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		if st.Message() == "session expired" {
			return ErrSessionExpired
		}
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrUnauthorized
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidInput, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
