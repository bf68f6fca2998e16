package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func accessToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
		return values[0]
	}
	return ""
}

// accessTokenInterceptor attaches the caller's principal for Logout and
// Refresh. A missing or unparsable token leaves the context without a
// principal and the use case rejects the call. Refresh accepts an expired
// access token since that is the moment a client refreshes.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var parse func(string) (*auth.Claims, error)
	switch info.FullMethod {
	case pb.AuthService_Logout_FullMethodName:
		parse = s.tokens.Parse
	case pb.AuthService_Refresh_FullMethodName:
		parse = s.tokens.ParseExpired
	default:
		return handler(ctx, req)
	}

	token := accessToken(ctx)
	if token == "" {
		return handler(ctx, req)
	}

	claims, err := parse(token)
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return nil, status.Error(codes.Unauthenticated, "token expired")
	case err != nil:
		s.logger.Warn(ctx, "rejected access token", "method", info.FullMethod, "error", err)
		return handler(ctx, req)
	}

	ctx = auth.WithPrincipal(ctx, auth.Principal{UserID: claims.Subject, Roles: claims.Roles})
	return handler(ctx, req)
}
