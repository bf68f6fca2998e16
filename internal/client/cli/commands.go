package cli

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/client/client"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/netx"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
)

func (a *App) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *App) credentials() (string, string, error) {
	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return "", "", err
	}
	pw, err := GetPassword(a.out)
	if err != nil {
		return "", "", err
	}
	defer common.WipeByteArray(pw)
	return email, string(pw), nil
}

func (a *App) Register(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	role, err := GetSimpleText(a.reader, "Enter role", a.out)
	if err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	user, err := a.api.Register(ctx, email, password, role)
	if err != nil {
		return err
	}
	a.printf("Registered %s (id %s)", user.Email, user.Id)
	return nil
}

func (a *App) Login(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	user, err := a.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	a.printf("Logged in as %s", user.Email)
	return nil
}

func (a *App) Refresh(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if _, err := a.api.Refresh(ctx); err != nil {
		return err
	}
	a.printf("Access token renewed")
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if err := a.api.Logout(ctx); err != nil {
		return err
	}
	a.printf("Logged out")
	return nil
}

// Sweep asks the ops endpoint to purge revoked and expired refresh tokens.
// The server only allows it for the admin role.
func (a *App) Sweep(ctx context.Context) error {
	s := a.api.Session()
	if s.AccessToken == "" {
		return client.ErrNotLoggedIn
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := netx.PostJSON(ctx, a.http, a.opsURL+"/admin/sweep", s.AccessToken, &resp); err != nil {
		return err
	}
	a.printf("Swept %d refresh tokens", resp.Deleted)
	return nil
}

func (a *App) WhoAmI() {
	s := a.api.Session()
	if s.User == nil {
		a.printf("not logged in")
		return
	}
	a.printf("%s", describe(s.User))
}

func describe(p *pb.UserProfile) string {
	roles := "none"
	if len(p.Roles) > 0 {
		roles = strings.Join(p.Roles, ",")
	}
	return p.Email + " (id " + p.Id + ", roles " + roles + ")"
}
