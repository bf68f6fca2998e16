package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/client/client"
	"github.com/dmitrijs2005/authkeeper/internal/client/config"
	pb "github.com/dmitrijs2005/authkeeper/internal/proto"
)

// API is the server surface the CLI drives. *client.GRPCClient implements it.
type API interface {
	Register(ctx context.Context, email, password, role string) (*pb.UserProfile, error)
	Login(ctx context.Context, email, password string) (*pb.UserProfile, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
	Session() client.Session
	LoggedIn() bool
	Close() error
}

type App struct {
	api     API
	opsURL  string
	http    *http.Client
	timeout time.Duration
	reader  *bufio.Reader
	out     io.Writer
}

func NewApp(c *config.Config) (*App, error) {
	api, err := client.NewGRPCClient(c.ServerEndpointAddr)
	if err != nil {
		return nil, err
	}
	return newApp(api, c.OpsEndpointURL, c.RequestTimeout, os.Stdin, os.Stdout), nil
}

func newApp(api API, opsURL string, timeout time.Duration, in io.Reader, out io.Writer) *App {
	return &App{
		api:     api,
		opsURL:  strings.TrimRight(opsURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		reader:  bufio.NewReader(in),
		out:     out,
	}
}

// Run starts the REPL and blocks until the user exits or input ends.
func (a *App) Run(ctx context.Context) {
	defer a.api.Close()

	fmt.Fprintln(a.out, "AuthKeeper CLI (type 'help' for commands)")
	a.repl(ctx)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *App) status() string {
	if s := a.api.Session(); s.User != nil {
		return s.User.Email
	}
	return "guest"
}

func (a *App) repl(ctx context.Context) {
	for {
		fmt.Fprintf(a.out, "ak %s > ", a.status())
		line, err := a.reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "help":
			if a.api.LoggedIn() {
				a.printf("Available commands: whoami, refresh, sweep, logout, exit")
			} else {
				a.printf("Available commands: register, login, exit")
			}
		case "register":
			a.report(a.Register(ctx))
		case "login":
			a.report(a.Login(ctx))
		case "refresh":
			a.report(a.Refresh(ctx))
		case "logout":
			a.report(a.Logout(ctx))
		case "sweep":
			a.report(a.Sweep(ctx))
		case "whoami":
			a.WhoAmI()
		case "exit", "quit":
			a.printf("Bye!")
			return
		default:
			a.printf("Unknown command: %s", cmd)
		}
	}
}

func (a *App) report(err error) {
	if err != nil {
		a.printf("error: %v", err)
	}
}
