package authctl

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultServer = "http://localhost:8080"

var errUsage = errors.New("usage")

type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	client *http.Client
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		a.usage()
		return 2
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "keygen":
		err = a.keygen(rest)
	case "hash-password":
		err = a.hashPassword(rest)
	case "login":
		err = a.login(ctx, rest)
	case "refresh":
		err = a.refresh(ctx, rest)
	case "logout":
		err = a.logout(ctx, rest)
	case "help", "-h", "--help":
		a.usage()
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n", cmd)
		a.usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(a.errOut, "error: %v\n", err)
		return 1
	}
}

func (a *App) usage() {
	fmt.Fprintln(a.errOut, "Available commands: keygen, hash-password, login, refresh, logout")
}

func (a *App) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}
