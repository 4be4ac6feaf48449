package authctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type apiError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
	RetryAfter  string `json:"-"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Description)
	if e.RetryAfter != "" {
		msg += " (retry after " + e.RetryAfter + "s)"
	}
	return msg
}

func (a *App) login(ctx context.Context, args []string) error {
	fs := a.flagSet("login")
	server := fs.String("server", defaultServer, "trackauth base URL")
	user := fs.String("u", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		fmt.Fprintln(a.errOut, "login: -u is required")
		return errUsage
	}

	pw, err := GetPassword(a.in, a.errOut)
	if err != nil {
		return err
	}
	defer wipe(pw)

	return a.post(ctx, *server, "/auth/login", map[string]string{"username": *user, "password": string(pw)})
}

func (a *App) refresh(ctx context.Context, args []string) error {
	return a.tokenCommand(ctx, "refresh", args)
}

func (a *App) logout(ctx context.Context, args []string) error {
	return a.tokenCommand(ctx, "logout", args)
}

func (a *App) tokenCommand(ctx context.Context, name string, args []string) error {
	fs := a.flagSet(name)
	server := fs.String("server", defaultServer, "trackauth base URL")
	token := fs.String("t", "", "refresh token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		fmt.Fprintf(a.errOut, "%s: -t is required\n", name)
		return errUsage
	}
	return a.post(ctx, *server, "/auth/"+name, map[string]string{"refresh_token": *token})
}

// post sends body as JSON and copies a successful response to a.out.
func (a *App) post(ctx context.Context, server, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		if err := json.Unmarshal(data, e); err != nil || e.Code == "" {
			return errors.New(resp.Status)
		}
		return e
	}

	if resp.StatusCode == http.StatusNoContent {
		fmt.Fprintln(a.out, "ok")
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		_, err = a.out.Write(data)
		return err
	}
	fmt.Fprintln(a.out, pretty.String())
	return nil
}
