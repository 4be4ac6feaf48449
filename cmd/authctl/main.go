package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/trackauth/internal/authctl"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	app := authctl.NewApp(os.Stdin, os.Stdout, os.Stderr)
	code := app.Run(ctx, os.Args[1:])

	stop()
	os.Exit(code)

}
