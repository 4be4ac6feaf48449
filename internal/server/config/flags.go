package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/trackauth/internal/flagx"
)

// parseFlags applies command-line overrides to cfg.
//
//	-a string   HTTP bind address
//	-g string   gRPC bind address ("" disables gRPC)
//	-d string   PostgreSQL DSN
//	-e string   environment name
//	-l string   log level
//
// Only these flags are looked at; -c / -config is handled by flagx.ConfigFile.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-e", "-l"})

	fs := flag.NewFlagSet("trackauth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP address and port")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "gRPC address and port")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.Environment, "e", cfg.Environment, "environment")
	fs.StringVar(&cfg.Log.Level, "l", cfg.Log.Level, "log level")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
