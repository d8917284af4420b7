// Command proxypool runs the proxy pool server.
//
// Usage:
//
//	proxypool [-config path] [serve|migrate|gen-token]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/ProxyPool/internal/app"
	"github.com/router-for-me/ProxyPool/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml (default: $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")
	flag.Parse()

	command := "serve"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: configPath}
	var err error
	switch command {
	case "serve":
		err = app.RunServer(ctx, cfg)
	case "migrate":
		err = app.Migrate(ctx, cfg)
	case "gen-token":
		var generated app.GeneratedToken
		generated, err = app.GenerateToken()
		if err == nil {
			fmt.Printf("token: %s\n", generated.Token)
			fmt.Printf("access.token_hash: %q\n", generated.Hash)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, migrate or gen-token)\n", command)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("proxypool exited with error")
		os.Exit(1)
	}
}
