package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/app"
	"github.com/nhle/onebox/internal/credential"
	"github.com/nhle/onebox/internal/model"
)

func main() {
	configPath := pflag.StringP("config", "c", model.DefaultConfigPath(), "path to the YAML configuration file")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: onebox [flags]\n       onebox credential set|delete <key>\n\nflags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.Arg(0) == "credential" {
		os.Exit(runCredential(pflag.Args()[1:]))
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	container, err := app.BuildContainer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = container.Invoke(func(a *app.App, logger *zap.Logger) error {
		defer logger.Sync()
		return a.Run(ctx)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

func runCredential(args []string) int {
	store, err := credential.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open keyring: %v\n", err)
		return 1
	}
	if err := credential.RunCommand(store, args, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
