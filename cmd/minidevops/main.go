package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cabinet-fe/MiniDevOps/internal/application"
	"github.com/cabinet-fe/MiniDevOps/internal/config"
	_ "github.com/cabinet-fe/MiniDevOps/internal/registry_ext"
)

type options struct {
	configPath      string
	env             string
	shutdownTimeout time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("minidevops", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "configs/config.yaml", "config file path")
	fs.StringVarP(&o.env, "env", "e", "development", "runtime environment")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	app := application.NewApp(opts.env, opts.configPath)
	app.SetBizConfig(config.GetBizConfig())
	app.SetShutdownTimeout(opts.shutdownTimeout)

	if err := app.Run(); err != nil {
		log.Fatalf("app exited with error: %v", err)
	}
}
