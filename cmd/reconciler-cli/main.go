package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"docpipe/internal/cli/command"
	"docpipe/internal/cli/config"
	httpclient "docpipe/internal/cli/http"
	"docpipe/internal/cli/repl"
	"docpipe/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	statePath := flag.String("state", "", "Override session state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.SessionStatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	sessionState, err := state.Load(cfg.SessionStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		return
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)

	commands := command.Registry()
	session := repl.New(client, commands, &sessionState, cfg.SessionStatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON)
	session.Run(context.Background())
}
