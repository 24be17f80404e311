package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"contractlab/internal/cli/command"
	"contractlab/internal/cli/config"
	"contractlab/internal/cli/http"
	"contractlab/internal/cli/repl"
	"contractlab/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 30s)")
	user := flag.String("user", "", "Override user id")
	course := flag.String("course", "", "Override course id")
	statePath := flag.String("state", "", "Override session state path")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	plain := flag.Bool("plain", false, "Read plain lines from stdin without line editing")
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
		cfg.StatePath = *statePath
	}
	if *noColor {
		falseValue := false
		cfg.Color = &falseValue
	}

	session, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load session state failed: %v\n", err)
		return
	}
	if *user != "" {
		session.UserID = *user
	}
	if *course != "" {
		session.CourseID = *course
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return session.UserID
	})

	var lines repl.LineReader = repl.NewLineReader(os.Stdin, os.Stdout)
	if !*plain {
		term, err := repl.NewTerminal(cfg.HistoryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open terminal failed, falling back to plain input: %v\n", err)
		} else {
			defer func() { _ = term.Close() }()
			lines = term
		}
	}

	r := repl.New(client, command.Registry(), &session, cfg.StatePath, repl.Options{
		PrettyJSON: cfg.PrettyJSON != nil && *cfg.PrettyJSON,
		Color:      cfg.Color != nil && *cfg.Color,
	}, lines, os.Stdout)
	r.Run(context.Background())
}
