package main

import (
	"github.com/samcharles93/gptj/internal/inference"
	"github.com/urfave/cli/v3"
)

var (
	modelPath   string
	modelsPath  string
	contextSize int
	threads     int
	batchSize   int
	logLevel    string
	logFormat   string
	debug       bool
	configFile  string

	// loaded is the config file read by the root command.
	loaded Config
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a ggml/ggmf/ggjt GPT-J model file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory searched for a single .bin model when --model is not set",
			Destination: &modelsPath,
		},
		&cli.IntFlag{
			Name:        "context-size",
			Aliases:     []string{"ctx", "c"},
			Usage:       "context window in tokens (0 keeps n_ctx from the file)",
			Destination: &contextSize,
		},
		&cli.IntFlag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "goroutines per operator",
			Value:       defaultThreads(),
			Destination: &threads,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "tokens per forward pass when feeding long inputs",
			Value:       inference.DefaultBatchSize,
			Destination: &batchSize,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
