package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/inference"
	"github.com/samcharles93/gptj/internal/logger"
)

func evalCmd() *cli.Command {
	var (
		tokenList string
		topK      int
	)
	return &cli.Command{
		Name:  "eval",
		Usage: "Feed a token sequence through the model and print the next-token candidates",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "tokens",
				Usage:       "comma separated token ids",
				Destination: &tokenList,
			},
			&cli.IntFlag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "number of candidates to print",
				Value:       10,
				Destination: &topK,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, loaded)
			log := logger.FromContext(ctx)

			tokens, err := parseTokens(tokenList)
			if err != nil {
				return err
			}
			path, err := resolveModelPath(modelPath, modelsPath, os.Stderr)
			if err != nil {
				return err
			}
			res, err := inference.Loader{ContextSize: contextSize, Logger: log}.Load(ctx, path)
			if err != nil {
				return err
			}

			m := res.Model
			runner := &inference.Runner{Model: m, Threads: threads, BatchSize: batchSize}
			s := m.StartSession()
			out, stats, err := runner.Feed(ctx, s, tokens, gptj.OutputRequest{})
			if err != nil {
				return err
			}
			log.Info("evaluated",
				"tokens", stats.Tokens,
				"batches", stats.Batches,
				"n_past", s.NPast(),
				"elapsed", stats.Duration,
				"tps", fmt.Sprintf("%.2f", stats.TPS),
			)

			v := m.Vocabulary()
			for i, c := range inference.TopK(out.Logits, topK) {
				text, _ := v.Token(c.Token)
				fmt.Printf("%2d. %6d %10.4f %q\n", i+1, c.Token, c.Logit, text)
			}
			return nil
		},
	}
}

// parseTokens reads a comma separated list of token ids.
func parseTokens(s string) ([]gptj.TokenID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("--tokens is required")
	}
	parts := strings.Split(s, ",")
	tokens := make([]gptj.TokenID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", p, err)
		}
		tokens = append(tokens, gptj.TokenID(id))
	}
	if len(tokens) == 0 {
		return nil, errors.New("--tokens is required")
	}
	return tokens, nil
}
