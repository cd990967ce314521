package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/logger"
	"github.com/samcharles93/gptj/internal/toy"
)

func toyCmd() *cli.Command {
	hp := toy.Hyperparameters()
	var (
		out  string
		seed uint64
		f16  bool
	)
	return &cli.Command{
		Name:  "toy",
		Usage: "Write a small random GPT-J model file for smoke tests",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output path", Required: true, Destination: &out},
			&cli.Uint64Flag{Name: "seed", Usage: "weight seed", Value: 1, Destination: &seed},
			&cli.IntFlag{Name: "vocab", Usage: "n_vocab", Value: hp.NVocab, Destination: &hp.NVocab},
			&cli.IntFlag{Name: "ctx", Usage: "n_ctx", Value: hp.NCtx, Destination: &hp.NCtx},
			&cli.IntFlag{Name: "embd", Usage: "n_embd", Value: hp.NEmbd, Destination: &hp.NEmbd},
			&cli.IntFlag{Name: "heads", Usage: "n_head", Value: hp.NHead, Destination: &hp.NHead},
			&cli.IntFlag{Name: "layers", Usage: "n_layer", Value: hp.NLayer, Destination: &hp.NLayer},
			&cli.IntFlag{Name: "rot", Usage: "n_rot", Value: hp.NRot, Destination: &hp.NRot},
			&cli.BoolFlag{Name: "f16", Usage: "store matrices as f16", Destination: &f16},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := hp.Validate(); err != nil {
				return err
			}
			typ := ggmlfile.TypeF32
			if f16 {
				typ = ggmlfile.TypeF16
			}
			if err := writeToy(out, hp, seed, typ); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("wrote toy model", "path", out, "type", typ.String(), "seed", seed)
			return nil
		},
	}
}

func writeToy(path string, hp gptj.Hyperparameters, seed uint64, typ ggmlfile.Type) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()

	if err := toy.WriteFile(f, hp, seed, typ); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
