package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/inference"
)

type inspectTensor struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Shape []int  `json:"shape"`
	Bytes int    `json:"bytes"`
}

type inspectReport struct {
	Path       string          `json:"path"`
	Format     string          `json:"format"`
	Version    uint32          `json:"version"`
	FileType   string          `json:"file_type"`
	NVocab     int             `json:"n_vocab"`
	NCtx       int             `json:"n_ctx"`
	NEmbd      int             `json:"n_embd"`
	NHead      int             `json:"n_head"`
	NLayer     int             `json:"n_layer"`
	NRot       int             `json:"n_rot"`
	VocabSize  int             `json:"vocab_size"`
	MaxToken   int             `json:"max_token_length"`
	TensorData int             `json:"tensor_bytes"`
	Tensors    []inspectTensor `json:"tensors,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON      bool
		showTensors bool
	)
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the header and tensor table of a model file",
		ArgsUsage: "<model.bin>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "tensors", Usage: "list every tensor", Destination: &showTensors},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return errors.New("inspect: exactly one model file is required")
			}
			report, err := inspectFile(cmd.Args().First(), showTensors)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(os.Stdout, string(data))
				return err
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func inspectFile(path string, withTensors bool) (*inspectReport, error) {
	var hp gptj.Hyperparameters
	f, err := ggmlfile.Open(path, inference.Header(&hp))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := &inspectReport{
		Path:      path,
		Format:    f.Magic.String(),
		Version:   f.Version,
		FileType:  hp.FileType.String(),
		NVocab:    hp.NVocab,
		NCtx:      hp.NCtx,
		NEmbd:     hp.NEmbd,
		NHead:     hp.NHead,
		NLayer:    hp.NLayer,
		NRot:      hp.NRot,
		VocabSize: f.Vocab.Len(),
		MaxToken:  f.Vocab.MaxTokenLength(),
	}
	for _, t := range f.Tensors {
		r.TensorData += t.Size
		if withTensors {
			r.Tensors = append(r.Tensors, inspectTensor{
				Name:  t.Name,
				Type:  t.Type.String(),
				Shape: t.Shape,
				Bytes: t.Size,
			})
		}
	}
	return r, nil
}

func printReport(w io.Writer, r *inspectReport) {
	_, _ = fmt.Fprintf(w, "file:        %s\n", r.Path)
	_, _ = fmt.Fprintf(w, "format:      %s v%d\n", r.Format, r.Version)
	_, _ = fmt.Fprintf(w, "file type:   %s\n", r.FileType)
	_, _ = fmt.Fprintf(w, "n_vocab:     %d\n", r.NVocab)
	_, _ = fmt.Fprintf(w, "n_ctx:       %d\n", r.NCtx)
	_, _ = fmt.Fprintf(w, "n_embd:      %d\n", r.NEmbd)
	_, _ = fmt.Fprintf(w, "n_head:      %d\n", r.NHead)
	_, _ = fmt.Fprintf(w, "n_layer:     %d\n", r.NLayer)
	_, _ = fmt.Fprintf(w, "n_rot:       %d\n", r.NRot)
	_, _ = fmt.Fprintf(w, "vocab:       %d tokens (longest %d bytes)\n", r.VocabSize, r.MaxToken)
	_, _ = fmt.Fprintf(w, "tensor data: %.2f MiB\n", float64(r.TensorData)/(1<<20))
	if len(r.Tensors) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	for _, t := range r.Tensors {
		_, _ = fmt.Fprintf(w, "  %-40s %-5s %v\n", t.Name, t.Type, t.Shape)
	}
}
