package inference

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samcharles93/gptj/internal/ggmlfile"
	"github.com/samcharles93/gptj/internal/gptj"
	"github.com/samcharles93/gptj/internal/logger"
)

// Loader opens GPT-J model files.
type Loader struct {
	// ContextSize overrides n_ctx from the file when positive.
	ContextSize int
	Logger      logger.Logger
}

// LoadResult is a model together with what was learned about its file.
type LoadResult struct {
	Model   *gptj.Model
	Magic   ggmlfile.Magic
	Version uint32
	Tensors int
}

// Header returns a ggmlfile.HeaderFunc that decodes GPT-J hyperparameters
// into hp.
func Header(hp *gptj.Hyperparameters) ggmlfile.HeaderFunc {
	return func(r io.Reader) (int, error) {
		h, err := gptj.ReadHyperparameters(r)
		if err != nil {
			return 0, err
		}
		*hp = h
		return h.NVocab, nil
	}
}

// Load reads the container at path and builds a model from it. The file is
// closed before Load returns; the model keeps only decoded weights.
func (l Loader) Load(ctx context.Context, path string) (*LoadResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.Component(l.Logger, "loader")

	start := time.Now()
	var hp gptj.Hyperparameters
	f, err := ggmlfile.Open(path, Header(&hp))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := gptj.New(hp, f.Vocab, f, gptj.Params{ContextSize: l.ContextSize, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	log.Info("model loaded",
		"path", path,
		"format", f.Magic.String(),
		"version", f.Version,
		"file_type", hp.FileType.String(),
		"n_vocab", hp.NVocab,
		"n_ctx", m.ContextSize(),
		"n_embd", hp.NEmbd,
		"n_head", hp.NHead,
		"n_layer", hp.NLayer,
		"n_rot", hp.NRot,
		"weights_mib", m.Weights().Bytes()>>20,
		"elapsed", time.Since(start),
	)
	return &LoadResult{
		Model:   m,
		Magic:   f.Magic,
		Version: f.Version,
		Tensors: len(f.Tensors),
	}, nil
}
