package gptj

import (
	"github.com/samcharles93/gptj/internal/ggml"
)

// TensorLoader supplies named weight tensors. A missing tensor or one whose
// extents differ from ne must be reported as an error.
type TensorLoader interface {
	Load(name string, ne ...int) (*ggml.Constant, error)
}

type layer struct {
	normW   *ggml.Constant
	normB   *ggml.Constant
	qProj   *ggml.Constant
	kProj   *ggml.Constant
	vProj   *ggml.Constant
	outProj *ggml.Constant
	fcInW   *ggml.Constant
	fcInB   *ggml.Constant
	fcOutW  *ggml.Constant
	fcOutB  *ggml.Constant
}

// Weights is the weight set of one model. It is filled once by LoadWeights
// and never modified, so any number of sessions may read it concurrently.
type Weights struct {
	wte     *ggml.Constant
	normFW  *ggml.Constant
	normFB  *ggml.Constant
	lmHeadW *ggml.Constant
	lmHeadB *ggml.Constant
	layers  []layer
	bytes   int
}

// LoadWeights requests every tensor listed by TensorSpecs. Loader errors are
// returned unchanged.
func LoadWeights(hp Hyperparameters, loader TensorLoader) (*Weights, error) {
	specs := TensorSpecs(hp)
	loaded := make(map[string]*ggml.Constant, len(specs))
	total := 0
	for _, s := range specs {
		c, err := loader.Load(s.Name, s.Shape...)
		if err != nil {
			return nil, err
		}
		loaded[s.Name] = c
		total += 4 * c.Len()
	}

	w := &Weights{
		wte:     loaded[NameTokenEmbedding],
		normFW:  loaded[NameNormFWeight],
		normFB:  loaded[NameNormFBias],
		lmHeadW: loaded[NameLMHeadWeight],
		lmHeadB: loaded[NameLMHeadBias],
		layers:  make([]layer, hp.NLayer),
		bytes:   total,
	}
	for i := range w.layers {
		get := func(suffix string) *ggml.Constant {
			return loaded[LayerTensorName(i, suffix)]
		}
		w.layers[i] = layer{
			normW:   get(SuffixNormWeight),
			normB:   get(SuffixNormBias),
			qProj:   get(SuffixQProj),
			kProj:   get(SuffixKProj),
			vProj:   get(SuffixVProj),
			outProj: get(SuffixOutProj),
			fcInW:   get(SuffixFCInWeight),
			fcInB:   get(SuffixFCInBias),
			fcOutW:  get(SuffixFCOutWeight),
			fcOutB:  get(SuffixFCOutBias),
		}
	}
	return w, nil
}

// Bytes reports the memory held by the decoded weights.
func (w *Weights) Bytes() int { return w.bytes }
