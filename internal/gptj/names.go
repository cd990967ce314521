package gptj

import "fmt"

// Tensor names as produced by the HuggingFace GPT-J checkpoint converter.
const (
	NameTokenEmbedding = "transformer.wte.weight"
	NameNormFWeight    = "transformer.ln_f.weight"
	NameNormFBias      = "transformer.ln_f.bias"
	NameLMHeadWeight   = "lm_head.weight"
	NameLMHeadBias     = "lm_head.bias"
)

// Per-layer tensor name suffixes, appended to "transformer.h.<i>.".
const (
	SuffixNormWeight  = "ln_1.weight"
	SuffixNormBias    = "ln_1.bias"
	SuffixQProj       = "attn.q_proj.weight"
	SuffixKProj       = "attn.k_proj.weight"
	SuffixVProj       = "attn.v_proj.weight"
	SuffixOutProj     = "attn.out_proj.weight"
	SuffixFCInWeight  = "mlp.fc_in.weight"
	SuffixFCInBias    = "mlp.fc_in.bias"
	SuffixFCOutWeight = "mlp.fc_out.weight"
	SuffixFCOutBias   = "mlp.fc_out.bias"
)

// LayerTensorName returns the full name of a per-layer tensor.
func LayerTensorName(layer int, suffix string) string {
	return fmt.Sprintf("transformer.h.%d.%s", layer, suffix)
}

// TensorSpec names one tensor of the model and its expected extents.
type TensorSpec struct {
	Name  string
	Shape []int
}

// TensorSpecs lists every tensor the model reads, in load order.
func TensorSpecs(hp Hyperparameters) []TensorSpec {
	nEmbd, nVocab, nFF := hp.NEmbd, hp.NVocab, hp.NFF()
	specs := []TensorSpec{
		{NameTokenEmbedding, []int{nEmbd, nVocab}},
		{NameNormFWeight, []int{nEmbd}},
		{NameNormFBias, []int{nEmbd}},
		{NameLMHeadWeight, []int{nEmbd, nVocab}},
		{NameLMHeadBias, []int{nVocab}},
	}
	for i := range hp.NLayer {
		specs = append(specs,
			TensorSpec{LayerTensorName(i, SuffixNormWeight), []int{nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixNormBias), []int{nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixQProj), []int{nEmbd, nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixKProj), []int{nEmbd, nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixVProj), []int{nEmbd, nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixOutProj), []int{nEmbd, nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixFCInWeight), []int{nEmbd, nFF}},
			TensorSpec{LayerTensorName(i, SuffixFCInBias), []int{nFF}},
			TensorSpec{LayerTensorName(i, SuffixFCOutWeight), []int{nFF, nEmbd}},
			TensorSpec{LayerTensorName(i, SuffixFCOutBias), []int{nEmbd}},
		)
	}
	return specs
}
