// Package encoder wraps a pretrained ONNX sentence encoder: it downloads the
// model from HuggingFace, loads its weights into a gomlx context so they can
// be fine-tuned, and exposes the per-token hidden states plus the pooling
// and layer-freezing policies the scoring heads build on.
package encoder

import (
	"os"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/gomlx/onnx-gomlx/onnx/parser"
	"github.com/pkg/errors"
)

const (
	// DefaultRepo is the default encoder: a 6-layer MiniLM with 384-dim
	// embeddings, distributed in ONNX form.
	DefaultRepo = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultEmbedDim and DefaultNumLayers describe DefaultRepo.
	DefaultEmbedDim  = 384
	DefaultNumLayers = 6

	modelFile        = "onnx/model.onnx"
	hiddenStatesName = "last_hidden_state"
)

// Encoder is a pretrained sequence encoder mapping (token ids, attention
// mask) to hidden states shaped [batch, seqLen, EmbedDim].
//
// Each scoring architecture must own its Encoder and context: freeze policy
// and gradients diverge per architecture even when the starting weights are
// identical.
type Encoder struct {
	RepoID    string
	EmbedDim  int
	NumLayers int

	model           onnx.Model
	tokenizer       *SentenceTokenizer
	hasTokenTypeIDs bool
}

// Load downloads (or reuses the local cache of) the encoder repo and its
// tokenizer.
func Load(repoID string) (*Encoder, error) {
	repo := hub.New(repoID).WithAuth(os.Getenv("HF_TOKEN")).WithProgressBar(true)
	if err := repo.DownloadInfo(false); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch info for HuggingFace repo %q", repoID)
	}
	onnxPath, err := repo.DownloadFile(modelFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %s from %q", modelFile, repoID)
	}
	model, err := parser.ParseFile(onnxPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse ONNX model %q", onnxPath)
	}
	tokenizer, err := newSentenceTokenizer(repo)
	if err != nil {
		model.Close()
		return nil, err
	}
	e := &Encoder{
		RepoID:    repoID,
		EmbedDim:  DefaultEmbedDim,
		NumLayers: DefaultNumLayers,
		model:     model,
		tokenizer: tokenizer,
	}
	inputNames, _ := model.Inputs()
	for _, name := range inputNames {
		if name == "token_type_ids" {
			e.hasTokenTypeIDs = true
		}
	}
	return e, nil
}

// Tokenizer returns the tokenizer matching this encoder's vocabulary.
func (e *Encoder) Tokenizer() *SentenceTokenizer { return e.tokenizer }

// Close releases the parsed ONNX model. The variables already loaded into
// contexts stay valid.
func (e *Encoder) Close() {
	if e.model != nil {
		e.model.Close()
		e.model = nil
	}
}

// AttachWeights loads the pretrained weights into ctx as (trainable)
// variables. Call once per architecture context, before ApplyFreezePolicy.
func (e *Encoder) AttachWeights(ctx *context.Context) error {
	if err := e.model.VariablesToContext(ctx); err != nil {
		return errors.Wrapf(err, "failed to load %q weights into context", e.RepoID)
	}
	return nil
}

// HiddenStates builds the graph computation of the encoder over one side of
// the pair: ids and mask are (int64)[batch, seqLen], the result is
// (float32)[batch, seqLen, EmbedDim].
func (e *Encoder) HiddenStates(ctx *context.Context, ids, mask *Node) *Node {
	g := ids.Graph()
	inputs := map[string]*Node{
		"input_ids":      ids,
		"attention_mask": mask,
	}
	if e.hasTokenTypeIDs {
		inputs["token_type_ids"] = ZerosLike(ids)
	}
	return e.model.CallGraph(ctx, g, inputs, hiddenStatesName)[0]
}

// SentenceTokenizer produces [CLS] tokens... [SEP] sequences, truncating to
// the requested bound. It never pads: padding is the batch collator's job.
type SentenceTokenizer struct {
	tok                 tokenizers.Tokenizer
	clsID, sepID, padID int
}

func newSentenceTokenizer(repo *hub.Repo) (*SentenceTokenizer, error) {
	tok, err := tokenizers.New(repo)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tokenizer")
	}
	clsID, err := tok.SpecialTokenID(api.TokClassification)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no [CLS] token")
	}
	sepID, err := tok.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no [SEP] token")
	}
	padID, err := tok.SpecialTokenID(api.TokPad)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no [PAD] token")
	}
	return &SentenceTokenizer{tok: tok, clsID: clsID, sepID: sepID, padID: padID}, nil
}

// Encode returns [CLS] <tokens> [SEP], with the inner tokens truncated so the
// whole sequence fits in maxLen.
func (t *SentenceTokenizer) Encode(text string, maxLen int) []int {
	tokens := t.tok.Encode(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}
	ids := make([]int, 0, len(tokens)+2)
	ids = append(ids, t.clsID)
	ids = append(ids, tokens...)
	ids = append(ids, t.sepID)
	return ids
}

// PadID returns the id the collator should pad with.
func (t *SentenceTokenizer) PadID() int { return t.padID }
