//go:build onnx

package main

import (
	"github.com/shopfloor-ai/recall/embed/onnx"
	"github.com/shopfloor-ai/recall/vector"
)

func newEmbedder(opts *options) (vector.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         opts.onnxModel,
		TokenizerPath:     opts.onnxTokenizer,
		SharedLibraryPath: opts.onnxLib,
		Dimensions:        opts.dims,
	})
}
