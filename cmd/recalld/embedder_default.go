//go:build !onnx

package main

import (
	"github.com/shopfloor-ai/recall/embed/mock"
	"github.com/shopfloor-ai/recall/vector"
)

// Default builds carry the deterministic mock embedder. Build with the
// onnx tag and pass --onnx-model/--onnx-tokenizer for real embeddings.
func newEmbedder(opts *options) (vector.Embedder, error) {
	return mock.NewWithDimensions(opts.dims), nil
}
