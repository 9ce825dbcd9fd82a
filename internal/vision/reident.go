package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// reidEmbeddingDim is the appearance-embedding size spec §4.5's
// re-identification supplement names; arbitrary but fixed so stored
// vectors compare against each other without a schema change.
const reidEmbeddingDim = 128

// ReIDEmbedder runs a small appearance-embedding model over a cropped
// face, producing the vector the Kalman tracker's re-identification
// fallback matches by cosine similarity when a track is lost and a
// later detection may be the same subject reappearing. Session
// plumbing mirrors FaceMesh.
type ReIDEmbedder struct {
	sess *session
}

func NewReIDEmbedder(modelPath string, inputSize int, opts *ort.SessionOptions) (*ReIDEmbedder, error) {
	outs := []outputSpec{
		{name: "embedding", shape: ort.NewShape(1, reidEmbeddingDim)},
	}
	s, err := newSession(modelPath, "input", inputSize, inputSize, outs, opts)
	if err != nil {
		return nil, fmt.Errorf("load reid embedder: %w", err)
	}
	return &ReIDEmbedder{sess: s}, nil
}

// Embed runs the model on a cropped-and-resized face image (CHW,
// normalised) and returns an L2-normalised embedding, so later cosine
// similarity comparisons reduce to a dot product.
func (m *ReIDEmbedder) Embed(faceCropCHW []float32) ([]float32, error) {
	if err := m.sess.run(faceCropCHW); err != nil {
		return nil, fmt.Errorf("run reid embedder: %w", err)
	}
	raw := m.sess.output(0)

	out := make([]float32, reidEmbeddingDim)
	copy(out, raw[:reidEmbeddingDim])

	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}

func (m *ReIDEmbedder) Close() { m.sess.Close() }

// CosineSimilarity compares two L2-normalised embeddings; since both
// inputs are unit vectors this is a plain dot product.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
