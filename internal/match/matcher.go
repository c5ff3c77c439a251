package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"interview-agent/internal/domain"
)

// DefaultCount is how many matches are returned when none is requested.
const DefaultCount = 2

// Embedder turns texts into vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

type EmbedderFunc func(ctx context.Context, texts []string) ([][]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

// Matcher ranks candidates by cosine similarity between an interview
// impression and each candidate's text. Candidate vectors are computed on the
// first successful Match and reused afterwards.
type Matcher struct {
	embedder   Embedder
	candidates []Candidate

	mu      sync.Mutex
	vectors [][]float64
}

func NewMatcher(embedder Embedder, candidates []Candidate) (*Matcher, error) {
	if embedder == nil {
		return nil, errors.New("match: embedder must not be nil")
	}
	return &Matcher{embedder: embedder, candidates: candidates}, nil
}

func (m *Matcher) candidateVectors(ctx context.Context) ([][]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vectors != nil {
		return m.vectors, nil
	}
	texts := make([]string, len(m.candidates))
	for i, c := range m.candidates {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("match: embed candidates: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("match: got %d candidate vectors for %d candidates", len(vectors), len(texts))
	}
	m.vectors = vectors
	return vectors, nil
}

// Match returns up to count candidates, best first. A non-positive count uses DefaultCount.
func (m *Matcher) Match(ctx context.Context, rec domain.InterviewRecord, count int) ([]domain.Match, error) {
	if strings.TrimSpace(rec.Impression) == "" {
		return nil, errors.New("match: record has no impression")
	}
	if count <= 0 {
		count = DefaultCount
	}
	if len(m.candidates) == 0 {
		return []domain.Match{}, nil
	}

	vectors, err := m.candidateVectors(ctx)
	if err != nil {
		return nil, err
	}
	query, err := m.embedder.Embed(ctx, []string{rec.Impression})
	if err != nil {
		return nil, fmt.Errorf("match: embed impression: %w", err)
	}
	if len(query) != 1 {
		return nil, fmt.Errorf("match: got %d impression vectors", len(query))
	}

	ranked := make([]domain.Match, len(m.candidates))
	for i, c := range m.candidates {
		ranked[i] = domain.Match{
			ID:     c.ID,
			Name:   c.Name,
			Text:   c.Text,
			Score:  cosine(query[0], vectors[i]),
			Fields: c.Fields,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked[:min(count, len(ranked))], nil
}

// cosine is zero when either vector has no magnitude or the lengths disagree.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
