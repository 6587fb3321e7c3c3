package vector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Store is the in-process vector index over intent exemplars. Reads vastly
// outnumber writes (writes happen at registry load), so an RWMutex over a
// plain slice keeps things simple; insertion order doubles as the tie-break.
type Store struct {
	mu           sync.RWMutex
	docs         []*models.EmbeddingDocument
	byID         map[string]int
	dimension    int
	method       Method
	hybridWeight float64
}

// Option configures a Store at construction
type Option func(*Store)

// WithMethod selects the similarity method (default cosine)
func WithMethod(m Method) Option {
	return func(s *Store) { s.method = m }
}

// WithHybridWeight sets the vector share w_e of the hybrid score; the
// keyword share is 1-w_e.
func WithHybridWeight(w float64) Option {
	return func(s *Store) { s.hybridWeight = w }
}

// New creates an empty store whose documents must all have the given
// dimension.
func New(dimension int, opts ...Option) *Store {
	s := &Store{
		byID:         make(map[string]int),
		dimension:    dimension,
		method:       MethodCosine,
		hybridWeight: 0.7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add indexes one document. Dimension mismatches are programming errors
// and fail immediately.
func (s *Store) Add(doc *models.EmbeddingDocument) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document without id", domain.ErrInvalidInput)
	}
	if len(doc.Vector) != s.dimension {
		return fmt.Errorf("%w: got %d, store dimension is %d",
			domain.ErrDimensionMismatch, len(doc.Vector), s.dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[doc.ID]; ok {
		s.docs[idx] = doc
		return nil
	}
	s.byID[doc.ID] = len(s.docs)
	s.docs = append(s.docs, doc)
	return nil
}

// AddBatch indexes documents in order, stopping at the first failure
func (s *Store) AddBatch(docs []*models.EmbeddingDocument) error {
	for _, doc := range docs {
		if err := s.Add(doc); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops the document with the given id, reporting whether it existed.
// Insertion order of the survivors is preserved.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.docs = append(s.docs[:idx], s.docs[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.docs); i++ {
		s.byID[s.docs[i].ID] = i
	}
	return true
}

// Clear removes every document
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.byID = make(map[string]int)
}

// Size returns the number of indexed documents
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Dimension returns the fixed vector dimension of the store
func (s *Store) Dimension() int {
	return s.dimension
}

// scored pairs a document with its score and insertion position
type scored struct {
	doc   *models.EmbeddingDocument
	score float64
	pos   int
}

// Search scores every document against the query vector, then shapes the
// results: min-similarity cut, descending sort with deterministic ties,
// greedy diversity filter, per-intent cluster cap, and TopK truncation.
// An empty store yields an empty result, not an error.
func (s *Store) Search(query []float32, opts ports.SearchOptions) ([]ports.SearchResult, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			domain.ErrDimensionMismatch, len(query), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.docs) == 0 {
		return []ports.SearchResult{}, nil
	}

	candidates := make([]scored, 0, len(s.docs))
	for i, doc := range s.docs {
		score := s.score(query, opts.Keywords, doc)
		if opts.KeywordBoost > 0 && len(opts.Keywords) > 0 {
			score += opts.KeywordBoost * KeywordOverlap(opts.Keywords, doc.Text)
		}
		if score < opts.Threshold {
			continue
		}
		candidates = append(candidates, scored{doc: doc, score: score, pos: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].pos != candidates[j].pos {
			return candidates[i].pos < candidates[j].pos
		}
		return candidates[i].doc.ID < candidates[j].doc.ID
	})

	selected := make([]scored, 0, len(candidates))
	clusterCount := make(map[string]int)
	for _, cand := range candidates {
		if opts.MaxClusterSize > 0 && clusterCount[cand.doc.IntentID] >= opts.MaxClusterSize {
			continue
		}
		if opts.DiversityThreshold > 0 && s.tooSimilar(cand.doc, selected, opts.DiversityThreshold) {
			continue
		}
		selected = append(selected, cand)
		clusterCount[cand.doc.IntentID]++
		if opts.TopK > 0 && len(selected) >= opts.TopK {
			break
		}
	}

	results := make([]ports.SearchResult, len(selected))
	for i, sel := range selected {
		results[i] = ports.SearchResult{Document: sel.doc, Score: sel.score}
	}
	return results, nil
}

// score applies the configured similarity method
func (s *Store) score(query []float32, queryTokens []string, doc *models.EmbeddingDocument) float64 {
	switch s.method {
	case MethodEuclidean:
		return Euclidean(query, doc.Vector)
	case MethodManhattan:
		return Manhattan(query, doc.Vector)
	case MethodHybrid:
		return s.hybridWeight*Cosine(query, doc.Vector) +
			(1-s.hybridWeight)*KeywordOverlap(queryTokens, doc.Text)
	default:
		return Cosine(query, doc.Vector)
	}
}

// tooSimilar reports whether the candidate sits too close to an already
// selected document. Pairwise comparison always uses cosine: the diversity
// question is about vector direction regardless of the scoring method.
func (s *Store) tooSimilar(doc *models.EmbeddingDocument, selected []scored, threshold float64) bool {
	for _, sel := range selected {
		if Cosine(doc.Vector, sel.doc.Vector) > threshold {
			return true
		}
	}
	return false
}
