package ops

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hpungsan/clipvault/internal/db"
	"github.com/hpungsan/clipvault/internal/embedding"
	"github.com/hpungsan/clipvault/internal/errors"
	"github.com/hpungsan/clipvault/internal/snippet"
)

// Similar limits
const (
	DefaultSimilarLimit    = 10
	MaxSimilarLimit        = 50
	DefaultSimilarCacheTTL = 15 * time.Second
)

// SimilarCache keeps recently loaded embedding sets so repeated lookups do not
// rescan the embeddings table. A nil *SimilarCache disables caching.
type SimilarCache struct {
	c *cache.Cache
}

// NewSimilarCache creates a cache whose entries expire after ttl.
func NewSimilarCache(ttl time.Duration) *SimilarCache {
	if ttl <= 0 {
		ttl = DefaultSimilarCacheTTL
	}
	return &SimilarCache{c: cache.New(ttl, 2*ttl)}
}

// Invalidate drops every cached set.
func (sc *SimilarCache) Invalidate() {
	if sc != nil {
		sc.c.Flush()
	}
}

func (sc *SimilarCache) vectors(ctx context.Context, database *sql.DB, dim int) ([]db.Embedding, error) {
	key := strconv.Itoa(dim)
	if sc != nil {
		if x, found := sc.c.Get(key); found {
			return x.([]db.Embedding), nil
		}
	}
	vecs, err := db.ListEmbeddings(ctx, database, dim)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		sc.c.Set(key, vecs, cache.DefaultExpiration)
	}
	return vecs, nil
}

// SimilarInput contains parameters for the Similar operation.
// Exactly one of ID or Text must be set.
type SimilarInput struct {
	ID    string // rank against this snippet's vector
	Text  string // or against free text
	Limit int    // default: 10, max: 50
	Dim   int    // default: embedding.DefaultDim
}

// SimilarItem is a ranked neighbor.
type SimilarItem struct {
	snippet.Summary
	Score float64 `json:"score"`
}

// SimilarOutput contains the result of the Similar operation.
type SimilarOutput struct {
	Items []SimilarItem `json:"items"`
	Sort  string        `json:"sort"` // "cosine_desc"
}

// Similar ranks stored snippets by cosine similarity of their bag-of-words
// vectors. Only positive scores are returned; the query snippet is excluded.
func Similar(ctx context.Context, database *sql.DB, sc *SimilarCache, input SimilarInput) (*SimilarOutput, error) {
	id := strings.TrimSpace(input.ID)
	text := strings.TrimSpace(input.Text)
	if (id == "") == (text == "") {
		return nil, errors.NewInvalidRequest("specify exactly one of id or text")
	}
	dim := input.Dim
	if dim <= 0 {
		dim = embedding.DefaultDim
	}
	limit, _ := page(input.Limit, 0, DefaultSimilarLimit, MaxSimilarLimit)

	var query []float32
	if id != "" {
		var err error
		if query, err = snippetVector(ctx, database, id, dim); err != nil {
			return nil, err
		}
	} else {
		query = embedding.Embed(text, dim)
	}

	vecs, err := sc.vectors(ctx, database, dim)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id    string
		score float64
	}
	var ranked []scored
	for _, e := range vecs {
		if e.SnippetID == id {
			continue
		}
		if s := embedding.CosineSimilarity(query, e.Vector); s > 0 {
			ranked = append(ranked, scored{e.SnippetID, s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	items := make([]SimilarItem, 0, min(limit, len(ranked)))
	for _, r := range ranked {
		if len(items) == limit {
			break
		}
		s, err := db.GetSnippet(ctx, database, r.id)
		if errors.Is(err, errors.ErrNotFound) {
			// deleted since the vectors were cached
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, SimilarItem{Summary: s.ToSummary(), Score: r.score})
	}

	return &SimilarOutput{Items: items, Sort: "cosine_desc"}, nil
}

// snippetVector returns the stored vector for id, computing it from the
// snippet's text when enrichment has not stored one yet.
func snippetVector(ctx context.Context, database *sql.DB, id string, dim int) ([]float32, error) {
	vec, err := db.GetEmbedding(ctx, database, id)
	if err == nil && len(vec) == dim {
		return vec, nil
	}
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	s, err := db.GetSnippet(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return embedding.Embed(s.ContentText+"\n"+s.Summary, dim), nil
}
