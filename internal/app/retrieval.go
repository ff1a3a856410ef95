package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/ai"
	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/platform/logger"
	"ragchat/internal/vectorstore"
)

var ErrStoreUnavailable = errors.New("vector store unavailable")

// DocumentNamer resolves document ids to display names.
type DocumentNamer interface {
	NamesByIDs(ctx context.Context, ids []uint) (map[uint]string, error)
}

type RetrievalRequest struct {
	Loc    string
	Query  string
	Cutoff float64
	Rerank bool
}

// Retrieval is the outcome of the policy chain. Hits and Sources are empty
// when no policy matched.
type Retrieval struct {
	Hits     []vectorstore.Scored
	Sources  model.SourceMap
	Context  string
	Policy   int
	Keywords string
}

// Retriever runs vector search through the ordered retrieval policies,
// optional reranking and source attribution.
type Retriever struct {
	embedder  ai.Embedder
	store     vectorstore.Store
	docs      DocumentNamer
	model     ai.ChatModel
	rerankers []ai.Reranker
	threshold float64
	pipeline  config.PipelineConfig
	log       *logger.Logger
}

func NewRetriever(
	embedder ai.Embedder,
	store vectorstore.Store,
	docs DocumentNamer,
	model ai.ChatModel,
	rerankers []ai.Reranker,
	threshold float64,
	pipeline config.PipelineConfig,
	log *logger.Logger,
) *Retriever {
	if len(rerankers) > 2 {
		rerankers = rerankers[:2]
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		docs:      docs,
		model:     model,
		rerankers: rerankers,
		threshold: threshold,
		pipeline:  pipeline,
		log:       log,
	}
}

func (r *Retriever) usesKeywords() bool {
	if !r.pipeline.KeywordExtraction || r.model == nil {
		return false
	}
	for _, p := range r.pipeline.Policies {
		if p.UseKeywords {
			return true
		}
	}
	return false
}

func (r *Retriever) Retrieve(ctx context.Context, req RetrievalRequest) (*Retrieval, error) {
	ctx, span := tracer.Start(ctx, "app.Retrieve")
	defer span.End()

	var (
		exists     bool
		queryVec   []float32
		keywords   string
		keywordVec []float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := r.store.Exists(gctx, req.Loc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		exists = ok
		return nil
	})
	g.Go(func() error {
		vec, err := r.embedder.Embed(gctx, req.Query)
		if err != nil {
			return fmt.Errorf("embed query failed: %w", err)
		}
		queryVec = vec
		return nil
	})
	if r.usesKeywords() {
		g.Go(func() error {
			kw := r.extractKeywords(gctx, req.Query)
			if kw == "" || kw == req.Query {
				return nil
			}
			vec, err := r.embedder.Embed(gctx, kw)
			if err != nil {
				r.log.Warn("embed keywords failed", "err", err)
				return nil
			}
			keywords, keywordVec = kw, vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, req.Loc)
	}

	out := &Retrieval{Policy: -1, Keywords: keywords}
	for i, p := range r.pipeline.Policies {
		vec := queryVec
		if p.UseKeywords {
			if keywordVec == nil {
				continue
			}
			vec = keywordVec
		}
		hits, err := r.store.Search(ctx, req.Loc, vec, p.EffectiveCutoff(req.Cutoff), p.TopK)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		if len(hits) > 0 {
			out.Hits, out.Policy = hits, i
			break
		}
	}
	if len(out.Hits) > 0 && req.Rerank {
		out.Hits = r.rerank(ctx, req.Query, out.Hits)
	}
	if len(out.Hits) == 0 {
		span.SetAttributes(attribute.Int("hits", 0))
		return out, nil
	}

	sources, err := r.attribute(ctx, out.Hits)
	if err != nil {
		return nil, err
	}
	out.Sources = sources
	out.Context = groundingText(out.Hits)
	span.SetAttributes(attribute.Int("hits", len(out.Hits)), attribute.Int("policy", out.Policy))
	return out, nil
}

// rerank applies each reranker in turn, keeping survivors at or above the
// threshold in reranker order. A failing reranker leaves the order as is.
func (r *Retriever) rerank(ctx context.Context, query string, hits []vectorstore.Scored) []vectorstore.Scored {
	for _, rr := range r.rerankers {
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Text
		}
		results, err := rr.Rerank(ctx, query, texts)
		if err != nil {
			r.log.Warn("rerank failed", "err", err)
			continue
		}
		next := make([]vectorstore.Scored, 0, len(results))
		for _, res := range results {
			if res.Index < 0 || res.Index >= len(hits) || res.Score < r.threshold {
				continue
			}
			h := hits[res.Index]
			h.Score = res.Score
			next = append(next, h)
		}
		hits = next
		if len(hits) == 0 {
			break
		}
	}
	return hits
}

// attribute labels each hit with its document name, falling back to the
// rank and score when the document is unknown.
func (r *Retriever) attribute(ctx context.Context, hits []vectorstore.Scored) (model.SourceMap, error) {
	ids := make([]uint, 0, len(hits))
	for _, h := range hits {
		if id, ok := model.DocumentIDFromChunkID(h.ID); ok {
			ids = append(ids, id)
		}
	}
	names := map[uint]string{}
	if len(ids) > 0 && r.docs != nil {
		resolved, err := r.docs.NamesByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve document names failed: %w", err)
		}
		names = resolved
	}
	var sources model.SourceMap
	for rank, h := range hits {
		sources.Add(SourceLabel(h, rank+1, names), h.Text)
	}
	return sources, nil
}

func SourceLabel(h vectorstore.Scored, rank int, names map[uint]string) string {
	if id, ok := model.DocumentIDFromChunkID(h.ID); ok {
		if name := names[id]; name != "" {
			return name
		}
	}
	return fmt.Sprintf("#%d [Similarity: %.2f]", rank, h.Score)
}

func groundingText(hits []vectorstore.Scored) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[%d] (score %.2f)\n%s", i+1, h.Score, strings.TrimSpace(h.Text))
	}
	return strings.Join(parts, "\n\n")
}

const keywordTimeout = 15 * time.Second

// extractKeywords returns the comma-separated keywords of query, or "" when
// the call fails.
func (r *Retriever) extractKeywords(ctx context.Context, query string) string {
	ctx, cancel := context.WithTimeout(ctx, keywordTimeout)
	defer cancel()
	prompt := r.pipeline.Prompts.KeywordExtractor + "\nUser: " + query + "\nKeywords:"
	reply, err := r.model.Complete(ctx, []ai.ChatMessage{{Role: ai.RoleUser, Content: prompt}},
		ai.GenerationOptions{Temperature: 0, MaxTokens: 30, TopP: 1})
	if err != nil {
		r.log.Warn("keyword extraction failed", "err", err)
		return ""
	}
	return ParseKeywords(reply)
}

// ParseKeywords keeps the text after the last "Keywords:" marker, first line only.
func ParseKeywords(reply string) string {
	if i := strings.LastIndex(reply, "Keywords:"); i >= 0 {
		reply = reply[i+len("Keywords:"):]
	}
	reply = strings.TrimSpace(reply)
	if nl := strings.IndexByte(reply, '\n'); nl >= 0 {
		reply = reply[:nl]
	}
	return strings.Trim(strings.TrimSpace(reply), ".")
}

// Available reports ErrStoreUnavailable when the location has no chunk
// store.
func (r *Retriever) Available(ctx context.Context, loc string) error {
	ok, err := r.store.Exists(ctx, loc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, loc)
	}
	return nil
}
