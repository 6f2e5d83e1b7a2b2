package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"ctxcore/internal/llm"
)

// qdrantIndex is the Qdrant-backed Index, used when a qdrant_dsn is
// configured. Points are keyed by a deterministic UUID derived from
// the page id, the same scheme as the teacher's qdrantVector.Upsert
// fallback; the original page id is preserved in the payload.
type qdrantIndex struct {
	client     *qdrant.Client
	collection string
	provider   llm.EmbeddingProvider
}

const payloadIDField = "_page_id"
const payloadLabelField = "_label"
const payloadExcerptField = "_summary_excerpt"
const payloadFingerprintField = "_embedder_fingerprint"
const payloadContentHashField = "_content_hash"

// NewQdrantIndex connects to dsn and ensures collection exists with the
// provider's dimension and cosine distance.
func NewQdrantIndex(dsn, collection string, provider llm.EmbeddingProvider) (Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: dsn})
	if err != nil {
		return nil, fmt.Errorf("retrieval: create qdrant client: %w", err)
	}
	qi := &qdrantIndex{client: client, collection: collection, provider: provider}
	ctx := context.Background()
	if err := qi.ensureCollection(ctx, qi.collection); err != nil {
		return nil, err
	}
	return qi, nil
}

func (q *qdrantIndex) ensureCollection(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("retrieval: check qdrant collection: %w", err)
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.provider.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *qdrantIndex) pointID(pageID string) string {
	if _, err := uuid.Parse(pageID); err == nil {
		return pageID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(pageID)).String()
}

func (q *qdrantIndex) IndexPage(ctx context.Context, pageID, text, label, contentHash string) error {
	vecs, err := q.provider.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("retrieval: embed page %s: %w", pageID, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("retrieval: embedder returned no vectors for page %s", pageID)
	}
	vec := normalize(vecs[0])
	payload := qdrant.NewValueMap(map[string]any{
		payloadIDField:          pageID,
		payloadLabelField:       label,
		payloadExcerptField:     truncateExcerpt(text, 200),
		payloadFingerprintField: (Fingerprint{Model: q.provider.Model(), Provider: q.provider.Provider(), Dimension: q.provider.Dimension()}).String(),
		payloadContentHashField: contentHash,
	})
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(q.pointID(pageID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

func (q *qdrantIndex) RemovePage(ctx context.Context, pageID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(q.pointID(pageID))),
	})
	return err
}

func (q *qdrantIndex) Search(ctx context.Context, queryText string, k int, minScore float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	vecs, err := q.provider.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	query := normalize(vecs[0])
	limit := uint64(k * 2) // over-fetch, then threshold locally
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(query),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: qdrant query: %w", err)
	}
	var results []SearchResult
	vectors := map[string][]float32{}
	for _, hit := range hits {
		score := float64(hit.Score)
		if score < minScore {
			continue
		}
		pageID := ""
		label := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				pageID = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadLabelField]; ok {
				label = v.GetStringValue()
			}
		}
		if pageID == "" {
			continue
		}
		results = append(results, SearchResult{PageID: pageID, Score: score, Label: label})
	}
	sortByScoreDesc(results)
	_ = vectors // qdrant returns no raw vectors without an extra fetch; results are not deduplicated here
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (q *qdrantIndex) MissingIDs(ctx context.Context, candidateIDs []string) ([]string, error) {
	var missing []string
	ids := make([]*qdrant.PointId, len(candidateIDs))
	for i, id := range candidateIDs {
		ids[i] = qdrant.NewIDUUID(q.pointID(id))
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{CollectionName: q.collection, Ids: ids})
	if err != nil {
		return nil, fmt.Errorf("retrieval: qdrant get: %w", err)
	}
	found := make(map[string]bool, len(points))
	for _, p := range points {
		if p.Payload != nil {
			if v, ok := p.Payload[payloadIDField]; ok {
				found[v.GetStringValue()] = true
			}
		}
	}
	for _, id := range candidateIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Save/Load are no-ops for qdrantIndex: the collection IS the
// persisted state. BatchSummarizer currently only shadow-swaps the
// file-backed index; a Qdrant-backed batch pass writes its points
// directly into the live collection, so there is no shadow collection
// or alias rename to perform here yet.
func (q *qdrantIndex) Save(ctx context.Context) error { return nil }
func (q *qdrantIndex) Load(ctx context.Context) error { return nil }

func (q *qdrantIndex) Size() int {
	ctx := context.Background()
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil || info == nil || info.PointsCount == nil {
		return 0
	}
	return int(*info.PointsCount)
}

var _ Index = (*qdrantIndex)(nil)
