package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Qdrant only accepts UUIDs and unsigned integers as point IDs, so chunk
// IDs are mapped to deterministic UUIDs and the original ID is kept in the
// payload.
const qdrantOriginalIDField = "_original_id"

// qdrantActiveRefID is the sentinel point holding a namespace's active-ref
// pointer. Zero vector, excluded from retrieval by the live filter.
var qdrantActiveRefID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("active_ref")).String()

// QdrantStore is a Store backed by a Qdrant cluster, one collection per
// namespace. The Go client speaks Qdrant's gRPC API (port 6334).
type QdrantStore struct {
	client     *qdrant.Client
	prefix     string // collection name prefix, isolates deployments
	dimensions int
}

// NewQdrant connects to a Qdrant DSN such as
// "http://localhost:6334?api_key=secret".
func NewQdrant(dsn, prefix string, dimensions int) (*QdrantStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in qdrant DSN: %w", err)
		}
	}

	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantStore{client: client, prefix: prefix, dimensions: dimensions}, nil
}

func (q *QdrantStore) collection(namespace string) string {
	if q.prefix == "" {
		return namespace
	}
	return q.prefix + "_" + namespace
}

func (q *QdrantStore) ensureCollection(ctx context.Context, namespace string) error {
	name := q.collection(namespace)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func qdrantPointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert writes records in fragments of UpsertBatchSize.
func (q *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return err
	}

	for start := 0; start < len(records); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, rec := range records[start:end] {
			payload := make(map[string]any, len(rec.Metadata)+1)
			for k, v := range rec.Metadata {
				payload[k] = payloadValue(v)
			}
			payload[qdrantOriginalIDField] = rec.ID

			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(qdrantPointID(rec.ID)),
				Vectors: qdrant.NewVectorsDense(rec.Values),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection(namespace),
			Points:         points,
		}); err != nil {
			return fmt.Errorf("upsert batch into %s: %w", namespace, err)
		}
	}
	return nil
}

// payloadValue flattens metadata values into types qdrant payloads accept.
func payloadValue(v any) any {
	switch val := v.(type) {
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

// DeleteByFilter removes matching points. A missing collection is a no-op.
// Substring conditions cannot run server-side; they resolve client-side
// over a scroll of the equality-filtered set.
func (q *QdrantStore) DeleteByFilter(ctx context.Context, namespace string, filter Filter) error {
	name := q.collection(namespace)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil
	}

	if len(filter.Contains) > 0 {
		matches, err := q.Query(ctx, namespace, nil, 0, &filter)
		if err != nil {
			return err
		}
		ids := make([]*qdrant.PointId, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, qdrant.NewIDUUID(qdrantPointID(m.ID)))
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points:         qdrant.NewPointsSelector(ids...),
		})
		return err
	}

	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(q.buildFilter(&filter)),
	})
	return err
}

// Query returns the topK nearest points. Equality conditions run
// server-side; substring conditions filter the result client-side with an
// widened candidate set.
func (q *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	name := q.collection(namespace)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil, nil
	}

	clientSide := filter != nil && len(filter.Contains) > 0
	limit := uint64(topK)
	if topK <= 0 {
		limit = 1000
	} else if clientSide {
		limit = uint64(topK * 5)
	}

	params := &qdrant.QueryPoints{
		CollectionName: name,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(vector) > 0 {
		params.Query = qdrant.NewQueryDense(vector)
	}
	if filter != nil && len(filter.Equals) > 0 {
		params.Filter = q.buildFilter(filter)
	}

	hits, err := q.client.Query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", namespace, err)
	}

	var matches []Match
	for _, hit := range hits {
		metadata := make(map[string]any)
		originalID := ""
		for k, v := range hit.Payload {
			if k == qdrantOriginalIDField {
				originalID = v.GetStringValue()
				continue
			}
			metadata[k] = decodeQdrantValue(v)
		}
		if originalID == "" {
			originalID = hit.Id.GetUuid()
		}
		if clientSide {
			sub := Filter{Contains: filter.Contains}
			if !sub.Matches(metadata) {
				continue
			}
		}
		matches = append(matches, Match{ID: originalID, Score: hit.Score, Metadata: metadata})
	}
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// buildFilter converts equality conditions to qdrant match clauses.
func (q *QdrantStore) buildFilter(filter *Filter) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filter.Equals))
	for key, value := range filter.Equals {
		switch v := value.(type) {
		case bool:
			must = append(must, qdrant.NewMatchBool(key, v))
		case int:
			must = append(must, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			must = append(must, qdrant.NewMatchInt(key, v))
		default:
			must = append(must, qdrant.NewMatch(key, fmt.Sprint(v)))
		}
	}
	return &qdrant.Filter{Must: must}
}

func decodeQdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return int(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.GetStringValue())
		}
		return out
	default:
		return v.String()
	}
}

// Describe lists namespaces as collections under the configured prefix.
func (q *QdrantStore) Describe(ctx context.Context) ([]string, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var namespaces []string
	for _, name := range names {
		if q.prefix == "" {
			namespaces = append(namespaces, name)
			continue
		}
		if strings.HasPrefix(name, q.prefix+"_") {
			namespaces = append(namespaces, strings.TrimPrefix(name, q.prefix+"_"))
		}
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// Activate flips live on all points of the namespace by ref match, then
// moves the active-ref sentinel. The two SetPayload calls make the flip
// effectively atomic for retrieval because queries filter on live=true and
// the new ref flips true first.
func (q *QdrantStore) Activate(ctx context.Context, namespace, ref string) error {
	name := q.collection(namespace)

	liveTrue := qdrant.NewValueMap(map[string]any{FieldLive: true})
	if _, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: name,
		Payload:        liveTrue,
		PointsSelector: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(FieldRef, ref)},
		}),
	}); err != nil {
		return fmt.Errorf("flip live=true for %s@%s: %w", namespace, ref, err)
	}

	liveFalse := qdrant.NewValueMap(map[string]any{FieldLive: false})
	if _, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: name,
		Payload:        liveFalse,
		PointsSelector: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			MustNot: []*qdrant.Condition{qdrant.NewMatch(FieldRef, ref)},
		}),
	}); err != nil {
		return fmt.Errorf("flip live=false for %s: %w", namespace, err)
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(qdrantActiveRefID),
			Vectors: qdrant.NewVectorsDense(make([]float32, q.dimensions)),
			Payload: qdrant.NewValueMap(map[string]any{
				"kind":    "active_ref",
				FieldRef:  ref,
				FieldLive: false,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("move active ref for %s: %w", namespace, err)
	}
	return nil
}

// ActiveRef reads the active-ref sentinel point.
func (q *QdrantStore) ActiveRef(ctx context.Context, namespace string) (string, error) {
	name := q.collection(namespace)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil || !exists {
		return "", err
	}

	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(qdrantActiveRefID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("read active ref for %s: %w", namespace, err)
	}
	if len(points) == 0 {
		return "", nil
	}
	return points[0].Payload[FieldRef].GetStringValue(), nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
