package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	// defaultQdrantMaxMessageSize bounds gRPC messages; large document
	// batches with embeddings can exceed the 4MB gRPC default.
	defaultQdrantMaxMessageSize = 50 * 1024 * 1024 // 50MB

	// qdrantDialTimeout bounds the construction-time health check.
	qdrantDialTimeout = 5 * time.Second
)

// Payload keys reserved for document fields. Metadata entries with these
// keys are dropped on write so they cannot shadow the document itself.
const (
	payloadKeyContent = "content"
	payloadKeyID      = "id"
)

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	// Endpoint is the gRPC address, either "host:port" or a URL such as
	// "https://host:6334". An https scheme enables TLS.
	Endpoint string

	// APIKey authenticates against Qdrant Cloud. Empty for local instances.
	APIKey string

	// Collection is the logical collection name.
	Collection string

	// Keyspace optionally prefixes the collection name, isolating multiple
	// deployments that share one Qdrant instance.
	Keyspace string

	// Dimension is the embedding vector size for the collection.
	Dimension uint64

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Zero selects the default.
	MaxMessageSize int
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaultQdrantMaxMessageSize
	}
}

// QualifiedCollection returns the physical collection name, prefixed with
// the keyspace when one is set.
func (c QdrantConfig) QualifiedCollection() string {
	if c.Keyspace == "" {
		return c.Collection
	}
	return c.Keyspace + "_" + c.Collection
}

// Validate checks the configuration.
func (c QdrantConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if _, _, _, err := parseQdrantEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.QualifiedCollection()); err != nil {
		return err
	}
	if c.Dimension == 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("%w: max message size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// parseQdrantEndpoint splits an endpoint into host, port, and TLS mode.
// Accepts bare "host:port" as well as http:// and https:// URLs.
func parseQdrantEndpoint(endpoint string) (host string, port int, useTLS bool, err error) {
	addr := endpoint
	switch {
	case strings.HasPrefix(addr, "https://"):
		useTLS = true
		addr = strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = strings.TrimPrefix(addr, "http://")
	}
	addr = strings.TrimSuffix(addr, "/")

	host, portStr, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return "", 0, false, fmt.Errorf("%w: invalid qdrant endpoint %q: %v", ErrInvalidConfig, endpoint, splitErr)
	}
	port, convErr := strconv.Atoi(portStr)
	if convErr != nil || port < 1 || port > 65535 {
		return "", 0, false, fmt.Errorf("%w: invalid qdrant port %q", ErrInvalidConfig, portStr)
	}
	return host, port, useTLS, nil
}

// QdrantStore is a Store backed by a Qdrant collection over gRPC.
//
// Point IDs are UUIDs derived deterministically from document IDs, so
// re-adding a document with the same ID overwrites the previous point.
// The document ID and content travel in the point payload alongside the
// metadata.
type QdrantStore struct {
	client     *qdrant.Client
	config     QdrantConfig
	collection string
	embedder   Embedder
	logger     *zap.Logger
}

// NewQdrantStore connects to Qdrant, verifies the connection, and ensures
// the configured collection exists with cosine distance.
func NewQdrantStore(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	host, port, useTLS, err := parseQdrantEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}

	clientConfig := &qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !useTLS {
		clientConfig.GrpcOptions = append(clientConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %w", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:     client,
		config:     config,
		collection: config.QualifiedCollection(),
		embedder:   embedder,
		logger:     logger,
	}

	healthCtx, cancel := context.WithTimeout(ctx, qdrantDialTimeout)
	defer cancel()

	logger.Info("connecting to qdrant",
		zap.String("host", host),
		zap.Int("port", port),
		zap.Bool("tls", useTLS),
		zap.String("collection", store.collection),
	)

	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		setBackendHealth(providerQdrant, false)
		return nil, fmt.Errorf("%w: qdrant health check: %w", ErrConnectionFailed, err)
	}
	setBackendHealth(providerQdrant, true)

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection %q: %w", ErrConnectionFailed, s.collection, err)
	}
	if exists {
		return nil
	}

	s.logger.Info("creating qdrant collection",
		zap.String("collection", s.collection),
		zap.Uint64("dimension", s.config.Dimension),
	)

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.Dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %q: %w", ErrStorageFailed, s.collection, err)
	}
	return nil
}

// AddDocuments embeds and upserts documents into the collection.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) (ids []string, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	defer recordOp(providerQdrant, opInsert, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	prepared, err := prepareDocuments(ctx, s.embedder, s.logger, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(prepared) == 0 {
		return []string{}, nil
	}

	points := make([]*qdrant.PointStruct, len(prepared))
	ids = make([]string, len(prepared))
	for i, doc := range prepared {
		points[i] = &qdrant.PointStruct{
			Id:      qdrantPointID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: buildQdrantPayload(doc),
		}
		ids[i] = doc.ID
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		err = wrapQdrantError("upsert points", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("documents_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted documents into qdrant",
		zap.String("collection", s.collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// SimilaritySearch runs a cosine similarity query against the collection.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, opts ...SearchOption) (results []Document, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.SimilaritySearch")
	defer span.End()
	defer recordOp(providerQdrant, opSearch, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrInvalidConfig)
	}

	options := buildSearchOptions(opts)

	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildQdrantFilter(options.filter),
	})
	if err != nil {
		err = wrapQdrantError("query points", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results = make([]Document, len(scored))
	for i, point := range scored {
		results[i] = documentFromScoredPoint(point)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteDocuments removes documents whose payload "id" matches one of the
// given IDs. Missing IDs are ignored.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteDocuments")
	defer span.End()
	defer recordOp(providerQdrant, opDelete, time.Now(), &err)

	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key: payloadKeyID,
								Match: &qdrant.Match{
									MatchValue: &qdrant.Match_Keywords{
										Keywords: &qdrant.RepeatedStrings{Strings: ids},
									},
								},
							},
						},
					}},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		err = wrapQdrantError("delete points", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (count int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()
	defer recordOp(providerQdrant, opCount, time.Now(), &err)

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		err = wrapQdrantError("collection info", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	count = int(info.GetPointsCount())
	setDocumentCount(providerQdrant, count)
	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Reset drops and recreates the collection.
func (s *QdrantStore) Reset(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Reset")
	defer span.End()
	defer recordOp(providerQdrant, opReset, time.Now(), &err)

	span.SetAttributes(attribute.String("collection", s.collection))

	if err = s.client.DeleteCollection(ctx, s.collection); err != nil {
		err = wrapQdrantError("delete collection", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err = s.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	setDocumentCount(providerQdrant, 0)
	span.SetStatus(codes.Ok, "success")

	s.logger.Info("qdrant collection reset", zap.String("collection", s.collection))
	return nil
}

// HealthCheck verifies the Qdrant connection.
func (s *QdrantStore) HealthCheck(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()
	defer recordOp(providerQdrant, opHealth, time.Now(), &err)

	_, err = s.client.HealthCheck(ctx)
	setBackendHealth(providerQdrant, err == nil)
	if err != nil {
		err = fmt.Errorf("%w: qdrant health check: %w", ErrConnectionFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantPointID derives the point ID for a document. Document IDs that
// already are UUIDs are used directly; anything else maps to a UUID
// deterministically so repeated adds of the same document ID overwrite
// rather than duplicate.
func qdrantPointID(docID string) *qdrant.PointId {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID)
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID))
	return qdrant.NewIDUUID(derived.String())
}

// buildQdrantPayload flattens a document into a point payload. Content and
// ID take the reserved keys; metadata entries shadowing them are dropped.
func buildQdrantPayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	payload[payloadKeyContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Content}}
	payload[payloadKeyID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.ID}}
	for key, value := range doc.Metadata {
		if key == payloadKeyContent || key == payloadKeyID {
			continue
		}
		payload[key] = qdrantValue(value)
	}
	return payload
}

// qdrantValue converts a metadata value to a Qdrant payload value.
// Unsupported types are stored as their string representation.
func qdrantValue(value any) *qdrant.Value {
	switch v := value.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(v)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}

// qdrantValueToAny converts a payload value back to a metadata value.
func qdrantValueToAny(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return value.String()
	}
}

// documentFromScoredPoint rebuilds a Document from a query hit, annotating
// it with the raw cosine similarity reported by Qdrant.
func documentFromScoredPoint(point *qdrant.ScoredPoint) Document {
	doc := Document{Metadata: make(map[string]any)}
	for key, value := range point.GetPayload() {
		switch key {
		case payloadKeyContent:
			doc.Content = value.GetStringValue()
		case payloadKeyID:
			doc.ID = value.GetStringValue()
		default:
			doc.Metadata[key] = qdrantValueToAny(value)
		}
	}
	if doc.ID == "" {
		doc.ID = point.GetId().GetUuid()
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = nil
	}
	score := point.GetScore()
	doc.Similarity = &score
	return doc
}

// buildQdrantFilter translates a metadata equality filter into Qdrant
// match conditions, all of which must hold.
func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		must = append(must, qdrantFieldCondition(key, value))
	}
	return &qdrant.Filter{Must: must}
}

func qdrantFieldCondition(key string, value any) *qdrant.Condition {
	var match *qdrant.Match
	switch v := value.(type) {
	case string:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case int:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case bool:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	default:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: key, Match: match},
		},
	}
}

// wrapQdrantError classifies a backend error under the package sentinels
// while keeping the gRPC status in the chain for retry classification.
func wrapQdrantError(op string, err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.NotFound:
			return fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, op, err)
		case grpccodes.Unavailable, grpccodes.DeadlineExceeded:
			return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailed, op, err)
}

// Ensure QdrantStore implements Store interface.
var _ Store = (*QdrantStore)(nil)
