package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// QdrantConnectionConfig holds configuration for the Qdrant connection.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API key, enables TLS
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// DreamVectorRepository stores interpretation embeddings in Qdrant, one
// point per processed dream.
type DreamVectorRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewDreamVectorRepository dials Qdrant. Local instances use an insecure
// channel; an API key or UseTLS switches to TLS 1.3.
func NewDreamVectorRepository(cfg *QdrantConnectionConfig) (*DreamVectorRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &DreamVectorRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection.
func (r *DreamVectorRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection and its user_id keyword index if
// missing, and rejects an existing collection with another vector size.
func (r *DreamVectorRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	fieldType := pb.FieldType_FieldTypeKeyword
	_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collectionName,
		FieldName:      "user_id",
		FieldType:      &fieldType,
	})
	if err != nil {
		return fmt.Errorf("failed to create user_id index: %w", err)
	}
	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	params := info.GetConfig().GetParams()
	if params == nil {
		return 0, false
	}
	if single := params.GetVectorsConfig().GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	return 0, false
}

// DreamPayload is stored next to each vector.
type DreamPayload struct {
	ProcessedID    string
	RawDreamID     string
	UserID         string
	Keywords       []string
	Interpretation string
}

// Upsert writes the vector for a processed dream. pointID must be a UUID.
func (r *DreamVectorRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload *DreamPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
				},
				Payload: map[string]*pb.Value{
					"processed_id":   stringValue(payload.ProcessedID),
					"raw_dream_id":   stringValue(payload.RawDreamID),
					"user_id":        stringValue(payload.UserID),
					"interpretation": stringValue(payload.Interpretation),
					"keywords":       listValue(payload.Keywords),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func listValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

// VectorMatch is one search hit.
type VectorMatch struct {
	ID      string
	Score   float32
	Payload *DreamPayload
}

// SearchByUser returns the topK nearest dreams owned by userID, skipping excludeID.
func (r *DreamVectorRepository) SearchByUser(ctx context.Context, vector []float32, userID, excludeID string, topK int) ([]VectorMatch, error) {
	filter := &pb.Filter{
		Must: []*pb.Condition{keywordCondition("user_id", userID)},
	}
	if excludeID != "" {
		filter.MustNot = []*pb.Condition{keywordCondition("processed_id", excludeID)}
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         filter,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]VectorMatch, len(resp.GetResult()))
	for i, scored := range resp.GetResult() {
		matches[i] = VectorMatch{
			ID:      scored.GetId().GetUuid(),
			Score:   scored.GetScore(),
			Payload: parseDreamPayload(scored.GetPayload()),
		}
	}
	return matches, nil
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func parseDreamPayload(payload map[string]*pb.Value) *DreamPayload {
	if payload == nil {
		return nil
	}
	p := &DreamPayload{
		ProcessedID:    payload["processed_id"].GetStringValue(),
		RawDreamID:     payload["raw_dream_id"].GetStringValue(),
		UserID:         payload["user_id"].GetStringValue(),
		Interpretation: payload["interpretation"].GetStringValue(),
	}
	if list := payload["keywords"].GetListValue(); list != nil {
		for _, item := range list.GetValues() {
			p.Keywords = append(p.Keywords, item.GetStringValue())
		}
	}
	return p
}

// Delete removes the point for a processed dream.
func (r *DreamVectorRepository) Delete(ctx context.Context, pointID string) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}
	_, err = r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}
