package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
)

// sampleSize is the number of documents read per collection to infer fields.
const sampleSize = 20

// MongoExecutor runs validated document queries against one database.
type MongoExecutor struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to uri and selects database. Connection failures wrap
// ErrUnavailable.
func NewMongo(ctx context.Context, uri, database string, maxPool uint64) (*MongoExecutor, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("mongo: no uri or database configured: %w", ErrUnavailable)
	}
	opts := options.Client().ApplyURI(uri)
	if maxPool > 0 {
		opts.SetMaxPoolSize(maxPool)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: %v: %w", err, ErrUnavailable)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: %v: %w", err, ErrUnavailable)
	}
	return &MongoExecutor{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (e *MongoExecutor) Close(ctx context.Context) error {
	return e.client.Disconnect(ctx)
}

// Ping checks the primary is reachable.
func (e *MongoExecutor) Ping(ctx context.Context) error {
	return e.client.Ping(ctx, nil)
}

// Execute runs q with a server-side time limit and returns at most maxRows
// documents. q must come from validator.PrepareDocument.
func (e *MongoExecutor) Execute(ctx context.Context, q *validator.DocumentQuery, maxRows int, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
	}
	limit := int64(maxRows)
	q.CapRows(limit)
	coll := e.db.Collection(q.Collection)
	filter := q.Filter
	if filter == nil {
		filter = bson.D{}
	}

	switch q.Operation {
	case validator.OpCount:
		opts := options.Count()
		if timeout > 0 {
			opts.SetMaxTime(timeout)
		}
		n, err := coll.CountDocuments(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		return &Result{Columns: []string{"count"}, Records: []map[string]any{{"count": n}}}, nil

	case validator.OpDistinct:
		opts := options.Distinct()
		if timeout > 0 {
			opts.SetMaxTime(timeout)
		}
		values, err := coll.Distinct(ctx, q.Field, filter, opts)
		if err != nil {
			return nil, err
		}
		res := &Result{Columns: []string{q.Field}, Records: []map[string]any{}}
		for _, v := range values {
			if maxRows > 0 && len(res.Records) >= maxRows {
				res.Truncated = true
				break
			}
			res.Records = append(res.Records, map[string]any{q.Field: plainBSON(v)})
		}
		return res, nil

	case validator.OpAggregate:
		pipeline := make(mongo.Pipeline, 0, len(q.Pipeline)+1)
		if len(q.Filter) > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$match", Value: q.Filter}})
		}
		pipeline = append(pipeline, q.Pipeline...)
		opts := options.Aggregate()
		if timeout > 0 {
			opts.SetMaxTime(timeout)
		}
		cur, err := coll.Aggregate(ctx, pipeline, opts)
		if err != nil {
			return nil, err
		}
		return drain(ctx, cur, maxRows)

	default:
		opts := options.Find()
		if limit > 0 {
			opts.SetLimit(limit + 1)
		}
		if timeout > 0 {
			opts.SetMaxTime(timeout)
		}
		if len(q.Projection) > 0 {
			opts.SetProjection(q.Projection)
		}
		if len(q.Sort) > 0 {
			opts.SetSort(q.Sort)
		}
		if q.Skip > 0 {
			opts.SetSkip(q.Skip)
		}
		if q.Limit > 0 && q.Limit < limit {
			opts.SetLimit(q.Limit)
		}
		cur, err := coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		return drain(ctx, cur, maxRows)
	}
}

func drain(ctx context.Context, cur *mongo.Cursor, maxRows int) (*Result, error) {
	defer cur.Close(context.Background())

	res := &Result{Records: []map[string]any{}}
	seen := map[string]bool{}
	for cur.Next(ctx) {
		if maxRows > 0 && len(res.Records) >= maxRows {
			res.Truncated = true
			break
		}
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		rec := make(map[string]any, len(doc))
		for _, e := range doc {
			rec[e.Key] = plainBSON(e.Value)
			if !seen[e.Key] {
				seen[e.Key] = true
				res.Columns = append(res.Columns, e.Key)
			}
		}
		res.Records = append(res.Records, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// plainBSON converts BSON values into JSON-friendly Go values.
func plainBSON(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return t.String()
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plainBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainBSON(item)
		}
		return out
	}
	return plainValue(v)
}

// FetchCollections lists user collections and infers field types from a
// small sample of each.
func (e *MongoExecutor) FetchCollections(ctx context.Context) (map[string][]schema.Field, error) {
	names, err := e.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	out := map[string][]schema.Field{}
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		cur, err := e.db.Collection(name).Find(ctx, bson.D{}, options.Find().SetLimit(sampleSize))
		if err != nil {
			return nil, fmt.Errorf("sampling %s: %w", name, err)
		}
		var docs []bson.D
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("sampling %s: %w", name, err)
		}
		out[name] = InferFields(docs)
	}
	return out, nil
}

// InferFields merges the top-level keys of docs into a sorted field list.
// A key seen with different types is reported as "mixed".
func InferFields(docs []bson.D) []schema.Field {
	types := map[string]string{}
	for _, d := range docs {
		for _, e := range d {
			t := bsonType(e.Value)
			if prev, ok := types[e.Key]; ok && prev != t && t != "null" {
				if prev == "null" {
					types[e.Key] = t
				} else {
					types[e.Key] = "mixed"
				}
				continue
			}
			if _, ok := types[e.Key]; !ok {
				types[e.Key] = t
			}
		}
	}
	fields := make([]schema.Field, 0, len(types))
	for k, t := range types {
		fields = append(fields, schema.Field{Name: k, Type: t})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

func bsonType(v any) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64, primitive.Decimal128:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time:
		return "date"
	case bson.A, []any:
		return "array"
	case bson.D, bson.M:
		return "object"
	}
	return "unknown"
}
