package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoSampleSize = 100

// MongoQuery is the JSON the model writes for a document-store source.
type MongoQuery struct {
	Collection string `bson:"collection"`
	Filter     bson.M `bson:"filter"`
	Projection bson.M `bson:"projection"`
	Sort       bson.D `bson:"sort"`
	Limit      int64  `bson:"limit"`
	Count      bool   `bson:"count"`
}

type MongoSource struct {
	client  *mongo.Client
	db      *mongo.Database
	maxRows int
}

func OpenMongo(ctx context.Context, uri string, opts Options) (*MongoSource, error) {
	dbName, err := mongoDatabaseName(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongodb: %v", ErrSourceUnavailable, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongodb: %v", ErrSourceUnavailable, err)
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 || maxRows > mongoSampleSize {
		maxRows = mongoSampleSize
	}
	return &MongoSource{client: client, db: client.Database(dbName), maxRows: maxRows}, nil
}

func mongoDatabaseName(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse mongodb uri failed: %w", err)
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("mongodb uri has no database name")
	}
	return name, nil
}

func (s *MongoSource) Kind() string     { return KindMongo }
func (s *MongoSource) Language() string { return "MongoDB" }

func (s *MongoSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ParseMongoQuery decodes relaxed extended JSON.
func ParseMongoQuery(raw string) (MongoQuery, error) {
	var q MongoQuery
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &q); err != nil {
		return MongoQuery{}, fmt.Errorf("invalid MongoDB query JSON: %w", err)
	}
	if strings.TrimSpace(q.Collection) == "" {
		return MongoQuery{}, fmt.Errorf("MongoDB query has no \"collection\" field")
	}
	if q.Filter == nil {
		q.Filter = bson.M{}
	}
	return q, nil
}

func (s *MongoSource) Execute(ctx context.Context, query string) (Result, error) {
	q, err := ParseMongoQuery(query)
	if err != nil {
		return Result{}, err
	}
	coll := s.db.Collection(q.Collection)

	if q.Count {
		n, err := coll.CountDocuments(ctx, q.Filter)
		if err != nil {
			return Result{}, fmt.Errorf("mongodb count failed: %w", err)
		}
		return Result{Value: n, HasValue: true}, nil
	}

	limit := q.Limit
	if limit <= 0 || limit > int64(s.maxRows) {
		limit = int64(s.maxRows)
	}
	findOpts := options.Find().SetLimit(limit + 1)
	if q.Projection != nil {
		findOpts.SetProjection(q.Projection)
	}
	if len(q.Sort) > 0 {
		findOpts.SetSort(q.Sort)
	}
	cur, err := coll.Find(ctx, q.Filter, findOpts)
	if err != nil {
		return Result{}, fmt.Errorf("mongodb find failed: %w", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return Result{}, fmt.Errorf("mongodb read failed: %w", err)
	}

	res := Result{Documents: make([]map[string]interface{}, 0, len(docs))}
	for i, d := range docs {
		if int64(i) >= limit {
			res.Truncated = true
			break
		}
		res.Documents = append(res.Documents, map[string]interface{}(d))
	}
	return res, nil
}

func (s *MongoSource) Describe(ctx context.Context) (Schema, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return Schema{}, fmt.Errorf("list collections failed: %w", err)
	}
	sort.Strings(names)
	schema := Schema{Kind: KindMongo}
	for _, name := range names {
		coll := s.db.Collection(name)
		ts := TableSchema{Name: name}
		if n, err := coll.EstimatedDocumentCount(ctx); err == nil {
			ts.RowCount = n
		}
		cur, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(mongoSampleSize))
		if err != nil {
			return Schema{}, fmt.Errorf("sample %s failed: %w", name, err)
		}
		var docs []bson.M
		if err := cur.All(ctx, &docs); err != nil {
			return Schema{}, fmt.Errorf("read sample of %s failed: %w", name, err)
		}
		ts.Columns = mongoFields(docs)
		schema.Tables = append(schema.Tables, ts)
	}
	return schema, nil
}

func mongoFields(docs []bson.M) []ColumnSchema {
	types := map[string]map[string]bool{}
	samples := map[string][]string{}
	var order []string
	for _, d := range docs {
		for k, v := range d {
			if types[k] == nil {
				types[k] = map[string]bool{}
				order = append(order, k)
			}
			types[k][fmt.Sprintf("%T", v)] = true
			if len(samples[k]) < 3 && v != nil {
				b, err := json.Marshal(v)
				if err != nil {
					b = []byte(fmt.Sprint(v))
				}
				samples[k] = append(samples[k], string(b))
			}
		}
	}
	sort.Strings(order)
	out := make([]ColumnSchema, 0, len(order))
	for _, k := range order {
		var ts []string
		for t := range types[k] {
			ts = append(ts, t)
		}
		sort.Strings(ts)
		out = append(out, ColumnSchema{Name: k, Type: strings.Join(ts, "|"), SampleValues: samples[k]})
	}
	return out
}
