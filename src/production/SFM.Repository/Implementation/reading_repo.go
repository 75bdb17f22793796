package implementation

import (
	"context"
	"fmt"
	"time"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultReadingLimit = 100
	MaxReadingLimit     = 1000
)

type MongoReadingRepository struct {
	coll *mongo.Collection
}

func NewMongoReadingRepository(coll *mongo.Collection) *MongoReadingRepository {
	return &MongoReadingRepository{coll: coll}
}

// EnsureIndexes creates the (deviceId, timestamp desc) index list queries rely on
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return err
}

func (r *MongoReadingRepository) Insert(ctx context.Context, rd *sfmmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.coll.InsertOne(ctx, rd)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		rd.ID = oid
	}
	return nil
}

// readingFilter builds the Mongo filter for a query
func readingFilter(q sfmmodels.ReadingQuery) bson.M {
	filter := bson.M{}
	if q.DeviceIDs != nil {
		filter["deviceId"] = bson.M{"$in": q.DeviceIDs}
	}
	ts := bson.M{}
	if q.From != nil {
		ts["$gte"] = *q.From
	}
	if q.To != nil {
		ts["$lte"] = *q.To
	}
	if len(ts) > 0 {
		filter["timestamp"] = ts
	}
	return filter
}

// ClampLimit applies the 1..1000 bound with a default of 100
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultReadingLimit
	}
	if limit > MaxReadingLimit {
		return MaxReadingLimit
	}
	return limit
}

func (r *MongoReadingRepository) List(ctx context.Context, q sfmmodels.ReadingQuery) ([]sfmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(ClampLimit(q.Limit)))

	cur, err := r.coll.Find(ctx, readingFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find readings: %w", err)
	}
	defer cur.Close(ctx)

	readings := make([]sfmmodels.Reading, 0)
	if err := cur.All(ctx, &readings); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return readings, nil
}

func (r *MongoReadingRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.coll.DeleteMany(ctx, bson.M{"deviceId": deviceID})
	return err
}
