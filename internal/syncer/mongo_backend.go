package syncer

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend stores payloads in a records collection with a multikey
// index over the token array, so intersection queries stay on the
// server.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoBackend(ctx context.Context, uri, dbName, collName string) (*MongoBackend, error) {
	if uri == "" {
		return nil, errors.New("syncer: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	coll := cli.Database(dbName).Collection(collName)
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "tokens", Value: 1}}},
	})
	return &MongoBackend{client: cli, coll: coll}, nil
}

func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoBackend) UpsertRecord(ctx context.Context, p Payload) error {
	if p.ID == "" {
		return errors.New("syncer: empty record id")
	}
	_, err := m.coll.UpdateByID(ctx, p.ID,
		bson.M{
			"$set": bson.M{
				"user_id":            p.UserID,
				"category":           p.Category,
				"created_at":         p.CreatedAt,
				"updated_at":         p.UpdatedAt,
				"favorite":           p.Favorite,
				"archived":           p.Archived,
				"deleted":            p.Deleted,
				"privacy":            p.Privacy,
				"media":              p.Media,
				"encryption_version": p.EncryptionVersion,
				"ciphertext":         p.Ciphertext,
				"nonce":              p.Nonce,
				"tokens":             p.Tokens,
			},
			"$setOnInsert": bson.M{"inserted_at": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoBackend) SoftDelete(ctx context.Context, userID, id string) error {
	filter := bson.M{"_id": id}
	if userID != "" {
		filter["user_id"] = userID
	}
	_, err := m.coll.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"deleted": true, "updated_at": time.Now()},
		"$unset": bson.M{"ciphertext": "", "nonce": "", "tokens": ""},
	})
	return err
}

func (m *MongoBackend) FetchSince(ctx context.Context, userID string, since time.Time) ([]Payload, error) {
	filter := bson.M{"user_id": userID}
	if !since.IsZero() {
		filter["updated_at"] = bson.M{"$gt": since}
	}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Payload
	for cur.Next(ctx) {
		var p Payload
		if err := cur.Decode(&p); err == nil {
			out = append(out, p)
		}
	}
	return out, cur.Err()
}

// SearchTokens ranks candidate ids by how many query tokens intersect
// each record's token set, entirely server-side: the pipeline sees only
// opaque tokens.
func (m *MongoBackend) SearchTokens(ctx context.Context, userID string, tokens []string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 50
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"user_id": userID,
			"deleted": bson.M{"$ne": true},
			"tokens":  bson.M{"$in": tokens},
		}}},
		{{Key: "$project", Value: bson.M{
			"matches": bson.M{"$size": bson.M{"$setIntersection": bson.A{"$tokens", tokens}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "matches", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
	cur, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Candidate
	for cur.Next(ctx) {
		var c Candidate
		if err := cur.Decode(&c); err == nil {
			out = append(out, c)
		}
	}
	return out, cur.Err()
}
