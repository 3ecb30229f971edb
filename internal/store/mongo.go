package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoRow keeps the JSON text of the value so numbers and key order
// round-trip exactly as they were written.
type mongoRow struct {
	Key  string `bson:"_id"`
	Data string `bson:"data"`
}

var _ Store = (*MongoStore)(nil)

// MongoStore maps each top-level collection onto a Mongo collection.
type MongoStore struct {
	*rowStore
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and uses the given database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	ms := &MongoStore{client: client, db: client.Database(database)}
	ms.rowStore = newRowStore(ms)

	return ms, nil
}

func (m *MongoStore) getRow(ctx context.Context, collection, key string) ([]byte, bool, error) {
	var row mongoRow
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return []byte(row.Data), true, nil
}

func (m *MongoStore) listRows(ctx context.Context, collection string) (map[string][]byte, error) {
	cursor, err := m.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rows := make(map[string][]byte)
	for cursor.Next(ctx) {
		var row mongoRow
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		rows[row.Key] = []byte(row.Data)
	}

	return rows, cursor.Err()
}

func (m *MongoStore) putRow(ctx context.Context, collection, key string, data []byte) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": key}, mongoRow{Key: key, Data: string(data)}, opts)

	return err
}

func (m *MongoStore) deleteRow(ctx context.Context, collection, key string) error {
	_, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *MongoStore) dropCollection(ctx context.Context, collection string) error {
	return m.db.Collection(collection).Drop(ctx)
}

func (m *MongoStore) ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoStore) close() error {
	return m.client.Disconnect(context.Background())
}
