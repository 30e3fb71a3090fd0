// Package mongo implements the transaction watch store for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/capgw/lib/store"
)

// Database and collection names.
const (
	database   = "capgw"
	collection = "txWatch"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) col() *mgo.Collection {
	return m.c.Database(database).Collection(collection)
}

// AddTxWatch upserts the entry keyed by its transaction hash.
func (m *Mongo) AddTxWatch(ctx context.Context, e store.TxWatchEntry) error {
	_, err := m.col().ReplaceOne(ctx, bson.M{"_id": e.TxHash}, e, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save tx watch entry in db: %w", err)
	}

	return nil
}

// GetTxWatch returns the entry for txHash.
func (m *Mongo) GetTxWatch(ctx context.Context, txHash string) (e store.TxWatchEntry, err error) {
	if err = m.col().FindOne(ctx, bson.M{"_id": txHash}).Decode(&e); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// RemoveTxWatch deletes the entry for txHash.
func (m *Mongo) RemoveTxWatch(ctx context.Context, txHash string) error {
	res, err := m.col().DeleteOne(ctx, bson.M{"_id": txHash})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrDataNotFound
	}

	return err
}
