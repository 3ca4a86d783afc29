package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectOptions tunes the cart store client. Zero pool sizes keep the
// driver defaults.
type ConnectOptions struct {
	URI         string
	Database    string
	AppName     string
	MaxPoolSize uint64
	MinPoolSize uint64
}

// ConnectMongoDB dials the cart store and waits for a primary to answer.
func ConnectMongoDB(ctx context.Context, o ConnectOptions) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(o.URI).
		SetAppName(o.AppName).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)
	if o.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(o.MaxPoolSize)
	}
	if o.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(o.MinPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect cart store: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping cart store %s: %w", o.Database, err)
	}
	return client.Database(o.Database), nil
}
