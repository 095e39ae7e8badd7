package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps files in a MongoDB GridFS bucket, keyed by file name.
type GridFSStore struct {
	client *mongo.Client
	bucket *gridfs.Bucket
}

// NewGridFSStore connects to uri and opens the default "fs" bucket of dbName.
func NewGridFSStore(ctx context.Context, uri, dbName string) (*GridFSStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	bucket, err := gridfs.NewBucket(client.Database(dbName))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	return &GridFSStore{client: client, bucket: bucket}, nil
}

func (s *GridFSStore) Backend() string { return "gridfs" }

func (s *GridFSStore) Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if err := checkName(name); err != nil {
		return err
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"content_type": contentType})
	_, err := s.bucket.UploadFromStream(name, r, opts)
	return err
}

func (s *GridFSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	stream, err := s.bucket.OpenDownloadStreamByName(name)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *GridFSStore) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	cursor, err := s.bucket.Find(bson.M{"filename": name})
	if err != nil {
		return err
	}
	var files []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		return err
	}
	for _, f := range files {
		if err := s.bucket.Delete(f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return err
		}
	}
	return nil
}

// Close disconnects the underlying client.
func (s *GridFSStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
