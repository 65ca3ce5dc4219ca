package adapter

import "context"

// ObjectStorage is the port for durable public object storage.
type ObjectStorage interface {
	// PutObject uploads data under key and returns its public URL.
	PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
