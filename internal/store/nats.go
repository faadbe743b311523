package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// JetStream stores values in a NATS JetStream key-value bucket, sharing
// state between daemons connected to the same NATS cluster.
type JetStream struct {
	kv nats.KeyValue
}

// NewJetStream binds to bucket, creating it when missing.
func NewJetStream(nc *nats.Conn, bucket string) (*JetStream, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "nudged reminder state",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind bucket %s: %w", bucket, err)
	}
	return &JetStream{kv: kv}, nil
}

// Get implements KV.
func (j *JetStream) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := j.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

// Set implements KV.
func (j *JetStream) Set(_ context.Context, key string, value []byte) error {
	_, err := j.kv.Put(key, value)
	return err
}

var _ KV = (*JetStream)(nil)
