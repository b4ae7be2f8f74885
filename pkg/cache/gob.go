package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"
)

// GobSet encodes the item with gob and stores it.
// The item's type must be registered with gob.Register if it's stored behind an interface.
func GobSet(ctx context.Context, c Cache, key string, item interface{}, ttl time.Duration) error {
	writer := bytes.Buffer{}
	encoder := gob.NewEncoder(&writer)
	if err := encoder.Encode(item); err != nil {
		return fmt.Errorf("Couldn't encode item: %v", err)
	}
	c.Set(ctx, key, writer.Bytes(), ttl)
	return nil
}

// GobGet reads the entry and decodes it into target, which must be a pointer.
func GobGet(ctx context.Context, c Cache, key string, target interface{}) (Meta, bool, error) {
	data, meta, found := c.Get(ctx, key)
	if !found {
		return Meta{}, false, nil
	}
	reader := bytes.NewReader(data)
	decoder := gob.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return meta, true, fmt.Errorf("Couldn't decode item: %v", err)
	}
	return meta, true, nil
}
