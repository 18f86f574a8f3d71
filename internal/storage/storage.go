// Package storage keeps uploaded blobs: registration documents and product
// images. Keys are slash separated and never contain "..".
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("storage: object not found")

// Object is a stored blob with its content type.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

type Driver interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// Options selects and configures a driver.
type Options struct {
	Driver          string
	Path            string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func New(ctx context.Context, opts Options) (Driver, error) {
	switch opts.Driver {
	case "", "local":
		return NewLocal(opts.Path)
	case "s3":
		return NewS3(ctx, opts)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}

func checkKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
