package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"campuscoin/internal/logger"
)

const contentTypeFile = "content-type"

// Local stores each object as a directory holding the blob and its content
// type.
type Local struct {
	baseFolder string
}

func NewLocal(baseFolder string) (*Local, error) {
	if baseFolder == "" {
		return nil, errors.New("storage: base folder must not be empty")
	}
	if err := os.MkdirAll(baseFolder, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", baseFolder, err)
	}
	logger.Default().Debugln("storage: local filesystem at", baseFolder)
	return &Local{baseFolder: baseFolder}, nil
}

func (l *Local) dir(key string) string {
	return filepath.Join(l.baseFolder, filepath.FromSlash(key))
}

func (l *Local) Put(_ context.Context, obj Object) error {
	if err := checkKey(obj.Key); err != nil {
		return err
	}
	dir := l.dir(obj.Key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "file"), obj.Data, 0o600); err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, contentTypeFile), []byte(obj.ContentType), 0o600)
}

func (l *Local) Get(_ context.Context, key string) (Object, error) {
	if err := checkKey(key); err != nil {
		return Object{}, err
	}
	dir := l.dir(key)
	data, err := os.ReadFile(filepath.Join(dir, "file"))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("storage: read: %w", err)
	}
	contentType, err := os.ReadFile(filepath.Join(dir, contentTypeFile))
	if err != nil {
		contentType = []byte("application/octet-stream")
	}
	return Object{Key: key, ContentType: string(contentType), Data: data}, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.RemoveAll(l.dir(key)); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}
