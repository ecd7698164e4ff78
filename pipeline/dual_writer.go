package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-syzbot/scraper"
	"github.com/aluiziolira/go-scrape-syzbot/storage"
	"go.uber.org/zap"
)

// DualWriter saves assets locally and mirrors them to an object store.
// The local copy decides success; mirror failures are logged and counted.
type DualWriter struct {
	local   AssetSaver
	store   storage.BlobStore
	root    string
	metrics *scraper.Metrics
	logger  *zap.Logger
}

// NewDualWriter mirrors everything local writes under root into store.
func NewDualWriter(local AssetSaver, store storage.BlobStore, root string, metrics *scraper.Metrics, logger *zap.Logger) (*DualWriter, error) {
	if local == nil {
		return nil, fmt.Errorf("local writer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DualWriter{
		local:   local,
		store:   store,
		root:    root,
		metrics: metrics,
		logger:  logger.Named("mirror"),
	}, nil
}

// Save writes locally, then uploads the same bytes.
func (dw *DualWriter) Save(ctx context.Context, dir, name string, content []byte, binary bool) error {
	if err := dw.local.Save(ctx, dir, name, content, binary); err != nil {
		return err
	}

	key, err := dw.objectKey(dir, name)
	if err != nil {
		dw.mirrorFailed(name, err)
		return nil
	}
	data, err := encodeContent(content, binary)
	if err != nil {
		dw.mirrorFailed(key, err)
		return nil
	}
	uri, err := dw.store.PutObject(ctx, key, storage.ContentType(binary), bytes.NewReader(data))
	if err != nil {
		dw.mirrorFailed(key, err)
		return nil
	}
	dw.metrics.IncMirror("succeeded")
	dw.logger.Debug("asset mirrored", zap.String("key", key), zap.String("uri", uri))
	return nil
}

func (dw *DualWriter) objectKey(dir, name string) (string, error) {
	fileName, err := assetFileName(name)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dw.root, dir)
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", dir, err)
	}
	return filepath.ToSlash(filepath.Join(rel, fileName)), nil
}

func (dw *DualWriter) mirrorFailed(key string, err error) {
	dw.metrics.IncMirror("failed")
	dw.logger.Error("asset mirror failed", zap.String("key", key), zap.Error(err))
}
