// Package pipeline downloads dashboard pages and their assets to disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/parser"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEmptyAssetName is returned when an asset name has no usable file name.
var ErrEmptyAssetName = errors.New("pipeline: empty asset name")

// AssetSaver persists one downloaded asset.
type AssetSaver interface {
	Save(ctx context.Context, dir, name string, content []byte, binary bool) error
}

// ResolveOutputDir creates <root>/<release>/<name> and returns it. Calling it
// again for an existing directory succeeds.
func ResolveOutputDir(root string, release config.Release, name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid output directory name %q", name)
	}
	dir := filepath.Join(root, release.DirName(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return dir, nil
}

// AssetWriter writes assets to the local filesystem.
type AssetWriter struct{}

// NewAssetWriter returns a filesystem asset writer.
func NewAssetWriter() *AssetWriter {
	return &AssetWriter{}
}

// Save writes content to dir under the final path segment of name. Binary
// content is written as is; text is decoded as UTF-8 with invalid sequences
// replaced.
func (w *AssetWriter) Save(_ context.Context, dir, name string, content []byte, binary bool) error {
	fileName, err := assetFileName(name)
	if err != nil {
		return err
	}
	data, err := encodeContent(content, binary)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, fileName), data, 0o644); err != nil {
		return fmt.Errorf("write asset %s: %w", fileName, err)
	}
	return nil
}

func assetFileName(name string) (string, error) {
	fileName := parser.FileName(name)
	if fileName == "" || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("%w: %q", ErrEmptyAssetName, name)
	}
	return fileName, nil
}

func encodeContent(content []byte, binary bool) ([]byte, error) {
	if binary {
		return content, nil
	}
	text, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), content)
	if err != nil {
		return nil, fmt.Errorf("decode text asset: %w", err)
	}
	return text, nil
}
