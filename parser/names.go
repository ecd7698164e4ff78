// Package parser turns syzbot dashboard pages into links and file names.
package parser

import (
	"path"
	"strings"

	"github.com/aluiziolira/go-scrape-syzbot/models"
)

// MainPageDir is the directory name used for the listing page's own assets.
const MainPageDir = "main_page"

var dirNameReplacer = strings.NewReplacer(" ", "_", "-", "_", "/", "_", ":", "_")

// SanitizeDirName maps a page title onto a single directory segment.
// Only space, hyphen, slash and colon are rewritten.
func SanitizeDirName(title string) string {
	return dirNameReplacer.Replace(title)
}

// AssetName returns the value of the tag= query parameter, or the whole URL
// when the link carries no tag.
func AssetName(rawURL string) string {
	_, after, found := strings.Cut(rawURL, "tag=")
	if !found {
		return rawURL
	}
	name, _, _ := strings.Cut(after, "&")
	return name
}

// FileName keeps the final path segment of an asset name.
func FileName(name string) string {
	name = strings.TrimRight(name, "/")
	if name == "" {
		return ""
	}
	return path.Base(name)
}

// IsBinaryAsset reports whether an asset must be written byte for byte.
func IsBinaryAsset(name string) bool {
	return strings.Contains(name, ".raw") || strings.Contains(name, ".tar.gz")
}

// NewAssetLink derives name, file name and classification for a link.
func NewAssetLink(rawURL string) models.AssetLink {
	name := AssetName(rawURL)
	return models.AssetLink{
		URL:      rawURL,
		Name:     name,
		FileName: FileName(name),
		Binary:   IsBinaryAsset(name),
	}
}
