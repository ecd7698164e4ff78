// Package storage mirrors saved assets to an object store.
//
// A mirror is addressed by URI: s3://bucket/prefix or gs://bucket/prefix.
// S3 URIs accept region, endpoint and path_style query parameters so that
// S3-compatible services such as MinIO can be targeted.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// BlobStore uploads a single object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Options carries settings that do not belong in a URI.
type Options struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Location is a parsed mirror URI.
type Location struct {
	Scheme    string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// ParseURI splits a mirror URI into its parts.
func ParseURI(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse mirror uri: %w", err)
	}
	if u.Scheme != "s3" && u.Scheme != "gs" {
		return Location{}, fmt.Errorf("unsupported mirror scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Location{}, fmt.Errorf("mirror uri %q has no bucket", uri)
	}

	loc := Location{
		Scheme:   u.Scheme,
		Bucket:   u.Host,
		Prefix:   strings.Trim(u.Path, "/"),
		Region:   u.Query().Get("region"),
		Endpoint: u.Query().Get("endpoint"),
	}
	if raw := u.Query().Get("path_style"); raw != "" {
		loc.PathStyle, err = strconv.ParseBool(raw)
		if err != nil {
			return Location{}, fmt.Errorf("invalid path_style: %w", err)
		}
	}
	return loc, nil
}

// Key joins the location prefix with the given parts.
func (l Location) Key(parts ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{l.Prefix}, parts...)...), "/")
}

// Open connects to the store named by uri. An empty uri means no mirror and
// returns a nil store.
func Open(ctx context.Context, uri string, opts Options) (BlobStore, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, nil
	}
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "s3":
		client, err := newS3Client(ctx, loc, opts)
		if err != nil {
			return nil, err
		}
		store, err := NewS3Store(client, loc)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "gs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := NewGCSStore(client, loc)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported mirror scheme %q", loc.Scheme)
	}
}

// ContentType picks the upload content type for an asset.
func ContentType(binary bool) string {
	if binary {
		return "application/octet-stream"
	}
	return "text/plain; charset=utf-8"
}
