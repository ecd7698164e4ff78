package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/models"
	"github.com/aluiziolira/go-scrape-syzbot/parser"
	"github.com/aluiziolira/go-scrape-syzbot/scraper"
	"go.uber.org/zap"
)

var (
	// ErrMissingTitle is returned for a page without a usable <title>.
	ErrMissingTitle = errors.New("pipeline: page has no title")
	// ErrAllAssetsFailed is returned when a page lists assets and none of
	// them could be saved.
	ErrAllAssetsFailed = errors.New("pipeline: every asset failed")
)

// PageFetcher retrieves pages and assets.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.Response, error)
	Origin() string
}

// Options locate the output tree.
type Options struct {
	OutputRoot string
	Release    config.Release
}

// Downloader saves the assets linked from a single page.
type Downloader struct {
	fetcher PageFetcher
	writer  AssetSaver
	opts    Options
	metrics *scraper.Metrics
	logger  *zap.Logger
}

// NewDownloader wires a fetcher and a writer together.
func NewDownloader(fetcher PageFetcher, writer AssetSaver, opts Options, metrics *scraper.Metrics, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		writer:  writer,
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("downloader"),
	}
}

// DownloadAsset fetches one asset link and saves it into dir.
func (d *Downloader) DownloadAsset(ctx context.Context, dir, rawURL string) error {
	link := parser.NewAssetLink(rawURL)

	resp, err := d.fetcher.Fetch(ctx, link.URL)
	if err != nil {
		d.metrics.IncAssetFailure()
		d.logger.Warn("asset download failed", zap.String("asset", link.Name), zap.String("url", link.URL), zap.Error(err))
		return fmt.Errorf("download asset %s: %w", link.Name, err)
	}
	if resp.Empty() {
		d.logger.Warn("asset is empty", zap.String("asset", link.Name), zap.String("url", link.URL))
	}

	if err := d.writer.Save(ctx, dir, link.Name, resp.Body, link.Binary); err != nil {
		d.metrics.IncAssetFailure()
		d.logger.Error("asset save failed", zap.String("asset", link.Name), zap.String("dir", dir), zap.Error(err))
		return fmt.Errorf("save asset %s: %w", link.Name, err)
	}

	kind := "text"
	if link.Binary {
		kind = "binary"
	}
	d.metrics.IncAsset(kind)
	d.logger.Info("asset saved",
		zap.String("asset", link.Name),
		zap.String("file", link.FileName),
		zap.String("kind", kind),
		zap.Int("bytes", len(resp.Body)),
		zap.String("dir", dir),
	)
	return nil
}

// DownloadPage fetches a bug page and saves its assets into a directory
// named after the page title.
func (d *Downloader) DownloadPage(ctx context.Context, pageURL string) (*models.PageResult, error) {
	doc, err := d.FetchDocument(ctx, pageURL)
	if err != nil {
		return &models.PageResult{URL: pageURL}, err
	}
	title, ok := parser.PageTitle(doc)
	if !ok {
		return &models.PageResult{URL: pageURL}, fmt.Errorf("%w: %s", ErrMissingTitle, pageURL)
	}
	result, err := d.SaveDocumentAssets(ctx, pageURL, doc, parser.SanitizeDirName(title))
	result.Title = title
	return result, err
}

// FetchDocument fetches and parses an HTML page.
func (d *Downloader) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := d.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// SaveDocumentAssets downloads every asset link of doc into dirName. A page
// without links succeeds; a page whose links all fail returns
// ErrAllAssetsFailed.
func (d *Downloader) SaveDocumentAssets(ctx context.Context, pageURL string, doc *goquery.Document, dirName string) (*models.PageResult, error) {
	result := &models.PageResult{URL: pageURL}

	dir, err := ResolveOutputDir(d.opts.OutputRoot, d.opts.Release, dirName)
	if err != nil {
		return result, err
	}
	result.OutputDir = dir

	links := parser.ExtractAssetLinks(doc, d.fetcher.Origin())
	result.Discovered = len(links)
	if len(links) == 0 {
		d.logger.Warn("no assets found on page", zap.String("url", pageURL), zap.String("dir", dir))
		return result, nil
	}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := d.DownloadAsset(ctx, dir, link); err != nil {
			result.Failed++
			continue
		}
		result.Saved++
	}

	if result.Saved == 0 {
		return result, fmt.Errorf("%w: %d assets on %s", ErrAllAssetsFailed, result.Failed, pageURL)
	}
	if result.Failed > 0 {
		d.logger.Warn("some assets failed",
			zap.String("url", pageURL),
			zap.Int("saved", result.Saved),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}
