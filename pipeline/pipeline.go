package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/models"
	"github.com/aluiziolira/go-scrape-syzbot/parser"
	"github.com/aluiziolira/go-scrape-syzbot/scraper"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner drives one scrape of a release: the listing page first, then every
// bug page it links to, strictly in order.
type Runner struct {
	cfg        *config.Config
	downloader *Downloader
	origin     string
	metrics    *scraper.Metrics
	logger     *zap.Logger
}

// NewRunner builds a runner over downloader.
func NewRunner(cfg *config.Config, downloader *Downloader, metrics *scraper.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		downloader: downloader,
		origin:     cfg.Origin(),
		metrics:    metrics,
		logger:     logger.Named("runner"),
	}
}

// Run scrapes the configured release. The listing page is required: failing
// to fetch it, to save its own assets, or to find its bug table aborts the
// run. Bug page failures are collected in the result and do not.
func (r *Runner) Run(ctx context.Context) (result *models.RunResult, err error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	listingURL := r.cfg.ListingURL()

	result = &models.RunResult{
		RunID:        runID,
		Release:      r.cfg.Release.String(),
		ListingURL:   listingURL,
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	defer func() {
		if p := recover(); p != nil {
			logger.Error("run panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("run panicked: %v", p)
		}
		result.EndTime = time.Now()
	}()

	logger.Info("starting run",
		zap.String("release", r.cfg.Release.String()),
		zap.String("output_dir", r.cfg.OutputDir),
		zap.String("listing_url", listingURL),
	)

	doc, err := r.downloader.FetchDocument(ctx, listingURL)
	if err != nil {
		logger.Error("listing page unreachable", zap.String("url", listingURL), zap.Error(err))
		return result, fmt.Errorf("fetch listing page: %w", err)
	}

	listing, err := r.downloader.SaveDocumentAssets(ctx, listingURL, doc, parser.MainPageDir)
	result.Listing = listing
	r.countAssets(result, listing)
	if err != nil {
		r.metrics.IncPage("failed")
		logger.Error("listing page assets failed", zap.String("url", listingURL), zap.Error(err))
		return result, fmt.Errorf("listing page assets: %w", err)
	}
	r.metrics.IncPage("succeeded")

	summaries, links, err := parser.ExtractBugLinks(doc, r.origin)
	if err != nil {
		logger.Error("bug table not found", zap.String("url", listingURL), zap.Error(err))
		return result, fmt.Errorf("extract bug links: %w", err)
	}
	if len(links) == 0 {
		logger.Warn("listing page has no bugs", zap.String("url", listingURL))
	}

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled", zap.Int("remaining_pages", len(links)-i))
			return result, fmt.Errorf("run cancelled: %w", err)
		}
		result.Bugs = append(result.Bugs, models.BugRow{Summary: summaries[i], URL: link})
		logger.Debug("processing bug page", zap.String("url", link), zap.String("summary", summaries[i]))

		page, err := r.downloader.DownloadPage(ctx, link)
		result.Pages = append(result.Pages, page)
		r.countAssets(result, page)
		if err != nil {
			result.FailedPages = append(result.FailedPages, link)
			result.ErrorsByType[errorLabel(err)]++
			r.metrics.IncPage("failed")
			logger.Warn("bug page failed", zap.String("url", link), zap.Error(err))
			continue
		}
		r.metrics.IncPage("succeeded")
	}

	fields := []zap.Field{
		zap.Int("bug_pages", len(links)),
		zap.Int("failed_pages", len(result.FailedPages)),
		zap.Int("assets_saved", result.AssetsSaved),
		zap.Int("assets_failed", result.AssetsFailed),
		zap.Duration("duration", time.Since(result.StartTime)),
	}
	if len(result.FailedPages) > 0 {
		logger.Warn("run finished with failed bug pages",
			append(fields,
				zap.Strings("failed_urls", result.FailedPages),
				zap.Any("errors_by_type", result.ErrorsByType),
			)...,
		)
	} else {
		logger.Info("run finished", fields...)
	}
	return result, nil
}

func (r *Runner) countAssets(result *models.RunResult, page *models.PageResult) {
	if page == nil {
		return
	}
	result.AssetsSaved += page.Saved
	result.AssetsFailed += page.Failed
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingTitle):
		return "missing_title"
	case errors.Is(err, ErrAllAssetsFailed):
		return "all_assets_failed"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return scraper.ErrorType(err)
	}
}
