package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/parser"
	"github.com/aluiziolira/go-scrape-syzbot/scraper"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testBaseURL = "http://syzbot.test"

type harness struct {
	cfg        *config.Config
	fetcher    *scraper.Fetcher
	transport  *httpmock.MockTransport
	downloader *Downloader
	runner     *Runner
	logs       *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.Interval = 0
	cfg.OutputDir = t.TempDir()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	fetcher, err := scraper.NewFetcher(cfg, logger)
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	fetcher.WithTransport(transport)

	downloader := NewDownloader(fetcher, NewAssetWriter(), Options{OutputRoot: cfg.OutputDir, Release: cfg.Release}, fetcher.Metrics, logger)
	return &harness{
		cfg:        cfg,
		fetcher:    fetcher,
		transport:  transport,
		downloader: downloader,
		runner:     NewRunner(cfg, downloader, fetcher.Metrics, logger),
		logs:       logs,
	}
}

func (h *harness) serve(path string, status int, body string) {
	h.transport.RegisterResponder(http.MethodGet, testBaseURL+path, httpmock.NewStringResponder(status, body))
}

func (h *harness) fail(path string) {
	h.transport.RegisterResponder(http.MethodGet, testBaseURL+path, httpmock.NewErrorResponder(fmt.Errorf("connection reset")))
}

func (h *harness) releaseDir(parts ...string) string {
	return filepath.Join(append([]string{h.cfg.OutputDir, h.cfg.Release.DirName()}, parts...)...)
}

func listingPage(bugPaths ...string) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>syzbot</title></head><body>`)
	b.WriteString(`<table class="navigation"><tbody><tr><td><a href="/upstream">upstream</a></td></tr></tbody></table>`)
	b.WriteString(`<table class="list_table"><tbody><tr><th>Title</th><th>Repro</th></tr>`)
	for i, p := range bugPaths {
		fmt.Fprintf(&b, `<tr><td class="title"><a href="%s">bug %d</a></td><td class="stat">C</td></tr>`, p, i)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func bugPage(title string, assets, repros []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><head><title>%s</title></head><body><table><tbody><tr>`, title)
	b.WriteString(`<td class="assets">`)
	for _, a := range assets {
		fmt.Fprintf(&b, `<a href="%s">asset</a>`, a)
	}
	b.WriteString(`</td><td class="repro">`)
	for _, r := range repros {
		fmt.Fprintf(&b, `<a href="%s">repro</a>`, r)
	}
	b.WriteString(`</td></tr></tbody></table></body></html>`)
	return b.String()
}

func TestDownloadAsset(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.serve("/download?tag=test.txt", http.StatusOK, "test content")

	require.NoError(t, h.downloader.DownloadAsset(context.Background(), dir, testBaseURL+"/download?tag=test.txt"))
	got, err := os.ReadFile(filepath.Join(dir, "test.txt"))
	require.NoError(t, err)
	assert.Equal(t, "test content", string(got))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.fetcher.Metrics.AssetsSavedTotal.WithLabelValues("text")))

	h.fail("/download?tag=test.txt")
	assert.Error(t, h.downloader.DownloadAsset(context.Background(), dir, testBaseURL+"/download?tag=test.txt"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.fetcher.Metrics.AssetFailures))
}

func TestDownloadAssetKeepsEncodedBodies(t *testing.T) {
	var archive bytes.Buffer
	zw := gzip.NewWriter(&archive)
	_, err := zw.Write([]byte("tar payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := []struct {
		name        string
		path        string
		file        string
		contentType string
		body        []byte
		want        []byte
	}{
		{
			name:        "gzip archive",
			path:        "/download?tag=vmlinux.tar.gz",
			file:        "vmlinux.tar.gz",
			contentType: "application/gzip",
			body:        archive.Bytes(),
			want:        archive.Bytes(),
		},
		{
			name:        "x-gzip archive",
			path:        "/download?tag=bisect.tar.gz",
			file:        "bisect.tar.gz",
			contentType: "application/x-gzip",
			body:        archive.Bytes(),
			want:        archive.Bytes(),
		},
		{
			name:        "binary with latin1 charset",
			path:        "/download?tag=disk.raw",
			file:        "disk.raw",
			contentType: "application/octet-stream; charset=iso-8859-1",
			body:        []byte{0x00, 0xe9, 0xff},
			want:        []byte{0x00, 0xe9, 0xff},
		},
		{
			name:        "text with latin1 charset",
			path:        "/text?tag=CrashLog&x=2",
			file:        "CrashLog",
			contentType: "text/plain; charset=iso-8859-1",
			body:        []byte("caf\xe9"),
			want:        []byte("caf\uFFFD"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			dir := t.TempDir()
			h.transport.RegisterResponder(http.MethodGet, testBaseURL+tt.path, func(*http.Request) (*http.Response, error) {
				resp := httpmock.NewBytesResponse(http.StatusOK, tt.body)
				resp.Header.Set("Content-Type", tt.contentType)
				return resp, nil
			})

			require.NoError(t, h.downloader.DownloadAsset(context.Background(), dir, testBaseURL+tt.path))
			got, err := os.ReadFile(filepath.Join(dir, tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadAssetWithoutTag(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.transport.RegisterResponder(http.MethodGet, "https://storage.test/syzbot-assets/abc/disk.raw.xz",
		httpmock.NewBytesResponder(http.StatusOK, []byte{0xfd, '7', 'z', 'X', 'Z'}))

	require.NoError(t, h.downloader.DownloadAsset(context.Background(), dir, "https://storage.test/syzbot-assets/abc/disk.raw.xz"))
	got, err := os.ReadFile(filepath.Join(dir, "disk.raw.xz"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfd, '7', 'z', 'X', 'Z'}, got)
}

func TestDownloadAssetEmptyBody(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.serve("/text?tag=CrashReport&x=1", http.StatusOK, "")

	require.NoError(t, h.downloader.DownloadAsset(context.Background(), dir, testBaseURL+"/text?tag=CrashReport&x=1"))
	info, err := os.Stat(filepath.Join(dir, "CrashReport"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.Equal(t, 1, h.logs.FilterMessage("asset is empty").Len())
}

func TestDownloadPage(t *testing.T) {
	h := newHarness(t)
	h.serve("/bug?extid=1", http.StatusOK, bugPage("KASAN: use-after-free in foo",
		[]string{"/download?tag=crash.raw", "/download?tag=kernel.config"},
		[]string{"/text?tag=ReproC&x=9"},
	))
	h.serve("/download?tag=crash.raw", http.StatusOK, "\x00\x01raw")
	h.serve("/download?tag=kernel.config", http.StatusOK, "CONFIG_KASAN=y")
	h.serve("/text?tag=ReproC&x=9", http.StatusOK, "int main() {}")

	result, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=1")
	require.NoError(t, err)

	dir := h.releaseDir("KASAN__use_after_free_in_foo")
	assert.Equal(t, dir, result.OutputDir)
	assert.Equal(t, "KASAN: use-after-free in foo", result.Title)
	assert.Equal(t, 3, result.Discovered)
	assert.Equal(t, 3, result.Saved)
	assert.Zero(t, result.Failed)
	assert.FileExists(t, filepath.Join(dir, "crash.raw"))
	assert.FileExists(t, filepath.Join(dir, "kernel.config"))
	assert.FileExists(t, filepath.Join(dir, "ReproC"))
}

func TestDownloadPagePartialFailureSucceeds(t *testing.T) {
	h := newHarness(t)
	h.serve("/bug?extid=2", http.StatusOK, bugPage("WARNING in bar", []string{"/download?tag=a.raw", "/download?tag=b.raw"}, nil))
	h.serve("/download?tag=a.raw", http.StatusOK, "a")
	h.serve("/download?tag=b.raw", http.StatusNotFound, "")

	result, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=2")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, h.logs.FilterMessage("some assets failed").Len())
}

func TestDownloadPageAllAssetsFailed(t *testing.T) {
	h := newHarness(t)
	h.serve("/bug?extid=3", http.StatusOK, bugPage("WARNING in baz", []string{"/download?tag=a.raw"}, []string{"/text?tag=ReproC"}))
	h.fail("/download?tag=a.raw")
	h.serve("/text?tag=ReproC", http.StatusInternalServerError, "")

	result, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=3")
	require.ErrorIs(t, err, ErrAllAssetsFailed)
	assert.Equal(t, 2, result.Failed)
	assert.DirExists(t, h.releaseDir("WARNING_in_baz"))
}

func TestDownloadPageWithoutAssets(t *testing.T) {
	h := newHarness(t)
	h.serve("/bug?extid=4", http.StatusOK, bugPage("INFO: task hung", nil, nil))

	result, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=4")
	require.NoError(t, err)
	assert.Zero(t, result.Discovered)
	assert.DirExists(t, h.releaseDir("INFO__task_hung"))
	assert.Equal(t, 1, h.logs.FilterMessage("no assets found on page").FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestDownloadPageMissingTitle(t *testing.T) {
	h := newHarness(t)
	h.serve("/bug?extid=5", http.StatusOK, `<html><body><td class="assets"><a href="/x?tag=y">y</a></td></body></html>`)

	_, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=5")
	require.ErrorIs(t, err, ErrMissingTitle)
	assert.Equal(t, 1, h.transport.GetTotalCallCount())
}

func TestDownloadPageFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.fail("/bug?extid=6")

	result, err := h.downloader.DownloadPage(context.Background(), testBaseURL+"/bug?extid=6")
	require.Error(t, err)
	assert.Equal(t, testBaseURL+"/bug?extid=6", result.URL)
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.serve("/upstream", http.StatusOK, listingPage("/bug?extid=abc"))
	h.serve("/bug?extid=abc", http.StatusOK, bugPage("general protection fault in foo", []string{"/download?tag=crash.raw"}, nil))
	h.serve("/download?tag=crash.raw", http.StatusOK, "\x7fELF\x00crash")

	result, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(h.releaseDir("general_protection_fault_in_foo", "crash.raw"))
	require.NoError(t, err)
	assert.Equal(t, "\x7fELF\x00crash", string(got))

	assert.DirExists(t, h.releaseDir(parser.MainPageDir))
	assert.Equal(t, "upstream", result.Release)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Bugs, 1)
	assert.Equal(t, testBaseURL+"/bug?extid=abc", result.Bugs[0].URL)
	assert.Empty(t, result.FailedPages)
	assert.Equal(t, 1, result.AssetsSaved)
	assert.False(t, result.EndTime.Before(result.StartTime))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.fetcher.Metrics.PagesTotal.WithLabelValues("succeeded")))

	started := h.logs.FilterMessage("starting run").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, "upstream", fields["release"])
	assert.Equal(t, h.cfg.OutputDir, fields["output_dir"])
	assert.Equal(t, result.RunID, fields["run_id"])
}

func TestRunUsesReleaseListing(t *testing.T) {
	h := newHarness(t)
	h.cfg.Release = config.ReleaseLTS61
	h.downloader.opts.Release = config.ReleaseLTS61
	h.serve("/linux-6.1", http.StatusOK, listingPage())

	result, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/linux-6.1", result.ListingURL)
	assert.DirExists(t, filepath.Join(h.cfg.OutputDir, "lts_6.1", parser.MainPageDir))
	assert.Equal(t, 1, h.logs.FilterMessage("listing page has no bugs").Len())
}

func TestRunListingWithoutBugsSucceeds(t *testing.T) {
	h := newHarness(t)
	h.serve("/upstream", http.StatusOK, listingPage())

	result, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Bugs)
	assert.Empty(t, result.FailedPages)
	assert.Equal(t, 1, h.transport.GetTotalCallCount())

	warned := h.logs.FilterMessage("listing page has no bugs").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
	assert.Equal(t, 1, h.logs.FilterMessage("run finished").Len())
}

func TestRunContinuesAfterBugPageFailure(t *testing.T) {
	h := newHarness(t)
	h.serve("/upstream", http.StatusOK, listingPage("/bug?extid=bad", "/bug?extid=notitle", "/bug?extid=good"))
	h.fail("/bug?extid=bad")
	h.serve("/bug?extid=notitle", http.StatusOK, "<html><body></body></html>")
	h.serve("/bug?extid=good", http.StatusOK, bugPage("WARNING in good", nil, []string{"/text?tag=ReproSyz&x=1"}))
	h.serve("/text?tag=ReproSyz&x=1", http.StatusOK, "r0 = openat(...)")

	result, err := h.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{testBaseURL + "/bug?extid=bad", testBaseURL + "/bug?extid=notitle"}, result.FailedPages)
	assert.Equal(t, 1, result.ErrorsByType["missing_title"])
	assert.Equal(t, 1, result.ErrorsByType["other"])
	assert.FileExists(t, h.releaseDir("WARNING_in_good", "ReproSyz"))
	assert.Len(t, result.Pages, 3)

	summary := h.logs.FilterMessage("run finished with failed bug pages").All()
	require.Len(t, summary, 1)
	assert.Equal(t, zapcore.WarnLevel, summary[0].Level)
}

func TestRunListingUnreachable(t *testing.T) {
	h := newHarness(t)
	h.serve("/upstream", http.StatusServiceUnavailable, "")

	_, err := h.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch listing page")
	assert.Equal(t, 1, h.transport.GetTotalCallCount())
}

func TestRunListingAssetsFailed(t *testing.T) {
	h := newHarness(t)
	listing := strings.Replace(listingPage("/bug?extid=1"), `<td class="stat">C</td>`,
		`<td class="stat">C</td><td class="assets"><a href="/download?tag=bisect.tar.gz">log</a></td>`, 1)
	h.serve("/upstream", http.StatusOK, listing)
	h.fail("/download?tag=bisect.tar.gz")

	_, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, ErrAllAssetsFailed)
	assert.Zero(t, h.transport.GetCallCountInfo()["GET "+testBaseURL+"/bug?extid=1"])
}

func TestRunUnexpectedListingStructure(t *testing.T) {
	h := newHarness(t)
	h.serve("/upstream", http.StatusOK, `<html><head><title>syzbot</title></head><body><p>maintenance</p></body></html>`)

	_, err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, parser.ErrUnexpectedStructure)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.transport.RegisterResponder(http.MethodGet, testBaseURL+"/upstream", func(req *http.Request) (*http.Response, error) {
		defer cancel()
		return httpmock.NewStringResponse(http.StatusOK, listingPage("/bug?extid=1")), nil
	})

	_, err := h.runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.transport.GetTotalCallCount())
}
