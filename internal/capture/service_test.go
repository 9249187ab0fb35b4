package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapengine/internal/browser"
	"snapengine/internal/cache"
	"snapengine/internal/config"
	"snapengine/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// scriptPage is a programmable renderer page shared across attempts.
type scriptPage struct {
	mu sync.Mutex

	navigations        int
	navErr             error
	navErrFor          map[string]error
	waitErr            error
	screenshotFailures int // fail this many screenshots with an unclassified error
	elements           map[string][]browser.Element
	content            string
	closes             int

	lastDevice *domain.DeviceProfile
	lastURL    string
}

func (p *scriptPage) Navigate(url string, waitUntil domain.WaitUntil, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations++
	p.lastURL = url
	if err, ok := p.navErrFor[url]; ok {
		return err
	}
	return p.navErr
}

func (p *scriptPage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.waitErr
}

func (p *scriptPage) Screenshot(path string, fullPage bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.screenshotFailures > 0 {
		p.screenshotFailures--
		return errors.New("renderer hiccup")
	}
	return os.WriteFile(path, []byte(p.content), 0o644)
}

func (p *scriptPage) ScreenshotElement(selector, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.elements[selector]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrElementNotFound, selector)
	}
	return os.WriteFile(path, []byte(p.content), 0o644)
}

func (p *scriptPage) Elements(selector string) ([]browser.Element, error) {
	return p.elements[selector], nil
}

func (p *scriptPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

type scriptElement struct {
	text string
	err  error
}

func (e scriptElement) Text() (string, error) { return e.text, e.err }

type scriptContext struct {
	page *scriptPage
}

func (c *scriptContext) OpenPage(device *domain.DeviceProfile) (browser.Page, error) {
	c.page.mu.Lock()
	c.page.lastDevice = device
	c.page.mu.Unlock()
	return c.page, nil
}

func (c *scriptContext) PageCount() (int, error) { return 0, nil }
func (c *scriptContext) Close() error            { return nil }

type scriptEngine struct {
	ctx *scriptContext
}

func (e *scriptEngine) NewContext(opts browser.ContextOptions) (browser.Context, error) {
	return e.ctx, nil
}
func (e *scriptEngine) Close() error { return nil }

// memoryHistory records capture records in order.
type memoryHistory struct {
	mu      sync.Mutex
	records []domain.CaptureRecord
}

func (h *memoryHistory) SaveRecord(ctx context.Context, rec domain.CaptureRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *memoryHistory) Recent(ctx context.Context, limit int) ([]domain.CaptureRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.CaptureRecord, len(h.records))
	copy(out, h.records)
	return out, nil
}

func (h *memoryHistory) Close() error { return nil }

func testConfig(t *testing.T, cacheEnabled bool) *config.Config {
	t.Helper()
	return &config.Config{
		Headless:         true,
		Timeout:          1000,
		ViewportWidth:    1920,
		ViewportHeight:   1080,
		CacheEnabled:     cacheEnabled,
		CacheDir:         t.TempDir(),
		CacheTTLHours:    6,
		MaxContexts:      2,
		MaxRetries:       2,
		WaitUntil:        string(domain.WaitUntilLoad),
		DefaultOutputDir: t.TempDir(),
	}
}

func newTestService(t *testing.T, page *scriptPage, cacheEnabled bool) *Service {
	t.Helper()
	log := testLogger()
	cfg := testConfig(t, cacheEnabled)

	store, err := cache.New(cfg.CacheDir, cfg.CacheTTL(), cfg.CacheEnabled, log)
	require.NoError(t, err)

	eng := &scriptEngine{ctx: &scriptContext{page: page}}
	pool := browser.NewPool(func() (browser.Engine, error) { return eng, nil }, browser.ContextOptions{}, cfg.MaxContexts, log)

	return NewService(cfg, pool, store, nil, log)
}

func TestCaptureWritesArtifact(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, false)

	path, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://example.com",
		FullPage: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
	assert.Equal(t, 1, page.closes, "The page must be closed after the attempt")
}

func TestCaptureRetriesUnclassifiedFailure(t *testing.T) {
	page := &scriptPage{content: "pixels", screenshotFailures: 1}
	svc := newTestService(t, page, false)

	path, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://flaky.example",
		FullPage: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, path, "Second attempt should have succeeded")
	assert.Equal(t, 2, page.navigations)
	assert.Equal(t, 2, page.closes, "Every attempt must close its page")
}

func TestCaptureSoftFailureAfterRetriesExhausted(t *testing.T) {
	page := &scriptPage{content: "pixels", screenshotFailures: 5}
	svc := newTestService(t, page, false)

	path, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://down.example",
		FullPage: true,
	})
	assert.NoError(t, err, "Exhausted retries must degrade to a soft failure, not an error")
	assert.Empty(t, path)
	assert.Equal(t, 2, page.navigations, "Attempts must stop at the configured bound")
}

func TestNavigationErrorBypassesRetry(t *testing.T) {
	page := &scriptPage{
		navErr: fmt.Errorf("%w: connection refused", domain.ErrNavigation),
	}
	svc := newTestService(t, page, false)

	_, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://unreachable.example",
		FullPage: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNavigation)
	assert.Equal(t, 1, page.navigations, "Navigation errors must not be retried")
	assert.Equal(t, 1, page.closes)
}

func TestWaitTimeoutBypassesRetry(t *testing.T) {
	page := &scriptPage{
		content: "pixels",
		waitErr: fmt.Errorf("%w: waiting for \".chart\"", domain.ErrTimeout),
	}
	svc := newTestService(t, page, false)

	_, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://slow.example",
		FullPage: true,
		WaitFor:  []string{".chart"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 1, page.navigations)
}

func TestElementNotFoundBypassesRetry(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, false)

	_, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://example.com",
		Selector: ".missing",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrElementNotFound)
	assert.Equal(t, 1, page.navigations)
}

func TestCaptureServesFromCacheSecondTime(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, true)

	req := domain.CaptureRequest{
		URL:      "https://example.com",
		FullPage: true,
		UseCache: true,
	}

	first, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, page.navigations)

	second, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.Equal(t, 1, page.navigations, "A cache hit must not touch the renderer")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "Cached artifact must match the original capture")
}

func TestCacheHitCopiesToRequestedPath(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, true)

	_, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:      "https://example.com",
		FullPage: true,
		UseCache: true,
	})
	require.NoError(t, err)

	want := filepath.Join(t.TempDir(), "here.png")
	got, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:        "https://example.com",
		OutputPath: want,
		FullPage:   true,
		UseCache:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, want, got, "A hit with an explicit output path must copy there")
	assert.FileExists(t, want)
	assert.Equal(t, 1, page.navigations)
}

func TestCaptureBypassesCacheWhenDisabled(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, true)

	req := domain.CaptureRequest{URL: "https://example.com", FullPage: true, UseCache: false}

	_, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, page.navigations, "use_cache=false must always render")
}

func TestCaptureDeviceEmulation(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, false)

	_, err := svc.Capture(context.Background(), domain.CaptureRequest{
		URL:        "https://example.com",
		DeviceName: "iPad",
	})
	require.NoError(t, err)
	require.NotNil(t, page.lastDevice)
	assert.Equal(t, 820, page.lastDevice.Width)
	assert.Equal(t, 1180, page.lastDevice.Height)

	// Mobile flag alone gets the generic profile.
	_, err = svc.Capture(context.Background(), domain.CaptureRequest{
		URL:    "https://example.com",
		Mobile: true,
	})
	require.NoError(t, err)
	require.NotNil(t, page.lastDevice)
	assert.Equal(t, 375, page.lastDevice.Width)
}

func TestExtractPartialFailure(t *testing.T) {
	page := &scriptPage{
		content: "pixels",
		elements: map[string][]browser.Element{
			".temp": {scriptElement{text: "21C"}},
			".days": {
				scriptElement{text: "Mon"},
				scriptElement{text: "Tue"},
				scriptElement{text: "Wed"},
			},
			".flaky": {scriptElement{err: errors.New("stale node")}},
		},
	}
	svc := newTestService(t, page, false)

	result := svc.BrowseAndExtract(context.Background(), domain.ExtractRequest{
		URL: "https://weather.example",
		Fields: []domain.FieldSelector{
			{Name: "temperature", Selector: ".temp"},
			{Name: "days", Selector: ".days"},
			{Name: "broken", Selector: ".flaky"},
			{Name: "missing", Selector: ".nope"},
		},
	})

	assert.Empty(t, result.Error, "Per-field failures must not fail the whole extraction")
	require.Len(t, result.Fields, 4)

	assert.Equal(t, "temperature", result.Fields[0].Name)
	assert.True(t, result.Fields[0].Found)
	assert.Equal(t, "21C", result.Fields[0].Text)

	assert.Equal(t, "days", result.Fields[1].Name)
	assert.Equal(t, []string{"Mon", "Tue", "Wed"}, result.Fields[1].List)

	assert.Equal(t, "broken", result.Fields[2].Name)
	assert.False(t, result.Fields[2].Found)
	assert.Contains(t, result.Fields[2].Error, "stale node")

	assert.Equal(t, "missing", result.Fields[3].Name)
	assert.False(t, result.Fields[3].Found)
	assert.Empty(t, result.Fields[3].Error)

	assert.Equal(t, 1, page.closes, "The page must be closed after extraction")
}

func TestExtractNavigationFailureReportedAsData(t *testing.T) {
	page := &scriptPage{
		navErr: fmt.Errorf("%w: dns failure", domain.ErrNavigation),
	}
	svc := newTestService(t, page, false)

	result := svc.BrowseAndExtract(context.Background(), domain.ExtractRequest{
		URL:    "https://unreachable.example",
		Fields: []domain.FieldSelector{{Name: "x", Selector: ".x"}},
	})

	assert.NotEmpty(t, result.Error, "Navigation failure must land in the result")
	assert.Empty(t, result.Fields)
}

func TestExtractWithScreenshot(t *testing.T) {
	page := &scriptPage{
		content:  "pixels",
		elements: map[string][]browser.Element{".h1": {scriptElement{text: "Hello"}}},
	}
	svc := newTestService(t, page, false)

	result := svc.BrowseAndExtract(context.Background(), domain.ExtractRequest{
		URL:        "https://example.com",
		Fields:     []domain.FieldSelector{{Name: "title", Selector: ".h1"}},
		Screenshot: true,
	})

	assert.Empty(t, result.Error)
	require.NotEmpty(t, result.Screenshot)
	assert.FileExists(t, result.Screenshot)
}

func TestBatchPreservesOrderAcrossFailures(t *testing.T) {
	page := &scriptPage{
		content: "pixels",
		navErrFor: map[string]error{
			"https://two.example": fmt.Errorf("%w: boom", domain.ErrNavigation),
		},
	}
	svc := newTestService(t, page, false)

	urls := []string{"https://one.example", "https://two.example", "https://three.example"}
	results, err := svc.Batch(context.Background(), urls, BatchOptions{
		OutputDir: t.TempDir(),
		FullPage:  true,
	})
	require.NoError(t, err)
	require.Len(t, results, len(urls), "One result per input URL")

	for i, r := range results {
		assert.Equal(t, urls[i], r.URL, "Batch results must preserve input order")
	}
	assert.NotEmpty(t, results[0].Path)
	assert.Empty(t, results[1].Path, "The failed URL keeps its slot with an empty path")
	assert.NotEmpty(t, results[2].Path)
}

func TestBatchStopsOnCancelledContext(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := svc.Batch(ctx, []string{"https://one.example", "https://two.example"}, BatchOptions{
		OutputDir: t.TempDir(),
		Delay:     time.Second,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, results, "Results gathered before cancellation are returned")
}

func TestCaptureRecordsHistory(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, true)
	hist := &memoryHistory{}
	svc.history = hist

	req := domain.CaptureRequest{URL: "https://example.com", FullPage: true, UseCache: true}

	_, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Capture(context.Background(), req)
	require.NoError(t, err)

	records, err := hist.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Success)
	assert.False(t, records[0].Cached)
	assert.True(t, records[1].Cached, "The second capture must be recorded as a cache hit")
}

func TestCacheHitRecordsDeliveredPath(t *testing.T) {
	page := &scriptPage{content: "pixels"}
	svc := newTestService(t, page, true)
	hist := &memoryHistory{}
	svc.history = hist

	req := domain.CaptureRequest{URL: "https://example.com", FullPage: true, UseCache: true}
	_, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)

	want := filepath.Join(t.TempDir(), "delivered.png")
	req.OutputPath = want
	got, err := svc.Capture(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, want, got)

	records, err := hist.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, records[1].Cached)
	assert.Equal(t, want, records[1].OutputPath, "History must record the path handed to the caller")
}
