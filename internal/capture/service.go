package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapengine/internal/browser"
	"snapengine/internal/cache"
	"snapengine/internal/config"
	"snapengine/internal/domain"
	"snapengine/internal/history"
)

const defaultWaitTimeout = 5 * time.Second

// Service is the request-level capture/extract workflow: cache check, context
// acquisition, navigation, capture, cache persistence and bounded retry.
//
// The cache engine itself is not safe for concurrent mutation, so Service
// serializes every cache call behind cacheMu; concurrent Capture calls are
// therefore safe to issue.
type Service struct {
	cfg     *config.Config
	pool    *browser.Pool
	cache   *cache.Cache
	history history.Repository
	log     logrus.FieldLogger

	cacheMu sync.Mutex
}

// NewService wires the orchestrator. history may be nil to disable the
// capture log.
func NewService(cfg *config.Config, pool *browser.Pool, store *cache.Cache, hist history.Repository, logger logrus.FieldLogger) *Service {
	return &Service{
		cfg:     cfg,
		pool:    pool,
		cache:   store,
		history: hist,
		log:     logger.WithField("component", "capture"),
	}
}

// Capture takes a screenshot per the request and returns the artifact path.
//
// Classified errors (navigation, wait timeout, element not found, screenshot,
// browser) propagate immediately without retry. Unclassified failures are
// retried up to the configured bound; once exhausted, Capture degrades to the
// soft-failure sentinel ("", nil) rather than an error. Callers needing
// strict failure signaling must check for the empty path.
func (s *Service) Capture(ctx context.Context, req domain.CaptureRequest) (string, error) {
	log := s.log.WithField("url", req.URL)
	opts := req.Options()

	if req.UseCache {
		if cached, ok := s.cacheLookup(req.URL, opts); ok {
			log.Info("Using cached screenshot")
			result := cached
			if req.OutputPath != "" && req.OutputPath != cached {
				if err := copyArtifact(cached, req.OutputPath); err != nil {
					return "", fmt.Errorf("copying cached artifact: %w", err)
				}
				result = req.OutputPath
			}
			s.record(domain.CaptureRecord{URL: req.URL, OutputPath: result, Cached: true, Success: true})
			return result, nil
		}
	}

	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(s.cfg.DefaultOutputDir, fmt.Sprintf("screenshot_%d.png", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	waitTimeout := req.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = defaultWaitTimeout
	}

	start := time.Now()
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		err := s.attempt(req, opts, outputPath, waitTimeout)
		if err == nil {
			log.WithField("path", outputPath).Info("Screenshot saved")
			if req.UseCache {
				s.cacheStore(req.URL, outputPath, opts)
			}
			s.record(domain.CaptureRecord{
				URL:        req.URL,
				OutputPath: outputPath,
				Success:    true,
				DurationMS: time.Since(start).Milliseconds(),
			})
			return outputPath, nil
		}

		if domain.IsClassified(err) {
			s.record(domain.CaptureRecord{
				URL:        req.URL,
				Error:      err.Error(),
				DurationMS: time.Since(start).Milliseconds(),
			})
			return "", err
		}

		log.WithError(err).WithField("attempt", attempt).Warn("Screenshot attempt failed")
		if attempt == s.cfg.MaxRetries {
			log.WithField("attempts", s.cfg.MaxRetries).Error("Giving up on screenshot")
			s.record(domain.CaptureRecord{
				URL:        req.URL,
				Error:      err.Error(),
				DurationMS: time.Since(start).Milliseconds(),
			})
			return "", nil
		}
	}
	return "", nil
}

// attempt runs one full capture pass. The page is closed on every exit path.
func (s *Service) attempt(req domain.CaptureRequest, opts domain.CaptureOptions, outputPath string, waitTimeout time.Duration) error {
	bctx, err := s.pool.Context()
	if err != nil {
		return err
	}

	var device *domain.DeviceProfile
	if req.Mobile || req.DeviceName != "" {
		d := domain.LookupDevice(req.DeviceName)
		device = &d
	}

	page, err := bctx.OpenPage(device)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("Error closing page")
		}
	}()

	if err := page.Navigate(req.URL, domain.WaitUntil(s.cfg.WaitUntil), s.cfg.NavigationTimeout()); err != nil {
		return err
	}

	for _, selector := range req.WaitFor {
		if err := page.WaitForSelector(selector, waitTimeout); err != nil {
			return err
		}
	}

	if req.ExtraWait > 0 {
		time.Sleep(req.ExtraWait)
	}

	if req.Selector != "" {
		return page.ScreenshotElement(req.Selector, outputPath)
	}
	return page.Screenshot(outputPath, req.FullPage)
}

// Screenshot is the convenience path: full-page, cached, default naming.
func (s *Service) Screenshot(ctx context.Context, url, filename string) (string, error) {
	var outputPath string
	if filename != "" {
		outputPath = filepath.Join(s.cfg.DefaultOutputDir, filename)
	}
	return s.Capture(ctx, domain.CaptureRequest{
		URL:        url,
		OutputPath: outputPath,
		FullPage:   true,
		UseCache:   true,
	})
}

func (s *Service) cacheLookup(url string, opts domain.CaptureOptions) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Lookup(url, opts, s.cfg.ViewportWidth, s.cfg.ViewportHeight)
}

func (s *Service) cacheStore(url, path string, opts domain.CaptureOptions) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Store(url, path, opts, s.cfg.ViewportWidth, s.cfg.ViewportHeight)
}

// EvictExpired runs a cache sweep under the service's cache lock.
func (s *Service) EvictExpired(aggressive bool) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.EvictExpired(aggressive)
}

// record appends to the capture history, best-effort.
func (s *Service) record(rec domain.CaptureRecord) {
	if s.history == nil {
		return
	}
	rec.Timestamp = time.Now()
	if err := s.history.SaveRecord(context.Background(), rec); err != nil {
		s.log.WithError(err).Warn("Failed to record capture history")
	}
}

func copyArtifact(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
