package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"snapengine/internal/domain"
)

// BatchOptions configure a sequential multi-URL capture run.
type BatchOptions struct {
	// OutputDir receives the numbered artifacts. Defaults to a
	// batch_<timestamp> directory under the default output dir.
	OutputDir string

	FullPage bool
	UseCache bool

	// Delay is slept between captures (not after the last one) to
	// rate-limit outbound requests.
	Delay time.Duration

	// NamePrefix defaults to "screenshot".
	NamePrefix string
}

// Batch captures the URLs one after another, reusing the pool. Individual
// failures (classified or soft) never abort the run; the returned slice has
// exactly one result per input URL, in input order, with an empty Path for
// failures.
func (s *Service) Batch(ctx context.Context, urls []string, opts BatchOptions) ([]domain.BatchResult, error) {
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(s.cfg.DefaultOutputDir, fmt.Sprintf("batch_%d", time.Now().Unix()))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating batch output dir: %w", err)
	}

	prefix := opts.NamePrefix
	if prefix == "" {
		prefix = "screenshot"
	}

	results := make([]domain.BatchResult, 0, len(urls))
	for i, url := range urls {
		s.log.WithFields(logrus.Fields{
			"url":      url,
			"progress": fmt.Sprintf("%d/%d", i+1, len(urls)),
		}).Info("Capturing batch URL")

		filename := fmt.Sprintf("%s_%03d_%d.png", prefix, i, time.Now().Unix())
		path, err := s.Capture(ctx, domain.CaptureRequest{
			URL:        url,
			OutputPath: filepath.Join(outputDir, filename),
			FullPage:   opts.FullPage,
			UseCache:   opts.UseCache,
		})
		if err != nil {
			s.log.WithError(err).WithField("url", url).Error("Batch capture failed")
			path = ""
		}
		results = append(results, domain.BatchResult{URL: url, Path: path})

		if i < len(urls)-1 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return results, nil
}
