package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"snapengine/internal/browser"
	"snapengine/internal/cache"
	"snapengine/internal/capture"
	"snapengine/internal/config"
	"snapengine/internal/domain"
	"snapengine/internal/history"
)

var version = "0.1.0"

var (
	flagOutput      string
	flagOutputDir   string
	flagViewport    bool
	flagSelector    string
	flagWaitFor     []string
	flagWaitTimeout int
	flagExtraWait   int
	flagBatch       string
	flagDelay       int
	flagNoCache     bool
	flagMobile      bool
	flagDevice      string
)

var rootCmd = &cobra.Command{
	Use:   "snapengine [url]",
	Short: "Capture website screenshots with a managed headless-browser pool",
	Long: `snapengine captures website screenshots and extracts page data using a
pooled headless browser, with a content-addressed on-disk cache.

Examples:
  snapengine https://example.com
  snapengine https://example.com --output screenshot.png
  snapengine --batch urls.txt --output-dir screenshots/`,
	Version:       version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCapture,
}

func init() {
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output filename for single URL")
	rootCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "output directory for batch mode")
	rootCmd.Flags().BoolVar(&flagViewport, "viewport", false, "capture viewport only instead of the full page")
	rootCmd.Flags().StringVar(&flagSelector, "selector", "", "CSS selector for a specific element")
	rootCmd.Flags().StringSliceVar(&flagWaitFor, "wait-for", nil, "CSS selector(s) to wait for before capture")
	rootCmd.Flags().IntVar(&flagWaitTimeout, "wait-timeout", 5000, "timeout for wait-for selectors (ms)")
	rootCmd.Flags().IntVar(&flagExtraWait, "extra-wait", 0, "additional wait after page load (ms)")
	rootCmd.Flags().StringVar(&flagBatch, "batch", "", "file containing URLs, one per line")
	rootCmd.Flags().IntVar(&flagDelay, "delay", 1000, "delay between batch captures (ms)")
	rootCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "disable the screenshot cache")
	rootCmd.Flags().BoolVar(&flagMobile, "mobile", false, "use a mobile viewport")
	rootCmd.Flags().StringVar(&flagDevice, "device", "", "device to emulate: "+strings.Join(domain.DeviceNames(), ", "))

	rootCmd.AddCommand(cacheCmd, historyCmd, serveCmd)
}

// app bundles the wired components behind every command.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	pool  *browser.Pool
	cache *cache.Cache
	svc   *capture.Service
	hist  history.Repository
}

func newApp() (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	store, err := cache.New(cfg.CacheDir, cfg.CacheTTL(), cfg.CacheEnabled, log)
	if err != nil {
		return nil, err
	}

	pool := browser.NewPool(func() (browser.Engine, error) {
		return browser.StartEngine(browser.EngineOptions{
			Headless:         cfg.Headless,
			Args:             cfg.BrowserArgs,
			IgnoreCertErrors: cfg.IgnoreHTTPSErrors,
		}, log)
	}, browser.ContextOptions{
		ViewportWidth:    cfg.ViewportWidth,
		ViewportHeight:   cfg.ViewportHeight,
		Locale:           "en-US",
		TimezoneID:       "America/New_York",
		GrantGeolocation: true,
	}, cfg.MaxContexts, log)

	var hist history.Repository
	if cfg.HistoryDBPath != "" {
		hist, err = history.NewBadgerRepository(cfg.HistoryDBPath, log)
		if err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		cache: store,
		svc:   capture.NewService(cfg, pool, store, hist, log),
		hist:  hist,
	}, nil
}

// close releases every pooled browser resource; deferred from each command so
// no engine process outlives the CLI.
func (a *app) close() {
	a.pool.Cleanup()
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			a.log.WithError(err).Error("Error closing history database")
		}
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && flagBatch == "" {
		return errors.New("either a URL or --batch is required")
	}
	if len(args) > 0 && flagBatch != "" {
		return errors.New("cannot specify both a URL and --batch")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if flagBatch != "" {
		return runBatch(cmd, a)
	}

	url := args[0]
	fmt.Printf("Capturing: %s\n", url)

	path, err := a.svc.Capture(cmd.Context(), domain.CaptureRequest{
		URL:         url,
		OutputPath:  flagOutput,
		FullPage:    !flagViewport,
		Selector:    flagSelector,
		WaitFor:     flagWaitFor,
		WaitTimeout: time.Duration(flagWaitTimeout) * time.Millisecond,
		ExtraWait:   time.Duration(flagExtraWait) * time.Millisecond,
		UseCache:    !flagNoCache,
		Mobile:      flagMobile,
		DeviceName:  flagDevice,
	})
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("failed to capture screenshot")
	}

	fmt.Printf("Screenshot saved to: %s\n", path)
	return nil
}

func runBatch(cmd *cobra.Command, a *app) error {
	urls, err := readBatchFile(flagBatch)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs found in batch file %s", flagBatch)
	}

	fmt.Printf("Processing %d URLs...\n", len(urls))

	results, err := a.svc.Batch(cmd.Context(), urls, capture.BatchOptions{
		OutputDir: flagOutputDir,
		FullPage:  !flagViewport,
		UseCache:  !flagNoCache,
		Delay:     time.Duration(flagDelay) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	success := 0
	for _, r := range results {
		if r.Path != "" {
			success++
		}
	}
	fmt.Printf("\nCompleted: %d/%d successful\n", success, len(urls))
	for _, r := range results {
		marker := "x"
		if r.Path != "" {
			marker = "ok"
		}
		fmt.Printf("[%s] %s\n", marker, r.URL)
	}

	if success < len(urls) {
		// Partial failure still reports per-URL outcomes above but the
		// run as a whole is not a success.
		return fmt.Errorf("%d of %d captures failed", len(urls)-success, len(urls))
	}
	return nil
}

// readBatchFile reads one URL per line, skipping blanks and # comments.
func readBatchFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batch file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	return urls, nil
}
