package domain

import "errors"

// Classified capture errors. These are raised immediately by the capture
// workflow and are never retried; anything else is treated as transient and
// retried up to the configured bound.
var (
	// ErrBrowser indicates the renderer engine failed to start or is unusable.
	ErrBrowser = errors.New("browser error")

	// ErrNavigation indicates the target URL was unreachable or failed to load.
	ErrNavigation = errors.New("navigation failed")

	// ErrTimeout indicates a wait condition was never satisfied.
	ErrTimeout = errors.New("wait timed out")

	// ErrElementNotFound indicates a selector matched nothing when exactly
	// one match was required.
	ErrElementNotFound = errors.New("element not found")

	// ErrScreenshot indicates the capture call itself failed at the renderer.
	ErrScreenshot = errors.New("screenshot failed")

	// ErrCache indicates a cache persistence failure on an explicit save path.
	ErrCache = errors.New("cache error")

	// ErrUnknownOption is returned by config updates for unrecognized keys.
	ErrUnknownOption = errors.New("unknown configuration option")
)

// IsClassified reports whether err belongs to the fatal capture taxonomy.
// Classified errors propagate to the caller without retry.
func IsClassified(err error) bool {
	return errors.Is(err, ErrBrowser) ||
		errors.Is(err, ErrNavigation) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrElementNotFound) ||
		errors.Is(err, ErrScreenshot) ||
		errors.Is(err, ErrCache)
}
