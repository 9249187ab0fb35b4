package domain

import "time"

// WaitUntil is the navigation wait condition passed to the renderer.
type WaitUntil string

const (
	WaitUntilLoad             WaitUntil = "load"
	WaitUntilDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitUntilNetworkIdle      WaitUntil = "networkidle"
)

// CaptureOptions is the set of capture-affecting options that feed the cache
// key. Any option that changes rendered pixels must live here, otherwise a
// stale artifact can be served for a different rendering.
type CaptureOptions struct {
	FullPage   bool   `json:"full_page"`
	Selector   string `json:"selector,omitempty"`
	Mobile     bool   `json:"mobile,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
}

// CaptureRequest describes one screenshot operation. It is ephemeral and
// never persisted.
type CaptureRequest struct {
	// URL is the target to capture.
	URL string

	// OutputPath is where the artifact is written. When empty a
	// timestamp-derived path under the default output directory is used.
	OutputPath string

	// FullPage captures the entire scrollable page instead of the viewport.
	FullPage bool

	// Selector, when set, captures just the first matching element.
	Selector string

	// WaitFor lists selectors that must appear before capture, in order.
	WaitFor []string

	// WaitTimeout bounds each WaitFor selector.
	WaitTimeout time.Duration

	// ExtraWait is an unconditional pause after the page settles.
	ExtraWait time.Duration

	// UseCache allows serving and populating the screenshot cache.
	UseCache bool

	// Mobile switches to a mobile viewport; DeviceName picks a named
	// emulation profile. Unknown names fall back to a generic profile.
	Mobile     bool
	DeviceName string
}

// Options derives the cache-key options from the request.
func (r CaptureRequest) Options() CaptureOptions {
	return CaptureOptions{
		FullPage:   r.FullPage,
		Selector:   r.Selector,
		Mobile:     r.Mobile,
		DeviceName: r.DeviceName,
	}
}

// FieldSelector names one extraction target. Field order is preserved in the
// result.
type FieldSelector struct {
	Name     string
	Selector string
}

// FieldValue holds one extracted field. Exactly one of Text or List is set
// when Found is true; Error carries a per-field failure without aborting the
// rest of the extraction.
type FieldValue struct {
	Name  string   `json:"name"`
	Text  string   `json:"text,omitempty"`
	List  []string `json:"list,omitempty"`
	Found bool     `json:"found"`
	Error string   `json:"error,omitempty"`
}

// ExtractRequest describes one browse-and-extract operation.
type ExtractRequest struct {
	URL            string
	Fields         []FieldSelector
	Screenshot     bool
	ScreenshotPath string
	WaitFor        string
	WaitTimeout    time.Duration
}

// ExtractionResult reports extraction outcomes as data. Navigation and wait
// failures land in Error rather than being raised.
type ExtractionResult struct {
	URL        string       `json:"url"`
	Timestamp  time.Time    `json:"timestamp"`
	Fields     []FieldValue `json:"fields"`
	Screenshot string       `json:"screenshot,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// BatchResult pairs an input URL with its artifact path. Path is empty when
// that capture failed; batch results preserve input order.
type BatchResult struct {
	URL  string
	Path string
}

// CaptureRecord is one entry in the capture history log.
type CaptureRecord struct {
	URL        string    `json:"url"`
	OutputPath string    `json:"output_path,omitempty"`
	Cached     bool      `json:"cached"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
