package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"snapengine/internal/browser"
	"snapengine/internal/domain"
)

// BrowseAndExtract navigates to a URL and reads text from the requested
// selectors. Failures are reported as data: navigation and wait errors land
// in the result's Error field, per-field extraction errors in that field's
// Error, and the call itself never fails. Field order in the result matches
// the request.
func (s *Service) BrowseAndExtract(ctx context.Context, req domain.ExtractRequest) domain.ExtractionResult {
	log := s.log.WithField("url", req.URL)
	result := domain.ExtractionResult{
		URL:       req.URL,
		Timestamp: time.Now(),
	}

	bctx, err := s.pool.Context()
	if err != nil {
		result.Error = err.Error()
		log.WithError(err).Error("Browse and extract failed")
		return result
	}

	page, err := bctx.OpenPage(nil)
	if err != nil {
		result.Error = err.Error()
		log.WithError(err).Error("Browse and extract failed")
		return result
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("Error closing page")
		}
	}()

	if err := page.Navigate(req.URL, domain.WaitUntil(s.cfg.WaitUntil), s.cfg.NavigationTimeout()); err != nil {
		result.Error = err.Error()
		log.WithError(err).Error("Browse and extract failed")
		return result
	}

	if req.WaitFor != "" {
		waitTimeout := req.WaitTimeout
		if waitTimeout == 0 {
			waitTimeout = defaultWaitTimeout
		}
		if err := page.WaitForSelector(req.WaitFor, waitTimeout); err != nil {
			result.Error = err.Error()
			log.WithError(err).Error("Browse and extract failed")
			return result
		}
	}

	for _, field := range req.Fields {
		result.Fields = append(result.Fields, extractField(page, field))
	}

	if req.Screenshot {
		path := req.ScreenshotPath
		if path == "" {
			path = filepath.Join(s.cfg.DefaultOutputDir, fmt.Sprintf("browse_%d.png", time.Now().Unix()))
		}
		if err := page.Screenshot(path, true); err != nil {
			result.Error = err.Error()
			log.WithError(err).Error("Post-extraction screenshot failed")
		} else {
			result.Screenshot = path
		}
	}

	return result
}

// extractField reads one field: zero matches is absent, one match is scalar
// text, several matches is an ordered list. Any failure stays inside the
// field.
func extractField(page browser.Page, field domain.FieldSelector) domain.FieldValue {
	fv := domain.FieldValue{Name: field.Name}

	els, err := page.Elements(field.Selector)
	if err != nil {
		fv.Error = fmt.Sprintf("Error: %v", err)
		return fv
	}
	if len(els) == 0 {
		return fv
	}

	if len(els) == 1 {
		text, err := els[0].Text()
		if err != nil {
			fv.Error = fmt.Sprintf("Error: %v", err)
			return fv
		}
		fv.Found = true
		fv.Text = text
		return fv
	}

	texts := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			fv.Error = fmt.Sprintf("Error: %v", err)
			return fv
		}
		texts = append(texts, text)
	}
	fv.Found = true
	fv.List = texts
	return fv
}
