// Package navigator drives page-level interaction with the source service:
// view navigation, keyboard paging, field extraction by selector, and
// scroll-to-end detection for virtualized listings.
package navigator

import (
	"context"
	"errors"
	"strings"
	"time"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
	"immichporter/pkg/ratelimit"
)

// Executor abstracts the browser operations the navigator needs. The
// chromedp-backed implementation lives in this package; tests substitute
// a fake.
type Executor interface {
	// Navigate loads a URL and waits for the document to be ready
	Navigate(ctx context.Context, url string) error
	// Location returns the current page URL
	Location(ctx context.Context) (string, error)
	// Text returns the trimmed text content of the first match
	Text(ctx context.Context, selector string) (string, error)
	// Attribute returns an attribute of the first match; ok is false
	// when the element or attribute is absent
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// Count returns the number of elements matching the selector
	Count(ctx context.Context, selector string) (int, error)
	// KeyPress sends a keyboard key to the focused element
	KeyPress(ctx context.Context, key string) error
	// ScrollToBottom scrolls the main scroll container to its end
	ScrollToBottom(ctx context.Context) error
	// WaitVisible blocks until the selector is visible
	WaitVisible(ctx context.Context, selector string) error
}

// View identifies a page of the source service.
type View string

const (
	ViewAlbums  View = "albums"
	ViewAlbum   View = "album"
	ViewPhoto   View = "photo"
	ViewSharing View = "sharing"
)

// FieldSpec selects one field out of the current page.
type FieldSpec struct {
	Name     string
	Selector string
	// Attribute reads an attribute instead of text content
	Attribute string
	// Optional fields that fail to extract are logged and skipped
	// instead of failing the page
	Optional bool
}

// SelectorSpec is the set of fields to extract from one page state.
type SelectorSpec struct {
	// WaitFor is a selector that must be visible before extraction
	WaitFor string
	Fields  []FieldSpec
}

// RawFields holds extracted field values keyed by field name. Optional
// fields that were absent have no entry.
type RawFields map[string]string

// extractionTimeout bounds a single field read. Elements of a loaded page
// either resolve quickly or not at all.
const extractionTimeout = 5 * time.Second

// Navigator performs page operations on one browser session.
type Navigator struct {
	exec    Executor
	baseURL string
	cfg     config.ScrapeConfig
	limiter ratelimit.Limiter
	logger  logger.Logger
}

// New creates a navigator over the given executor.
func New(exec Executor, baseURL string, cfg config.ScrapeConfig, log logger.Logger) *Navigator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Navigator{
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		logger:  log,
	}
}

// UseLimiter paces navigations and key presses through the given limiter
// so the walk does not hammer the source service. A nil limiter disables
// pacing.
func (n *Navigator) UseLimiter(l ratelimit.Limiter) {
	n.limiter = l
}

func (n *Navigator) pace(ctx context.Context) error {
	if n.limiter == nil {
		return nil
	}
	return n.limiter.Wait(ctx)
}

// URLFor builds the address of a view. Params are path segments appended
// in order.
func (n *Navigator) URLFor(view View, params ...string) string {
	var path string
	switch view {
	case ViewAlbums:
		path = "/albums"
	case ViewAlbum:
		path = "/album"
	case ViewPhoto:
		path = "/photo"
	case ViewSharing:
		path = "/sharing"
	default:
		path = "/"
	}
	parts := append([]string{n.baseURL + path}, params...)
	return strings.Join(parts, "/")
}

// Goto navigates to a view and waits for the page to load within the
// configured timeout.
func (n *Navigator) Goto(ctx context.Context, view View, params ...string) error {
	if err := n.pace(ctx); err != nil {
		return err
	}
	url := n.URLFor(view, params...)

	navCtx, cancel := context.WithTimeout(ctx, n.cfg.PageLoadTimeout)
	defer cancel()

	if err := n.exec.Navigate(navCtx, url); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return errs.Newf(errs.ErrorTypeTimeout, "page load timed out: %s", url)
		}
		return errs.Newf(errs.ErrorTypeNetwork, "navigation failed: %v", err)
	}

	n.logger.DebugWithFields("navigated", map[string]interface{}{
		"view": string(view),
		"url":  url,
	})
	return nil
}

// Location returns the current page URL.
func (n *Navigator) Location(ctx context.Context) (string, error) {
	return n.exec.Location(ctx)
}

// Extract reads the fields of a spec from the current page. A missing
// required field is a schema error for the whole page; missing optional
// fields are logged and omitted from the result.
func (n *Navigator) Extract(ctx context.Context, spec SelectorSpec) (RawFields, error) {
	if spec.WaitFor != "" {
		waitCtx, cancel := context.WithTimeout(ctx, n.cfg.PageLoadTimeout)
		err := n.exec.WaitVisible(waitCtx, spec.WaitFor)
		cancel()
		if err != nil {
			return nil, errs.Newf(errs.ErrorTypeSchema, "page anchor %q never became visible", spec.WaitFor)
		}
	}

	fields := make(RawFields, len(spec.Fields))
	for _, f := range spec.Fields {
		value, err := n.extractField(ctx, f)
		if err != nil {
			if f.Optional {
				n.logger.DebugWithFields("optional field missing", map[string]interface{}{
					"field":    f.Name,
					"selector": f.Selector,
				})
				continue
			}
			return nil, err
		}
		fields[f.Name] = value
	}
	return fields, nil
}

func (n *Navigator) extractField(ctx context.Context, f FieldSpec) (string, error) {
	fieldCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	if f.Attribute != "" {
		value, ok, err := n.exec.Attribute(fieldCtx, f.Selector, f.Attribute)
		if err != nil {
			return "", wrapFieldError(f, err)
		}
		if !ok {
			return "", errs.Newf(errs.ErrorTypeSchema, "field %q: attribute %q not present at %q", f.Name, f.Attribute, f.Selector)
		}
		return value, nil
	}

	text, err := n.exec.Text(fieldCtx, f.Selector)
	if err != nil {
		return "", wrapFieldError(f, err)
	}
	return strings.TrimSpace(text), nil
}

func wrapFieldError(f FieldSpec, err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	return errs.Newf(errs.ErrorTypeSchema, "field %q: selector %q failed: %v", f.Name, f.Selector, err)
}

// PressKey sends a keyboard key, used for arrow-key paging through photos.
func (n *Navigator) PressKey(ctx context.Context, key string) error {
	if err := n.pace(ctx); err != nil {
		return err
	}
	if err := n.exec.KeyPress(ctx, key); err != nil {
		return errs.Newf(errs.ErrorTypeStaleElement, "key press %q failed: %v", key, err)
	}
	return nil
}

// ScrollToEnd scrolls a virtualized listing until the item count stays
// unchanged for the configured number of consecutive polls, and returns
// the final count. The count can undershoot the true total when the
// listing virtualizes aggressively; callers treat it as a floor.
func (n *Navigator) ScrollToEnd(ctx context.Context, itemSelector string) (int, error) {
	lastCount := -1
	stable := 0

	for {
		if err := ctx.Err(); err != nil {
			return lastCount, err
		}

		if err := n.exec.ScrollToBottom(ctx); err != nil {
			return lastCount, errs.Newf(errs.ErrorTypeStaleElement, "scroll failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return lastCount, ctx.Err()
		case <-time.After(n.cfg.PollInterval):
		}

		count, err := n.exec.Count(ctx, itemSelector)
		if err != nil {
			return lastCount, errs.Newf(errs.ErrorTypeSchema, "item count failed: %v", err)
		}

		if count == lastCount {
			stable++
			if stable >= n.cfg.StabilityPolls {
				n.logger.DebugWithFields("listing settled", map[string]interface{}{
					"items": count,
					"polls": stable,
				})
				return count, nil
			}
		} else {
			stable = 0
			lastCount = count
		}
	}
}
