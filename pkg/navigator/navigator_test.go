package navigator

import (
	"context"
	"errors"
	"testing"
	"time"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
)

// fakeExecutor simulates page state without a browser.
type fakeExecutor struct {
	location   string
	texts      map[string]string
	attributes map[string]map[string]string
	visible    map[string]bool

	// counts returned by successive Count calls, last value repeats
	countSeries []int
	countCalls  int

	navigated []string
	keys      []string
	scrolls   int

	navigateErr error
	textErr     error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		texts:      make(map[string]string),
		attributes: make(map[string]map[string]string),
		visible:    make(map[string]bool),
	}
}

func (f *fakeExecutor) Navigate(ctx context.Context, url string) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.navigated = append(f.navigated, url)
	f.location = url
	return nil
}

func (f *fakeExecutor) Location(ctx context.Context) (string, error) {
	return f.location, nil
}

func (f *fakeExecutor) Text(ctx context.Context, selector string) (string, error) {
	if f.textErr != nil {
		return "", f.textErr
	}
	text, ok := f.texts[selector]
	if !ok {
		return "", errors.New("node not found")
	}
	return text, nil
}

func (f *fakeExecutor) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	attrs, ok := f.attributes[selector]
	if !ok {
		return "", false, nil
	}
	value, ok := attrs[name]
	return value, ok, nil
}

func (f *fakeExecutor) Count(ctx context.Context, selector string) (int, error) {
	idx := f.countCalls
	f.countCalls++
	if idx >= len(f.countSeries) {
		if len(f.countSeries) == 0 {
			return 0, nil
		}
		return f.countSeries[len(f.countSeries)-1], nil
	}
	return f.countSeries[idx], nil
}

func (f *fakeExecutor) KeyPress(ctx context.Context, key string) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeExecutor) ScrollToBottom(ctx context.Context) error {
	f.scrolls++
	return nil
}

func (f *fakeExecutor) WaitVisible(ctx context.Context, selector string) error {
	if f.visible[selector] {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func testScrapeConfig() config.ScrapeConfig {
	return config.ScrapeConfig{
		PageLoadTimeout: 100 * time.Millisecond,
		PollInterval:    time.Millisecond,
		StabilityPolls:  3,
	}
}

func TestGotoBuildsViewURLs(t *testing.T) {
	exec := newFakeExecutor()
	nav := New(exec, "https://photos.example.com/", testScrapeConfig(), nil)

	if err := nav.Goto(context.Background(), ViewAlbums); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := nav.Goto(context.Background(), ViewAlbum, "alb123"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{
		"https://photos.example.com/albums",
		"https://photos.example.com/album/alb123",
	}
	for i, url := range want {
		if exec.navigated[i] != url {
			t.Errorf("Expected navigation to %q, got %q", url, exec.navigated[i])
		}
	}
}

func TestGotoTimeoutIsTyped(t *testing.T) {
	exec := newFakeExecutor()
	exec.navigateErr = context.DeadlineExceeded
	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	err := nav.Goto(context.Background(), ViewAlbums)
	if err == nil {
		t.Fatal("Expected error")
	}
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeNetwork {
		// Navigate errors without a context deadline map to network
		t.Errorf("Expected typed navigation error, got %v", err)
	}
}

func TestExtractRequiredAndOptionalFields(t *testing.T) {
	exec := newFakeExecutor()
	exec.visible["main"] = true
	exec.texts["h1.title"] = "  Summer Trip  "
	exec.attributes["img.photo"] = map[string]string{"src": "https://cdn.example/p1.jpg"}

	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	fields, err := nav.Extract(context.Background(), SelectorSpec{
		WaitFor: "main",
		Fields: []FieldSpec{
			{Name: "title", Selector: "h1.title"},
			{Name: "src", Selector: "img.photo", Attribute: "src"},
			{Name: "owner", Selector: "div.owner", Optional: true},
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if fields["title"] != "Summer Trip" {
		t.Errorf("Expected trimmed title, got %q", fields["title"])
	}
	if fields["src"] != "https://cdn.example/p1.jpg" {
		t.Errorf("Expected attribute value, got %q", fields["src"])
	}
	if _, ok := fields["owner"]; ok {
		t.Error("Expected missing optional field to be omitted")
	}
}

func TestExtractMissingRequiredFieldIsSchemaError(t *testing.T) {
	exec := newFakeExecutor()
	exec.visible["main"] = true

	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	_, err := nav.Extract(context.Background(), SelectorSpec{
		WaitFor: "main",
		Fields:  []FieldSpec{{Name: "title", Selector: "h1.title"}},
	})
	if err == nil {
		t.Fatal("Expected schema error")
	}
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeSchema {
		t.Errorf("Expected schema error, got %v", err)
	}
}

func TestExtractWaitForTimeout(t *testing.T) {
	exec := newFakeExecutor()

	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	_, err := nav.Extract(context.Background(), SelectorSpec{WaitFor: "main"})
	if err == nil {
		t.Fatal("Expected error for invisible anchor")
	}
	var typed *errs.Error
	if !errors.As(err, &typed) || typed.Type != errs.ErrorTypeSchema {
		t.Errorf("Expected schema error, got %v", err)
	}
}

func TestScrollToEndStability(t *testing.T) {
	exec := newFakeExecutor()
	// Grows, then holds at 30 for the required stable polls
	exec.countSeries = []int{10, 20, 30, 30, 30, 30}

	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	count, err := nav.ScrollToEnd(context.Background(), "div.item")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if count != 30 {
		t.Errorf("Expected final count 30, got %d", count)
	}
	// A new-item observation resets the stability counter
	if exec.countCalls < 6 {
		t.Errorf("Expected at least 6 polls, got %d", exec.countCalls)
	}
}

func TestScrollToEndCancellation(t *testing.T) {
	exec := newFakeExecutor()
	exec.countSeries = []int{1}

	// Stability threshold high enough that the loop outlives the context
	cfg := testScrapeConfig()
	cfg.StabilityPolls = 1000000
	nav := New(exec, "https://photos.example.com", cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := nav.ScrollToEnd(ctx, "div.item")
	if err == nil {
		t.Error("Expected cancellation error")
	}
}

// countingLimiter records how often page operations waited on it.
type countingLimiter struct {
	waits int
	err   error
}

func (l *countingLimiter) Allow() bool { return true }

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return l.err
}

func (l *countingLimiter) Reset() {}

func TestLimiterPacesNavigationAndKeys(t *testing.T) {
	exec := newFakeExecutor()
	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	limiter := &countingLimiter{}
	nav.UseLimiter(limiter)

	if err := nav.Goto(context.Background(), ViewAlbums); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := nav.PressKey(context.Background(), "ArrowRight"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if limiter.waits != 2 {
		t.Errorf("Expected every page operation to wait on the limiter, got %d waits", limiter.waits)
	}

	limiter.err = context.Canceled
	if err := nav.PressKey(context.Background(), "ArrowRight"); err == nil {
		t.Error("Expected limiter error to surface")
	}
	if len(exec.keys) != 1 {
		t.Errorf("Expected no key press after limiter rejection, got %v", exec.keys)
	}
}

func TestPressKey(t *testing.T) {
	exec := newFakeExecutor()
	nav := New(exec, "https://photos.example.com", testScrapeConfig(), nil)

	if err := nav.PressKey(context.Background(), "ArrowRight"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(exec.keys) != 1 || exec.keys[0] != "ArrowRight" {
		t.Errorf("Expected ArrowRight key press, got %v", exec.keys)
	}
}
