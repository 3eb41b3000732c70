package scraper

import (
	"context"
	"testing"

	"immichporter/pkg/gphotos"
	"immichporter/pkg/navigator"
)

// pageExecutor is the minimal navigator.Executor the driver tests need.
type pageExecutor struct {
	navigated []string
	scrolls   int

	// counts returned by successive Count calls, last value repeats
	counts    []int
	countCall int
}

func (e *pageExecutor) Navigate(ctx context.Context, url string) error {
	e.navigated = append(e.navigated, url)
	return nil
}

func (e *pageExecutor) Location(ctx context.Context) (string, error) { return "", nil }

func (e *pageExecutor) Text(ctx context.Context, selector string) (string, error) {
	return "", nil
}

func (e *pageExecutor) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	return "", false, nil
}

func (e *pageExecutor) Count(ctx context.Context, selector string) (int, error) {
	idx := e.countCall
	e.countCall++
	if idx >= len(e.counts) {
		if len(e.counts) == 0 {
			return 0, nil
		}
		return e.counts[len(e.counts)-1], nil
	}
	return e.counts[idx], nil
}

func (e *pageExecutor) KeyPress(ctx context.Context, key string) error { return nil }

func (e *pageExecutor) ScrollToBottom(ctx context.Context) error {
	e.scrolls++
	return nil
}

func (e *pageExecutor) WaitVisible(ctx context.Context, selector string) error { return nil }

func TestGotoAlbumsScrollsListingToEnd(t *testing.T) {
	exec := &pageExecutor{counts: []int{12, 24, 24, 24}}
	nav := navigator.New(exec, "https://photos.example.com", testScrapeConfig(), nil)
	d := NewDriver(nav, gphotos.NewExtractor(nav, "https://photos.example.com", nil))

	if err := d.GotoAlbums(context.Background()); err != nil {
		t.Fatalf("GotoAlbums failed: %v", err)
	}

	if len(exec.navigated) != 1 || exec.navigated[0] != "https://photos.example.com/albums" {
		t.Errorf("Unexpected navigation: %v", exec.navigated)
	}
	// The virtualized grid is scrolled until its tile count settles
	if exec.scrolls < 3 {
		t.Errorf("Expected listing scrolled to the end, got %d scrolls", exec.scrolls)
	}
}
