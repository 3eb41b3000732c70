package navigator

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"immichporter/pkg/browser"
)

// ChromedpExecutor implements Executor on a live browser session.
type ChromedpExecutor struct {
	session *browser.Session
}

// NewChromedpExecutor wraps a browser session.
func NewChromedpExecutor(session *browser.Session) *ChromedpExecutor {
	return &ChromedpExecutor{session: session}
}

func (e *ChromedpExecutor) Navigate(ctx context.Context, url string) error {
	return e.session.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
}

func (e *ChromedpExecutor) Location(ctx context.Context) (string, error) {
	var url string
	err := e.session.Run(ctx, chromedp.Location(&url))
	return url, err
}

func (e *ChromedpExecutor) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := e.session.Run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (e *ChromedpExecutor) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := e.session.Run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

func (e *ChromedpExecutor) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	err := e.session.Run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return len(nodes), err
}

func (e *ChromedpExecutor) KeyPress(ctx context.Context, key string) error {
	code := key
	switch strings.ToLower(key) {
	case "arrowright", "right":
		code = kb.ArrowRight
	case "arrowleft", "left":
		code = kb.ArrowLeft
	case "arrowdown", "down":
		code = kb.ArrowDown
	case "escape", "esc":
		code = kb.Escape
	case "enter":
		code = kb.Enter
	}
	return e.session.Run(ctx, chromedp.KeyEvent(code))
}

func (e *ChromedpExecutor) ScrollToBottom(ctx context.Context) error {
	return e.session.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	)
}

func (e *ChromedpExecutor) WaitVisible(ctx context.Context, selector string) error {
	return e.session.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}
