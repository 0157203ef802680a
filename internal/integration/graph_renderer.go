package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// SnapshotRenderer captures a pass preview page as an image. The download
// engine only needs this narrow capability; how the pixels are produced is
// the implementation's business.
type SnapshotRenderer interface {
	RenderSnapshot(ctx context.Context, pageURL string) ([]byte, error)
}

// Graph pages on the portal fit a fixed viewport; the chart script needs a
// short settle delay after load before the canvas is painted.
const (
	graphViewportWidth  = 620
	graphViewportHeight = 680
	graphSettleDelay    = 500 * time.Millisecond
)

// ChromeSnapshotRenderer drives a headless Chrome instance to screenshot
// pass preview pages.
type ChromeSnapshotRenderer struct {
	navigateTimeout time.Duration
}

// NewChromeSnapshotRenderer creates a renderer with a 30s page load limit.
func NewChromeSnapshotRenderer() *ChromeSnapshotRenderer {
	return &ChromeSnapshotRenderer{navigateTimeout: 30 * time.Second}
}

// RenderSnapshot loads pageURL in a fresh browser context and returns a PNG
// of the viewport.
func (r *ChromeSnapshotRenderer) RenderSnapshot(ctx context.Context, pageURL string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, r.navigateTimeout)
	defer cancelRun()

	var img []byte
	err := chromedp.Run(runCtx,
		chromedp.EmulateViewport(graphViewportWidth, graphViewportHeight),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(graphSettleDelay),
		chromedp.CaptureScreenshot(&img),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot %s: %w", pageURL, err)
	}
	return img, nil
}
