package validator

import (
	"context"

	"github.com/chromedp/chromedp"

	"fetchbroker/internal/browserpool"
)

// defaultNavigateAndRead navigates the instance to target and returns the
// rendered page source: the live outer HTML of the document, standing in
// for the original implementation's page_source.
func defaultNavigateAndRead(ctx context.Context, inst *browserpool.Instance, target string) (string, error) {
	var html string
	err := chromedp.Run(ctx,
		chromedp.Navigate(target),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
