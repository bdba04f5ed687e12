package worker

import (
	"context"

	"github.com/JakeFAU/retail-variant-crawler/internal/browser"
	"github.com/JakeFAU/retail-variant-crawler/internal/retailer"
)

// Tab is an open product page.
type Tab interface {
	retailer.Page
	Close()
}

// Session is the browsing identity a worker explores through.
type Session interface {
	Open(ctx context.Context, url string) (Tab, error)
	// Rotate replaces the session, avoiding proxies for which skip is true.
	Rotate(skip func(proxy string) bool) error
	Proxy() string
	SessionID() string
}

// BrowserSession adapts *browser.Browser to Session.
type BrowserSession struct {
	*browser.Browser
}

// Open opens url in a new tab.
func (s BrowserSession) Open(ctx context.Context, url string) (Tab, error) {
	tab, err := s.OpenTab(ctx, url)
	if err != nil {
		return nil, err
	}
	return tab, nil
}
