package retailer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Assert checks that the freshly opened page is the product page and not a
// missing-product redirect or an anti-bot wall.
func (b *Bound) Assert(ctx context.Context) error {
	switch status := b.page.StatusCode(); status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %w", status, variant.ErrCaptcha)
	case http.StatusForbidden:
		return fmt.Errorf("status %d: %w", status, variant.ErrBlocked)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("status %d: %w", status, variant.ErrNotFound)
	}

	location, err := b.page.Location(ctx)
	if err != nil {
		return fmt.Errorf("assert page: %w", err)
	}
	if pattern, ok := containsAny(location, b.cfg.CaptchaURLPatterns); ok {
		return fmt.Errorf("url %s matches %q: %w", location, pattern, variant.ErrCaptcha)
	}
	if pattern, ok := containsAny(location, b.cfg.BlockedURLPatterns); ok {
		return fmt.Errorf("url %s matches %q: %w", location, pattern, variant.ErrBlocked)
	}
	if b.cfg.RequiredPathSubstring != "" && !strings.Contains(location, b.cfg.RequiredPathSubstring) {
		return fmt.Errorf("url %s is not a product page: %w", location, variant.ErrNotFound)
	}

	if len(b.cfg.CaptchaSelectors) > 0 {
		var found bool
		if err := b.page.Eval(ctx, anyExistsScript(b.cfg.CaptchaSelectors), &found); err != nil {
			return fmt.Errorf("assert page: %w", err)
		}
		if found {
			return fmt.Errorf("captcha element present: %w", variant.ErrCaptcha)
		}
	}
	if len(b.cfg.BlockedSelectors) > 0 {
		var found bool
		if err := b.page.Eval(ctx, anyExistsScript(b.cfg.BlockedSelectors), &found); err != nil {
			return fmt.Errorf("assert page: %w", err)
		}
		if found {
			return fmt.Errorf("block element present: %w", variant.ErrBlocked)
		}
	}
	return nil
}

func containsAny(s string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
}
