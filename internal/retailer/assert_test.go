package retailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

func TestBound_Assert(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Domain:                "shop.test",
		RequiredPathSubstring: "/pdp/",
		CaptchaURLPatterns:    []string{"/v/captcha"},
		BlockedURLPatterns:    []string{"blocked.php"},
		CaptchaSelectors:      []string{"#px-captcha", `iframe[title="reCAPTCHA"]`},
		BlockedSelectors:      []string{".access-denied"},
	}

	tests := []struct {
		name    string
		page    *fakePage
		wantErr error
	}{
		{
			name: "healthy product page",
			page: &fakePage{location: "https://shop.test/pdp/lamp", answers: map[string]any{"some": false}},
		},
		{
			name:    "429 means captcha",
			page:    &fakePage{status: 429, location: "https://shop.test/pdp/lamp"},
			wantErr: variant.ErrCaptcha,
		},
		{
			name:    "403 means blocked",
			page:    &fakePage{status: 403, location: "https://shop.test/pdp/lamp"},
			wantErr: variant.ErrBlocked,
		},
		{
			name:    "404 means not found",
			page:    &fakePage{status: 404, location: "https://shop.test/pdp/lamp"},
			wantErr: variant.ErrNotFound,
		},
		{
			name:    "captcha redirect",
			page:    &fakePage{location: "https://shop.test/v/captcha?goto=/pdp/lamp"},
			wantErr: variant.ErrCaptcha,
		},
		{
			name:    "blocked redirect",
			page:    &fakePage{location: "https://shop.test/blocked.php"},
			wantErr: variant.ErrBlocked,
		},
		{
			name:    "redirect away from product",
			page:    &fakePage{location: "https://shop.test/category/lamps"},
			wantErr: variant.ErrNotFound,
		},
		{
			name:    "captcha element",
			page:    &fakePage{location: "https://shop.test/pdp/lamp", answers: map[string]any{"#px-captcha": true}},
			wantErr: variant.ErrCaptcha,
		},
		{
			name:    "block element",
			page:    &fakePage{location: "https://shop.test/pdp/lamp", answers: map[string]any{".access-denied": true}},
			wantErr: variant.ErrBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := bind(t, cfg, tt.page).Assert(context.Background())
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
