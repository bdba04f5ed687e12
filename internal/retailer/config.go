// Package retailer turns per-site selector configuration into strategies the
// variant explorer can drive. Each retailer is data, not code: a Config
// names the CSS selectors for selection controls, fingerprint fields and
// product fields, plus the URL and DOM markers of anti-bot pages.
package retailer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config describes one retailer layout.
type Config struct {
	Domain string `mapstructure:"domain"`

	// Selection controls. Each element matched by ParameterSelector is one
	// parameter; its options are the <option>s of a <select> or the
	// elements matched by OptionSelector inside it.
	ParameterSelector string `mapstructure:"parameter_selector"`
	OptionSelector    string `mapstructure:"option_selector"`
	SelectedSelector  string `mapstructure:"selected_selector"`
	DefaultSelected   bool   `mapstructure:"default_selected"`
	InvalidSelector   string `mapstructure:"invalid_selector"`
	MaxParameters     int    `mapstructure:"max_parameters"`

	// Fingerprint and product fields.
	SKUSelector           string   `mapstructure:"sku_selector"`
	SKUAttribute          string   `mapstructure:"sku_attribute"`
	PriceSelector         string   `mapstructure:"price_selector"`
	ImageSelector         string   `mapstructure:"image_selector"`
	ImageAttribute        string   `mapstructure:"image_attribute"`
	TitleSelector         string   `mapstructure:"title_selector"`
	BrandSelector         string   `mapstructure:"brand_selector"`
	DescriptionSelector   string   `mapstructure:"description_selector"`
	AvailabilitySelector  string   `mapstructure:"availability_selector"`
	GTINSelector          string   `mapstructure:"gtin_selector"`
	MPNSelector           string   `mapstructure:"mpn_selector"`
	OriginalPriceSelector string   `mapstructure:"original_price_selector"`
	ReviewCountSelector   string   `mapstructure:"review_count_selector"`
	RatingSelector        string   `mapstructure:"rating_selector"`
	BreadcrumbSelector    string   `mapstructure:"breadcrumb_selector"`
	Currency              string   `mapstructure:"currency"`
	RequiredFields        []string `mapstructure:"required_fields"`
	VariantURLParam       string   `mapstructure:"variant_url_param"`

	// Specification table. Each SpecRowSelector match is one row; key and
	// value default to th/dt and td/dd cells inside it.
	SpecRowSelector   string `mapstructure:"spec_row_selector"`
	SpecKeySelector   string `mapstructure:"spec_key_selector"`
	SpecValueSelector string `mapstructure:"spec_value_selector"`

	// Page assertions.
	RequiredPathSubstring string   `mapstructure:"required_path_substring"`
	CaptchaURLPatterns    []string `mapstructure:"captcha_url_patterns"`
	BlockedURLPatterns    []string `mapstructure:"blocked_url_patterns"`
	CaptchaSelectors      []string `mapstructure:"captcha_selectors"`
	BlockedSelectors      []string `mapstructure:"blocked_selectors"`

	// Per-retailer exploration overrides. Zero keeps the global setting.
	Limit         int           `mapstructure:"limit"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	RetryBudget   int           `mapstructure:"retry_budget"`
}

var knownFields = map[string]struct{}{
	"title": {}, "brand": {}, "sku": {}, "gtin": {}, "price": {},
	"currency": {}, "availability": {}, "description": {}, "images": {},
	"mpn": {}, "original_price": {}, "specifications": {}, "reviews": {},
	"category_tree": {},
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return errors.New("domain is required")
	}
	if c.MaxParameters < 0 {
		return fmt.Errorf("%s: max_parameters must be >= 0", c.Domain)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%s: limit must be >= 0", c.Domain)
	}
	if c.OptionSelector != "" && c.ParameterSelector == "" {
		return fmt.Errorf("%s: option_selector requires parameter_selector", c.Domain)
	}
	if c.SKUSelector == "" && c.PriceSelector == "" && c.ImageSelector == "" && c.ParameterSelector != "" {
		return fmt.Errorf("%s: variants need sku_selector, price_selector or image_selector to fingerprint state", c.Domain)
	}
	if (c.SpecKeySelector != "" || c.SpecValueSelector != "") && c.SpecRowSelector == "" {
		return fmt.Errorf("%s: spec_key_selector and spec_value_selector require spec_row_selector", c.Domain)
	}
	for _, field := range c.RequiredFields {
		if _, ok := knownFields[field]; !ok {
			return fmt.Errorf("%s: unknown required field %q", c.Domain, field)
		}
	}
	return nil
}

func (c Config) specCells() (key, value string) {
	key, value = c.SpecKeySelector, c.SpecValueSelector
	if key == "" {
		key = "th, dt"
	}
	if value == "" {
		value = "td, dd"
	}
	return key, value
}

func (c Config) imageAttribute() string {
	if c.ImageAttribute == "" {
		return "src"
	}
	return c.ImageAttribute
}
