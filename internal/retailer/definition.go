package retailer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Page is the browser tab a definition is bound to.
type Page interface {
	Eval(ctx context.Context, expression string, out any) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	StatusCode() int
}

// Definition is a validated retailer layout.
type Definition struct {
	cfg Config
}

// NewDefinition validates cfg.
func NewDefinition(cfg Config) (*Definition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retailer config: %w", err)
	}
	return &Definition{cfg: cfg}, nil
}

// Domain returns the retailer domain.
func (d *Definition) Domain() string {
	return d.cfg.Domain
}

// Config returns a copy of the layout.
func (d *Definition) Config() Config {
	return d.cfg
}

// Bind attaches the definition to an open page.
func (d *Definition) Bind(page Page) *Bound {
	return &Bound{cfg: d.cfg, page: page}
}

// Bound drives one page. It implements variant.Strategy and
// variant.InvalidChecker.
type Bound struct {
	cfg  Config
	page Page
}

var (
	_ variant.Strategy       = (*Bound)(nil)
	_ variant.InvalidChecker = (*Bound)(nil)
)

// OptionsCount implements variant.Provider.
func (b *Bound) OptionsCount(ctx context.Context, param int) (int, error) {
	if b.cfg.ParameterSelector == "" {
		return 0, nil
	}
	if b.cfg.MaxParameters > 0 && param >= b.cfg.MaxParameters {
		return 0, nil
	}
	var count int
	if err := b.page.Eval(ctx, b.cfg.countScript(param), &count); err != nil {
		return 0, fmt.Errorf("count options of parameter %d: %w", param, err)
	}
	return count, nil
}

// HasDefaultSelection implements variant.Provider.
func (b *Bound) HasDefaultSelection(ctx context.Context, param int) (bool, error) {
	if b.cfg.DefaultSelected {
		return true, nil
	}
	var selected bool
	if err := b.page.Eval(ctx, b.cfg.hasSelectionScript(param), &selected); err != nil {
		return false, fmt.Errorf("read selection of parameter %d: %w", param, err)
	}
	return selected, nil
}

// Select implements variant.Provider. A control that vanished between
// counting and clicking is reported as flaky so the walker retries it.
func (b *Bound) Select(ctx context.Context, param, option int) error {
	var result string
	if err := b.page.Eval(ctx, b.cfg.selectScript(param, option), &result); err != nil {
		return fmt.Errorf("select option %d of parameter %d: %w", option, param, err)
	}
	switch result {
	case selectOK:
		return nil
	case selectMissingParam, selectMissingOption:
		return fmt.Errorf("select option %d of parameter %d: %s: %w", option, param, result, variant.ErrFlaky)
	default:
		return fmt.Errorf("select option %d of parameter %d: %s", option, param, result)
	}
}

// IsInvalidCombination implements variant.InvalidChecker.
func (b *Bound) IsInvalidCombination(ctx context.Context, _ variant.SelectionPath) (bool, error) {
	if b.cfg.InvalidSelector == "" {
		return false, nil
	}
	var invalid bool
	if err := b.page.Eval(ctx, existsScript(b.cfg.InvalidSelector), &invalid); err != nil {
		return false, fmt.Errorf("check invalid combination: %w", err)
	}
	return invalid, nil
}

// CaptureState reads the page fingerprint: the SKU when visible, else price
// and images. Anti-bot markers surface as errors here so that they are
// noticed in the middle of an exploration.
func (b *Bound) CaptureState(ctx context.Context) (variant.Snapshot, error) {
	var state pageState
	if err := b.page.Eval(ctx, b.cfg.stateScript(), &state); err != nil {
		return "", fmt.Errorf("read page state: %w", err)
	}
	switch {
	case state.Captcha:
		return "", fmt.Errorf("captcha marker on page: %w", variant.ErrCaptcha)
	case state.Blocked:
		return "", fmt.Errorf("block marker on page: %w", variant.ErrBlocked)
	}
	if snap := variant.SKUSnapshot(state.SKU); !snap.IsZero() {
		return snap, nil
	}
	return variant.ContentSnapshot(state.Price, state.Images...), nil
}

// Extract implements variant.Extractor.
func (b *Bound) Extract(ctx context.Context) (variant.Product, error) {
	html, err := b.page.HTML(ctx)
	if err != nil {
		return variant.Product{}, err
	}
	location, err := b.page.Location(ctx)
	if err != nil {
		return variant.Product{}, err
	}
	product, err := parseProduct(b.cfg, html, location)
	if err != nil {
		return variant.Product{}, err
	}
	if b.cfg.ParameterSelector != "" {
		attrs := map[string]string{}
		if err := b.page.Eval(ctx, b.cfg.attributesScript(), &attrs); err != nil {
			return variant.Product{}, fmt.Errorf("read selected options: %w", err)
		}
		if len(attrs) > 0 {
			product.Attributes = attrs
		}
	}
	product.URL = variantURL(location, b.cfg.VariantURLParam, product.SKU)
	if err := checkRequired(b.cfg.RequiredFields, product); err != nil {
		return variant.Product{}, err
	}
	return product, nil
}

// variantURL addresses a single variant as location?param=sku when the
// retailer supports it.
func variantURL(location, param, sku string) string {
	if param == "" || sku == "" {
		return location
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return location
	}
	q := parsed.Query()
	q.Set(param, sku)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
