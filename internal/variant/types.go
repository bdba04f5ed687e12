package variant

import (
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/retail-variant-crawler/internal/hash/sha256"
)

// SelectionPath addresses a point in variant space: one option index per
// parameter index, from parameter 0 up to the current depth.
type SelectionPath []int

// Append returns a new path with option appended. The receiver is not modified.
func (p SelectionPath) Append(option int) SelectionPath {
	out := make(SelectionPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, option)
}

// Clone returns a copy that does not share storage with p.
func (p SelectionPath) Clone() SelectionPath {
	if p == nil {
		return nil
	}
	out := make(SelectionPath, len(p))
	copy(out, p)
	return out
}

// String renders the path as "[0,1,2]".
func (p SelectionPath) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Snapshot is a comparable fingerprint of what the page currently shows.
// Equal snapshots are treated as the same underlying variant.
type Snapshot string

// IsZero reports whether the snapshot carries no fingerprint.
func (s Snapshot) IsZero() bool {
	return s == ""
}

// SKUSnapshot fingerprints a page by its visible article number.
func SKUSnapshot(sku string) Snapshot {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return ""
	}
	return Snapshot("sku:" + sku)
}

// ContentSnapshot fingerprints a page that has no stable identifier by its
// price and image set.
func ContentSnapshot(price string, images ...string) Snapshot {
	price = strings.TrimSpace(price)
	if price == "" && len(images) == 0 {
		return ""
	}
	parts := append([]string{price, strconv.Itoa(len(images))}, images...)
	return Snapshot("content:" + sha256.Fields(parts...)[:32])
}

// PathSnapshot is the fallback fingerprint for pages that expose nothing
// comparable; every path is then its own variant.
func PathSnapshot(path SelectionPath) Snapshot {
	return Snapshot("path:" + path.String())
}

// Product holds the fields a retailer extractor reads off a resolved page.
// Price and OriginalPrice keep the page text; the Minor fields carry the
// same amounts in minor currency units (cents, öre) when they parse.
type Product struct {
	URL                string            `json:"url"`
	Title              string            `json:"title,omitempty"`
	Brand              string            `json:"brand,omitempty"`
	SKU                string            `json:"sku,omitempty"`
	GTIN               string            `json:"gtin,omitempty"`
	MPN                string            `json:"mpn,omitempty"`
	Price              string            `json:"price,omitempty"`
	PriceMinor         int64             `json:"price_minor,omitempty"`
	OriginalPrice      string            `json:"original_price,omitempty"`
	OriginalPriceMinor int64             `json:"original_price_minor,omitempty"`
	IsDiscounted       bool              `json:"is_discounted"`
	Currency           string            `json:"currency,omitempty"`
	Availability       string            `json:"availability,omitempty"`
	Description        string            `json:"description,omitempty"`
	Images             []string          `json:"images,omitempty"`
	Specifications     []Specification   `json:"specifications,omitempty"`
	Reviews            *Reviews          `json:"reviews,omitempty"`
	CategoryTree       []Category        `json:"category_tree,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty"`
}

// Specification is one row of a product's technical details table.
type Specification struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Reviews summarises the rating widget. Nil means the page shows none.
type Reviews struct {
	Count   int     `json:"review_count"`
	Average float64 `json:"average_review"`
}

// Category is one breadcrumb level, outermost first.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Record is one emitted variant. It is never mutated after creation.
type Record struct {
	Product
	VariantGroupURL string        `json:"variant_group_url"`
	Variant         int           `json:"variant"`
	Path            SelectionPath `json:"selection_path"`
	FetchedAt       time.Time     `json:"fetched_at"`
	RetailerDomain  string        `json:"retailer_domain,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
}

// MessageKey routes every variant of a product to the same partition.
func (r Record) MessageKey() string {
	return r.VariantGroupURL
}

// MessageAttributes are the record's routing attributes for publishers.
func (r Record) MessageAttributes() map[string]string {
	attrs := map[string]string{
		"variant_group_url": r.VariantGroupURL,
		"variant":           strconv.Itoa(r.Variant),
	}
	if r.RetailerDomain != "" {
		attrs["retailer"] = r.RetailerDomain
	}
	if r.SKU != "" {
		attrs["sku"] = r.SKU
	}
	return attrs
}
