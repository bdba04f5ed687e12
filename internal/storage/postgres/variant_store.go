package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// VariantStore inserts one row per emitted variant. Re-emitting the same
// (variant_group_url, variant) pair overwrites the row.
type VariantStore struct {
	db    DB
	table string
	query string
}

// NewVariantStore builds a store writing to table (default "variants").
func NewVariantStore(db DB, table string) (*VariantStore, error) {
	if db == nil {
		return nil, errors.New("postgres pool is required")
	}
	name, err := tableName(table, "variants")
	if err != nil {
		return nil, err
	}
	return &VariantStore{
		db:    db,
		table: name,
		query: fmt.Sprintf(`
INSERT INTO %s (
	variant_group_url,
	variant,
	selection_path,
	url,
	retailer_domain,
	session_id,
	sku,
	gtin,
	mpn,
	title,
	brand,
	price,
	price_minor,
	original_price,
	original_price_minor,
	is_discounted,
	currency,
	availability,
	images,
	attributes,
	details,
	fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
ON CONFLICT (variant_group_url, variant) DO UPDATE SET
	selection_path = EXCLUDED.selection_path,
	url = EXCLUDED.url,
	session_id = EXCLUDED.session_id,
	sku = EXCLUDED.sku,
	price = EXCLUDED.price,
	price_minor = EXCLUDED.price_minor,
	original_price = EXCLUDED.original_price,
	original_price_minor = EXCLUDED.original_price_minor,
	is_discounted = EXCLUDED.is_discounted,
	availability = EXCLUDED.availability,
	fetched_at = EXCLUDED.fetched_at`, name),
	}, nil
}

// InsertVariant writes rec.
func (s *VariantStore) InsertVariant(ctx context.Context, rec variant.Record) error {
	if rec.VariantGroupURL == "" {
		return errors.New("variant group url is required")
	}
	images, err := json.Marshal(nonNil(rec.Images))
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	details, err := json.Marshal(productDetails{
		Specifications: nonNil(rec.Specifications),
		Reviews:        rec.Reviews,
		CategoryTree:   nonNil(rec.CategoryTree),
	})
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	path := make([]int32, len(rec.Path))
	for i, p := range rec.Path {
		path[i] = int32(p)
	}
	_, err = s.db.Exec(ctx, s.query,
		rec.VariantGroupURL,
		rec.Variant,
		path,
		rec.URL,
		rec.RetailerDomain,
		rec.SessionID,
		rec.SKU,
		rec.GTIN,
		rec.MPN,
		rec.Title,
		rec.Brand,
		rec.Price,
		rec.PriceMinor,
		rec.OriginalPrice,
		rec.OriginalPriceMinor,
		rec.IsDiscounted,
		rec.Currency,
		rec.Availability,
		images,
		attrs,
		details,
		rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert variant into %s: %w", s.table, err)
	}
	return nil
}

// Close closes the pool.
func (s *VariantStore) Close() {
	s.db.Close()
}

// productDetails is the jsonb column for the nested product fields.
type productDetails struct {
	Specifications []variant.Specification `json:"specifications"`
	Reviews        *variant.Reviews        `json:"reviews,omitempty"`
	CategoryTree   []variant.Category      `json:"category_tree"`
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
