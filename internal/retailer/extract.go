package retailer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// parseProduct reads product fields out of rendered HTML. Configured
// selectors win; schema.org JSON-LD fills whatever they left empty.
func parseProduct(cfg Config, html, location string) (variant.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return variant.Product{}, fmt.Errorf("parse html: %w: %w", variant.ErrIllFormatted, err)
	}

	p := variant.Product{
		URL:          location,
		Title:        selectText(doc, cfg.TitleSelector),
		Brand:        selectText(doc, cfg.BrandSelector),
		SKU:          selectValue(doc, cfg.SKUSelector, cfg.SKUAttribute),
		GTIN:         selectText(doc, cfg.GTINSelector),
		Price:        selectText(doc, cfg.PriceSelector),
		Currency:     cfg.Currency,
		Availability: selectText(doc, cfg.AvailabilitySelector),
		Description:  selectText(doc, cfg.DescriptionSelector),
		Images:       selectImages(doc, cfg.ImageSelector, cfg.imageAttribute(), location),
	}
	p.MPN = selectText(doc, cfg.MPNSelector)
	p.OriginalPrice = selectText(doc, cfg.OriginalPriceSelector)
	p.Specifications = selectSpecifications(doc, cfg)
	p.Reviews = selectReviews(doc, cfg.ReviewCountSelector, cfg.RatingSelector)
	p.CategoryTree = selectCategories(doc, cfg.BreadcrumbSelector, location)

	if ld, ok := findLDProduct(doc); ok {
		mergeLD(&p, ld, location)
	}
	if len(p.CategoryTree) == 0 {
		p.CategoryTree = findLDBreadcrumbs(doc, location)
	}
	normalizePrices(&p)
	return p, nil
}

// normalizePrices fills the minor-unit amounts and the discount flag. An
// original price only counts as a discount when it exceeds the price.
func normalizePrices(p *variant.Product) {
	p.PriceMinor, _ = parseMinorUnits(p.Price)
	p.OriginalPriceMinor, _ = parseMinorUnits(p.OriginalPrice)
	p.IsDiscounted = p.PriceMinor > 0 && p.OriginalPriceMinor > p.PriceMinor
}

func selectSpecifications(doc *goquery.Document, cfg Config) []variant.Specification {
	if cfg.SpecRowSelector == "" {
		return nil
	}
	keySel, valueSel := cfg.specCells()
	var specs []variant.Specification
	doc.Find(cfg.SpecRowSelector).Each(func(_ int, row *goquery.Selection) {
		key := collapseSpace(row.Find(keySel).First().Text())
		value := collapseSpace(row.Find(valueSel).First().Text())
		if key == "" || value == "" {
			return
		}
		specs = append(specs, variant.Specification{Key: key, Value: value})
	})
	return specs
}

func selectReviews(doc *goquery.Document, countSelector, ratingSelector string) *variant.Reviews {
	count, hasCount := parseCount(selectText(doc, countSelector))
	rating, hasRating := parseDecimal(selectText(doc, ratingSelector))
	if !hasCount && !hasRating {
		return nil
	}
	return &variant.Reviews{Count: count, Average: rating}
}

// selectCategories reads a breadcrumb trail. Each match is one level; its
// link is the element itself or the first anchor inside it.
func selectCategories(doc *goquery.Document, selector, base string) []variant.Category {
	if selector == "" {
		return nil
	}
	var tree []variant.Category
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		name := collapseSpace(s.Text())
		if name == "" {
			return
		}
		href, ok := s.Attr("href")
		if !ok {
			href = s.Find("a[href]").First().AttrOr("href", "")
		}
		tree = append(tree, variant.Category{Name: name, URL: resolveURL(base, strings.TrimSpace(href))})
	})
	return tree
}

func selectText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpace(doc.Find(selector).First().Text())
}

func selectValue(doc *goquery.Document, selector, attr string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if attr == "" {
		return collapseSpace(sel.Text())
	}
	return strings.TrimSpace(sel.AttrOr(attr, ""))
}

func selectImages(doc *goquery.Document, selector, attr, base string) []string {
	if selector == "" {
		return nil
	}
	var images []string
	seen := map[string]struct{}{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		src := resolveURL(base, strings.TrimSpace(s.AttrOr(attr, "")))
		if src == "" {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		images = append(images, src)
	})
	return images
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// ldProduct is the subset of a schema.org Product we read.
type ldProduct struct {
	Name           string
	Brand          string
	SKU            string
	GTIN           string
	MPN            string
	Specifications []variant.Specification
	Reviews        *variant.Reviews
	Description    string
	Images         []string
	Price          string
	Currency       string
	Availability   string
}

func findLDProduct(doc *goquery.Document) (ldProduct, bool) {
	var (
		found ldProduct
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if node := findTyped(raw, "Product"); node != nil {
			found, ok = decodeLD(node), true
			return false
		}
		return true
	})
	return found, ok
}

// findTyped searches objects, arrays and @graph containers for a node
// whose @type is typ.
func findTyped(raw any, typ string) map[string]any {
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if node := findTyped(item, typ); node != nil {
				return node
			}
		}
	case map[string]any:
		if hasType(v["@type"], typ) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findTyped(graph, typ)
		}
	}
	return nil
}

func hasType(raw any, typ string) bool {
	switch v := raw.(type) {
	case string:
		return v == typ
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == typ {
				return true
			}
		}
	}
	return false
}

func decodeLD(node map[string]any) ldProduct {
	p := ldProduct{
		Name:        str(node["name"]),
		SKU:         str(node["sku"]),
		MPN:         str(node["mpn"]),
		Description: collapseSpace(str(node["description"])),
		Images:      strs(node["image"]),
	}
	for _, key := range []string{"gtin13", "gtin", "gtin14", "gtin12", "gtin8"} {
		if g := str(node[key]); g != "" {
			p.GTIN = g
			break
		}
	}
	switch brand := node["brand"].(type) {
	case string:
		p.Brand = brand
	case map[string]any:
		p.Brand = str(brand["name"])
	}
	for _, prop := range anyList(node["additionalProperty"]) {
		m, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		key, value := str(m["name"]), str(m["value"])
		if key != "" && value != "" {
			p.Specifications = append(p.Specifications, variant.Specification{Key: key, Value: value})
		}
	}
	if rating, ok := node["aggregateRating"].(map[string]any); ok {
		count, hasCount := parseCount(str(rating["reviewCount"]))
		if !hasCount {
			count, hasCount = parseCount(str(rating["ratingCount"]))
		}
		avg, hasAvg := parseDecimal(str(rating["ratingValue"]))
		if hasCount || hasAvg {
			p.Reviews = &variant.Reviews{Count: count, Average: avg}
		}
	}
	offer := node["offers"]
	if list, ok := offer.([]any); ok && len(list) > 0 {
		offer = list[0]
	}
	if o, ok := offer.(map[string]any); ok {
		p.Price = str(o["price"])
		if p.Price == "" {
			p.Price = str(o["lowPrice"])
		}
		p.Currency = str(o["priceCurrency"])
		p.Availability = strings.TrimPrefix(strings.TrimPrefix(str(o["availability"]), "https://schema.org/"), "http://schema.org/")
	}
	return p
}

func str(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		if u, ok := v["url"]; ok {
			return str(u)
		}
	}
	return ""
}

func anyList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case nil:
		return nil
	default:
		return []any{v}
	}
}

// findLDBreadcrumbs reads the first schema.org BreadcrumbList, ordered by
// position.
func findLDBreadcrumbs(doc *goquery.Document, base string) []variant.Category {
	var tree []variant.Category
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		node := findTyped(raw, "BreadcrumbList")
		if node == nil {
			return true
		}
		tree = decodeBreadcrumbs(node, base)
		return len(tree) == 0
	})
	return tree
}

func decodeBreadcrumbs(node map[string]any, base string) []variant.Category {
	type level struct {
		pos int
		cat variant.Category
	}
	var levels []level
	for i, raw := range anyList(node["itemListElement"]) {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, link := str(el["name"]), ""
		switch item := el["item"].(type) {
		case string:
			link = item
		case map[string]any:
			link = str(item["@id"])
			if link == "" {
				link = str(item)
			}
			if name == "" {
				name = str(item["name"])
			}
		}
		if name == "" {
			continue
		}
		pos := i + 1
		if n, ok := el["position"].(float64); ok {
			pos = int(n)
		}
		levels = append(levels, level{pos: pos, cat: variant.Category{Name: name, URL: resolveURL(base, link)}})
	}
	sort.SliceStable(levels, func(a, b int) bool { return levels[a].pos < levels[b].pos })
	tree := make([]variant.Category, 0, len(levels))
	for _, l := range levels {
		tree = append(tree, l.cat)
	}
	return tree
}

func strs(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := str(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

func mergeLD(p *variant.Product, ld ldProduct, base string) {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&p.Title, ld.Name)
	fill(&p.Brand, ld.Brand)
	fill(&p.SKU, ld.SKU)
	fill(&p.GTIN, ld.GTIN)
	fill(&p.MPN, ld.MPN)
	fill(&p.Description, ld.Description)
	fill(&p.Price, ld.Price)
	fill(&p.Currency, ld.Currency)
	fill(&p.Availability, ld.Availability)
	if len(p.Specifications) == 0 {
		p.Specifications = ld.Specifications
	}
	if p.Reviews == nil {
		p.Reviews = ld.Reviews
	}
	if len(p.Images) == 0 {
		for _, img := range ld.Images {
			p.Images = append(p.Images, resolveURL(base, img))
		}
	}
}

func checkRequired(fields []string, p variant.Product) error {
	for _, field := range fields {
		var empty bool
		switch field {
		case "title":
			empty = p.Title == ""
		case "brand":
			empty = p.Brand == ""
		case "sku":
			empty = p.SKU == ""
		case "gtin":
			empty = p.GTIN == ""
		case "price":
			empty = p.Price == ""
		case "currency":
			empty = p.Currency == ""
		case "availability":
			empty = p.Availability == ""
		case "description":
			empty = p.Description == ""
		case "images":
			empty = len(p.Images) == 0
		case "mpn":
			empty = p.MPN == ""
		case "original_price":
			empty = p.OriginalPrice == ""
		case "specifications":
			empty = len(p.Specifications) == 0
		case "reviews":
			empty = p.Reviews == nil
		case "category_tree":
			empty = len(p.CategoryTree) == 0
		}
		if empty {
			return fmt.Errorf("%w: %s", variant.ErrMissingField, field)
		}
	}
	return nil
}
