// Package crawler defines core types shared across subsystems.
package crawler

import "time"

// ProductRequest asks for the variants of one product page.
type ProductRequest struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	GroupURL  string    `json:"group_url,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Attempt   int       `json:"attempt"`
	Submitted time.Time `json:"submitted_at"`
}

// VariantGroupURL is the identifier shared by every record of the product.
// It defaults to the request URL.
func (r ProductRequest) VariantGroupURL() string {
	if r.GroupURL != "" {
		return r.GroupURL
	}
	return r.URL
}

// ProductStatus is the terminal state of one product request.
type ProductStatus string

// Product status values.
const (
	ProductStatusDone          ProductStatus = "done"
	ProductStatusFailed        ProductStatus = "failed"
	ProductStatusSessionBurned ProductStatus = "session_burned"
	ProductStatusUnsupported   ProductStatus = "unsupported"
)

// ProductOutcome summarises how a product request ended.
type ProductOutcome struct {
	RequestID string        `json:"request_id"`
	URL       string        `json:"url"`
	Retailer  string        `json:"retailer,omitempty"`
	Status    ProductStatus `json:"status"`
	Emitted   int           `json:"emitted"`
	Skipped   int           `json:"skipped"`
	Truncated bool          `json:"truncated,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}
