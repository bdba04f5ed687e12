package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a milestone in the life of one product request.
type Stage string

// Product lifecycle stages.
const (
	StageProductStart   Stage = "PRODUCT_START"
	StageVariantEmitted Stage = "VARIANT_EMITTED"
	StageVariantSkipped Stage = "VARIANT_SKIPPED"
	StageProductDone    Stage = "PRODUCT_DONE"
	StageProductError   Stage = "PRODUCT_ERROR"
	StageSessionBurned  Stage = "SESSION_BURNED"
)

// Terminal reports whether the stage closes out a product request.
func (s Stage) Terminal() bool {
	return s == StageProductDone || s == StageProductError
}

// Event is one progress observation.
type Event struct {
	// RequestID is the product request id in 16-byte UUID form.
	RequestID [16]byte
	TS        time.Time
	Stage     Stage
	// Site is the retailer domain.
	Site string
	URL  string
	// Variant is the record's variant number for VARIANT_EMITTED.
	Variant int
	// Emitted and Skipped carry totals on terminal events.
	Emitted int
	Skipped int
	// Class is the failure class for VARIANT_SKIPPED and PRODUCT_ERROR.
	Class string
	Dur   time.Duration
	// Note holds low-volume context such as error text or the burned proxy.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.RequestID == [16]byte{} {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageProductStart, StageProductDone, StageProductError:
	case StageVariantEmitted:
		if e.Variant < 0 {
			return errors.New("variant number must be >= 0")
		}
	case StageVariantSkipped:
		if e.Class == "" {
			return errors.New("variant skipped requires a class")
		}
	case StageSessionBurned:
		if e.Site == "" {
			return errors.New("session burned requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Emitted < 0 || e.Skipped < 0 {
		return errors.New("durations and counts must be >= 0")
	}
	return nil
}

// RequestUUID returns the request id as a uuid.UUID.
func (e Event) RequestUUID() uuid.UUID {
	return uuid.UUID(e.RequestID)
}

// RequestIDFrom converts a request id string into event form. Ids that are
// not UUIDs map to a stable name-based UUID so events still correlate.
func RequestIDFrom(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		parsed = uuid.NewSHA1(uuid.NameSpaceURL, []byte(id))
	}
	return [16]byte(parsed)
}
