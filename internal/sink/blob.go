package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/hash/sha256"
	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

const groupHashLen = 16

// BlobSink writes one JSON document per record to a blob store.
type BlobSink struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
}

// NewBlobSink wraps store. A nil hasher uses SHA-256.
func NewBlobSink(store crawler.BlobStore, hasher crawler.Hasher) (*BlobSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	return &BlobSink{store: store, hasher: hasher}, nil
}

// Key returns <retailer>/<yyyy-mm-dd>/<group-hash>/<variant>.json.
func (s *BlobSink) Key(record variant.Record) (string, error) {
	digest, err := s.hasher.Hash([]byte(record.VariantGroupURL))
	if err != nil {
		return "", fmt.Errorf("hash group url: %w", err)
	}
	if len(digest) > groupHashLen {
		digest = digest[:groupHashLen]
	}
	retailer := record.RetailerDomain
	if retailer == "" {
		retailer = "unknown"
	}
	return retailer + "/" +
		record.FetchedAt.UTC().Format("2006-01-02") + "/" +
		digest + "/" +
		strconv.Itoa(record.Variant) + ".json", nil
}

// Push implements variant.Sink.
func (s *BlobSink) Push(ctx context.Context, record variant.Record) (err error) {
	defer func() { metrics.ObserveRecordWrite("blob", err) }()

	key, err := s.Key(record)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.store.PutObject(ctx, key, "application/json", bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
