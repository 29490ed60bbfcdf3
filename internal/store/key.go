package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/crawlkit/prodstore/pkg/model"
	"github.com/google/uuid"
)

// Fingerprint computes the duplicate-detection key of a record. Two records
// representing the same source item share a fingerprint; a save whose
// fingerprint matches an existing record fails with ErrDuplicateProduct.
//
// The rule is the normalized title plus the source URL: lower-cased, trimmed
// title joined with the URL and hashed.
func Fingerprint(rec *model.Record) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(rec.Title)) + "\n" + rec.URL))
	return hex.EncodeToString(sum[:])
}

// idGenerator assigns record IDs. In generated mode every record gets a fresh
// UUID; otherwise a deterministic ID is derived from the record's natural
// identifiers so repeated extractions of the same item map to the same ID.
type idGenerator struct {
	useGenerated bool
}

func (g idGenerator) nextID(rec *model.Record) string {
	if g.useGenerated {
		return uuid.NewString()
	}
	return naturalID(rec)
}

// uniqueID derives an ID that is absent from the issued set. Generated UUIDs
// never collide in practice; natural IDs get a numeric suffix when an earlier
// record, including a deleted one, already claimed the base ID. IDs are never
// reused within a store lifetime.
func uniqueID(g idGenerator, issued map[string]struct{}, rec *model.Record) string {
	id := g.nextID(rec)
	if _, taken := issued[id]; !taken {
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, taken := issued[candidate]; !taken {
			return candidate
		}
	}
}

// naturalID derives a stable ID from the strongest identifier the record
// carries: SKU, brand+MPN, a trade item number, the URL, or the title.
func naturalID(rec *model.Record) string {
	if rec.SKU != "" {
		return "sku_" + sanitizeID(rec.SKU)
	}
	if rec.Brand != "" && rec.MPN != "" {
		return sanitizeID(rec.Brand) + "_" + sanitizeID(rec.MPN)
	}
	for _, id := range []struct{ kind, value string }{
		{"gtin", rec.GTIN},
		{"upc", rec.UPC},
		{"ean", rec.EAN},
	} {
		if id.value != "" {
			return id.kind + "_" + sanitizeID(id.value)
		}
	}
	if rec.URL != "" {
		sum := sha256.Sum256([]byte(rec.URL))
		return fmt.Sprintf("url_%s", hex.EncodeToString(sum[:8]))
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(rec.Title)) + "\n" + rec.Brand))
	return fmt.Sprintf("product_%s", hex.EncodeToString(sum[:8]))
}

// sanitizeID keeps natural-key IDs filesystem- and URL-safe.
func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
