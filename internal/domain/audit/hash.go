package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// GenesisPrevHash seeds each tenant's chain.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// StableJSON serializes a value with lexicographically sorted object keys so
// the same logical payload always hashes identically. Numbers are rendered
// the way encoding/json renders them; NaN and infinities are rejected.
func StableJSON(v any) (string, error) {
	var b strings.Builder
	if err := writeStable(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeStable(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(enc)
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("stable json: non-finite number")
		}
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(enc)
	case json.Number:
		b.WriteString(val.String())
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeStable(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeStable(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeStable(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		// Structs and other composites: round-trip through encoding/json
		// into the canonical shapes above.
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		return writeStable(b, generic)
	}
	return nil
}

// ComputeHash produces the entry hash: sha256 over the tenant, sequence
// number, previous hash, event type, and the canonical JSON of the payload,
// separated by newlines.
func ComputeHash(tenantID string, seq int64, prevHash, eventType string, data map[string]any) (string, error) {
	canonical, err := StableJSON(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit data: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n%s\n%s\n%s", tenantID, seq, prevHash, eventType, canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyEntries walks a tenant's entries in sequence order and recomputes
// every hash and link. Entries must be the full chain starting at seq 1.
func VerifyEntries(tenantID string, entries []Entry) *VerifyResult {
	res := &VerifyResult{Verified: true, Entries: int64(len(entries))}
	prev := GenesisPrevHash
	for i, e := range entries {
		wantSeq := int64(i + 1)
		if e.Seq != wantSeq || e.PrevHash != prev {
			res.Verified = false
			res.FirstBadSeq = e.Seq
			return res
		}
		hash, err := ComputeHash(tenantID, e.Seq, e.PrevHash, e.EventType, e.Data)
		if err != nil || hash != e.Hash {
			res.Verified = false
			res.FirstBadSeq = e.Seq
			return res
		}
		prev = e.Hash
	}
	return res
}
