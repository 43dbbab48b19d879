// Package identity derives content-based identity keys and change-detection
// fingerprints for task records.
//
// Two different digests with two different jobs:
//
//   - Signature: identity. Two records with equal signatures denote the same
//     real-world task regardless of store or local ID. Collisions across
//     genuinely different tasks are an accepted risk (false-merge is
//     preferred over false-duplicate for the intended use).
//   - Fingerprint: change detection. A cheap "has anything changed since the
//     last pass" check. Never used for identity.
package identity

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/taskmirror/taskmirror/internal/task"
)

// Sig is a content-derived identity key, independent of any store-assigned
// identifier.
type Sig [32]byte

func (s Sig) String() string { return hex.EncodeToString(s[:]) }

// FP is a content hash used for cheap change detection.
type FP [32]byte

func (f FP) String() string { return hex.EncodeToString(f[:]) }

// ParseSig decodes a hex-encoded signature. Used by the ledger when reading
// persisted entries.
func ParseSig(s string) (Sig, bool) {
	var sig Sig
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(sig) {
		return Sig{}, false
	}
	copy(sig[:], b)
	return sig, true
}

// ParseFP decodes a hex-encoded fingerprint.
func ParseFP(s string) (FP, bool) {
	var fp FP
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(fp) {
		return FP{}, false
	}
	copy(fp[:], b)
	return fp, true
}

// fieldSep keeps adjacent fields from bleeding into each other
// ("ab"+"c" vs "a"+"bc").
const fieldSep = "\x1f"

// Signature computes the identity digest from the four identity-bearing
// inputs. Pure and deterministic; case- and whitespace-insensitive on text
// fields; missing optional inputs are empty strings.
//
// The stable date is reduced to its UTC calendar day so that stores with
// different sub-day timestamp precision still agree on identity.
func Signature(title, body string, stableDate time.Time, status task.Status) Sig {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(title)))
	b.WriteString(fieldSep)
	b.WriteString(strings.ToLower(strings.TrimSpace(body)))
	b.WriteString(fieldSep)
	if !stableDate.IsZero() {
		b.WriteString(stableDate.UTC().Format("2006-01-02"))
	}
	b.WriteString(fieldSep)
	b.WriteString(strings.ToLower(string(status)))
	return blake3.Sum256([]byte(b.String()))
}

// TaskSignature computes the signature for a record, picking the stable date
// (creation time preferred over due time) and concatenating description and
// notes.
func TaskSignature(t task.Task) Sig {
	return Signature(t.Title, t.Body(), t.StableDate(), t.Status)
}

// Fingerprint computes the change-detection digest over the mutable content
// fields. Store management metadata is excluded: local ID, cloud ID,
// last-synced time, sync-version counter, and the originating-store tag.
// The modification timestamp is also excluded so that replicating identical
// content with a store-assigned write time does not register as a change.
func Fingerprint(t task.Task) FP {
	var b strings.Builder
	b.WriteString(t.Title)
	b.WriteString(fieldSep)
	b.WriteString(t.Description)
	b.WriteString(fieldSep)
	b.WriteString(t.Notes)
	b.WriteString(fieldSep)
	b.WriteString(string(t.Status))
	b.WriteString(fieldSep)
	if due := t.DueUTC(); due != nil {
		b.WriteString(due.Format(time.RFC3339))
	}
	return blake3.Sum256([]byte(b.String()))
}
