package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

const (
	fnvOffset32 uint32 = 2166136261
	fnvPrime32  uint32 = 16777619
)

// SnapshotHashPayload is the canonical content covered by a snapshot hash.
// Field order is part of the hash.
type SnapshotHashPayload struct {
	OrgID                 string   `json:"orgId"`
	FrameworkCode         string   `json:"frameworkCode"`
	Score                 int      `json:"score"`
	EvaluatedAt           string   `json:"evaluatedAt"`
	MissingMandatoryCodes []string `json:"missingMandatoryCodes"`
}

// SnapshotHash returns fnv1a_<hex> over the canonical JSON of p
func SnapshotHash(p SnapshotHashPayload) string {
	if p.MissingMandatoryCodes == nil {
		p.MissingMandatoryCodes = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding a struct of strings, ints and a string slice cannot fail
	_ = enc.Encode(p)
	return StableHash(string(bytes.TrimRight(buf.Bytes(), "\n")))
}

// StableHash is 32-bit FNV-1a over the UTF-16 code units of s
func StableHash(s string) string {
	h := fnvOffset32
	for _, unit := range utf16.Encode([]rune(s)) {
		h ^= uint32(unit)
		h *= fnvPrime32
	}
	return fmt.Sprintf("fnv1a_%x", h)
}
