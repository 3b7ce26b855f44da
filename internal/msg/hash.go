package msg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	domainMsg      = "runengine/msg/v1"
	domainFieldSet = "runengine/fieldset/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a content-addressed identity for the Msg.
// Equal Msgs always produce equal fingerprints. Returns an error if an
// argument value cannot be canonically serialized.
func (m Msg) Fingerprint() (string, error) {
	kwargs := map[string]any{}
	for k, v := range m.kwargs {
		kwargs[k] = v
	}
	args := []any{}
	if m.args != nil {
		args = append(args, m.args...)
	}
	obj := map[string]any{
		"command": string(m.command),
		"target":  m.target,
		"args":    args,
		"kwargs":  kwargs,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: marshal: %w", err)
	}
	return hashWithDomain(domainMsg, canonical), nil
}

// FieldSetHash computes a stable identity for a set of reading field
// names. The run engine uses it to decide whether a group of readings can
// reuse an existing descriptor document or needs a fresh one.
func FieldSetHash(fields []string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	arr := make([]any, len(sorted))
	for i, f := range sorted {
		arr[i] = f
	}
	// Field names are plain strings; canonical marshal cannot fail here.
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		panic(fmt.Sprintf("FieldSetHash: %v", err))
	}
	return hashWithDomain(domainFieldSet, canonical)
}
