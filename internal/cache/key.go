package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key derives a deterministic cache key from an operation name and its
// arguments. Arguments are serialized canonically (struct field order is
// fixed, map keys are sorted by encoding/json) so identical logical requests
// collide regardless of call-site formatting.
func Key(op string, args any) (string, error) {
	canonical, err := marshalNoEscape(args)
	if err != nil {
		return "", fmt.Errorf("canonicalizing cache key args: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return op + ":" + hex.EncodeToString(sum[:]), nil
}

// marshalNoEscape marshals JSON without HTML escaping so the hashed bytes
// match the wire payload.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
