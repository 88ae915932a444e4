package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Hasher produces a cache key from a descriptor. The query package accepts a
// custom Hasher when the default canonical key is not appropriate.
type Hasher func(d *Descriptor) (string, error)

// Key generates a deterministic cache key for the descriptor.
// Format: req:<method>:<hash>
// where hash is the first 16 hex characters of SHA-256 over the canonical
// serialization of the whole descriptor.
func Key(d *Descriptor) (string, error) {
	if d == nil {
		return "", fmt.Errorf("fingerprint: nil descriptor")
	}

	canonical, err := canonicalize(canonicalForm(d))
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to canonicalize descriptor: %w", err)
	}

	hash := sha256.Sum256(canonical)
	hashStr := hex.EncodeToString(hash[:8]) // First 8 bytes = 16 hex chars

	method := d.Method
	if method == "" {
		method = "GET"
	}
	return fmt.Sprintf("req:%s:%s", strings.ToUpper(method), hashStr), nil
}

// Equal reports whether a and b describe the same logical request.
// It is symmetric and insensitive to params/headers key ordering and to
// body map key ordering.
func Equal(a, b *Descriptor) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !strings.EqualFold(a.Method, b.Method) || a.URL != b.URL {
		return false
	}
	if a.WithCredentials != b.WithCredentials ||
		a.ReportProgress != b.ReportProgress ||
		a.TransferCache != b.TransferCache {
		return false
	}
	if !valuesEqual(a.Params, b.Params, false) {
		return false
	}
	if !valuesEqual(a.Headers, b.Headers, true) {
		return false
	}
	if !canonicalEqual(a.Context, b.Context) {
		return false
	}
	return canonicalEqual(a.Body, b.Body)
}

// valuesEqual compares two multi-value collections as unordered multisets.
// foldKeys lowercases keys before comparison (header semantics).
func valuesEqual(a, b map[string][]string, foldKeys bool) bool {
	na, nb := normalizeValues(a, foldKeys), normalizeValues(b, foldKeys)
	if len(na) != len(nb) {
		return false
	}
	for k, va := range na {
		vb, ok := nb[k]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
	}
	return true
}

func normalizeValues(m map[string][]string, foldKeys bool) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, vs := range m {
		if len(vs) == 0 {
			continue // absent and empty compare equal
		}
		if foldKeys {
			k = strings.ToLower(k)
		}
		merged := append(append([]string(nil), out[k]...), vs...)
		sort.Strings(merged)
		out[k] = merged
	}
	return out
}

// canonicalEqual compares two values through their canonical serialization.
func canonicalEqual(a, b any) bool {
	ca, errA := canonicalizeAny(a)
	cb, errB := canonicalizeAny(b)
	if errA != nil || errB != nil {
		return errA == nil && errB == nil
	}
	return string(ca) == string(cb)
}

// canonicalForm reduces the descriptor to plain maps/slices so canonicalize
// covers every field with key-sorted output.
func canonicalForm(d *Descriptor) map[string]any {
	form := map[string]any{
		"method": strings.ToUpper(d.Method),
		"url":    d.URL,
	}
	if len(d.Params) > 0 {
		form["params"] = valuesForm(d.Params, false)
	}
	if len(d.Headers) > 0 {
		form["headers"] = valuesForm(d.Headers, true)
	}
	if d.Body != nil {
		form["body"] = d.Body
	}
	if len(d.Context) > 0 {
		form["context"] = d.Context
	}
	if d.WithCredentials {
		form["withCredentials"] = true
	}
	if d.ReportProgress {
		form["reportProgress"] = true
	}
	if d.TransferCache {
		form["transferCache"] = true
	}
	return form
}

func valuesForm(m map[string][]string, foldKeys bool) map[string]any {
	norm := normalizeValues(m, foldKeys)
	out := make(map[string]any, len(norm))
	for k, vs := range norm {
		anyVals := make([]any, len(vs))
		for i, v := range vs {
			anyVals[i] = v
		}
		out[k] = anyVals
	}
	return out
}

// canonicalizeAny canonicalizes arbitrary Go values by round-tripping
// through JSON first, so struct bodies and map bodies with the same shape
// serialize identically.
func canonicalizeAny(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	switch v.(type) {
	case map[string]any, []any, string, bool, float64, int, int64:
		return canonicalize(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return canonicalize(decoded)
	}
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalizeAny(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalizeAny(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}
