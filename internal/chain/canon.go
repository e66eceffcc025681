package chain

import (
	"crypto/md5" // #nosec G501 -- content-addressing key, not a security boundary (spec.md §9)
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RequestHash returns the content-address key the sync store's RPC cache
// uses (spec.md §6/§9): canonicalize(method, params) as sorted-key JSON
// with every string value lower-cased, then md5 it. Implementations across versions must
// agree on this exact algorithm for the cache to be portable.
func RequestHash(method string, params interface{}) (string, error) {
	canon, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("chain: canonicalizing request: %w", err)
	}
	payload := fmt.Sprintf(`{"method":%q,"params":%s}`, method, canon)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize renders v as JSON with object keys sorted and every string
// value lower-cased (keys keep their case), so semantically identical
// requests always hash the same regardless of field order or hex case.
func canonicalize(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	var b strings.Builder
	writeCanonical(&b, generic)
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
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
			fmt.Fprintf(b, "%q:", k)
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case string:
		fmt.Fprintf(b, "%q", strings.ToLower(val))
	default:
		raw, _ := json.Marshal(val)
		b.Write(raw)
	}
}
