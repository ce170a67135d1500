// Package hashing produces deterministic content hashes for entities and
// Merkle roots over snapshot item hashes.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LinksKey is the reserved payload key holding the sorted relationship tokens.
const LinksKey = "_zibridge_links"

// PropertiesKey is the envelope some sources wrap business fields in.
const PropertiesKey = "properties"

// EmptyRoot is the Merkle root of an empty hash list (SHA-256 of no bytes).
const EmptyRoot = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// DefaultIgnoredFields are system fields that never contribute to content identity.
var DefaultIgnoredFields = []string{
	"id",
	"hs_object_id",
	"createdate",
	"lastmodifieddate",
	"hs_lastmodifieddate",
	"createdAt",
	"updatedAt",
	"created_at",
	"updated_at",
	"archived",
}

// Hasher canonicalizes entity payloads with a fixed exclusion set.
type Hasher struct {
	excluded map[string]bool
}

// New returns a Hasher ignoring DefaultIgnoredFields plus any extra fields.
// Extra fields may use dot notation to reach into nested objects ("meta.version").
func New(extraIgnored ...string) *Hasher {
	excluded := make(map[string]bool, len(DefaultIgnoredFields)+len(extraIgnored))
	for _, f := range DefaultIgnoredFields {
		excluded[f] = true
	}
	for _, f := range extraIgnored {
		if f = strings.TrimSpace(f); f != "" {
			excluded[f] = true
		}
	}
	return &Hasher{excluded: excluded}
}

// IsIgnored reports whether a top-level field is excluded from hashing and field diffs.
func (h *Hasher) IsIgnored(field string) bool {
	return strings.HasPrefix(field, "_") || shouldExcludeField(field, h.excluded)
}

// Payload builds the canonical mapping that is hashed: business fields as
// strings plus the sorted relationship tokens under LinksKey.
func (h *Hasher) Payload(data map[string]any, links []string) map[string]any {
	props := Unwrap(data)

	payload := make(map[string]any, len(props)+1)
	for k, v := range props {
		if h.IsIgnored(k) {
			continue
		}
		payload[k] = stringify(v, h.excluded, k)
	}
	if len(links) > 0 {
		payload[LinksKey] = NormalizeLinks(links)
	}
	return payload
}

// Document returns the canonical bytes of an entity and their hash. The bytes
// are what the blob store keeps, so rehashing a stored blob reproduces its key.
func (h *Hasher) Document(data map[string]any, links []string) ([]byte, string) {
	doc := Canonical(h.Payload(data, links))
	return doc, Sum(doc)
}

// Hash returns the content hash of an entity.
func (h *Hasher) Hash(data map[string]any, links []string) string {
	_, digest := h.Document(data, links)
	return digest
}

// Sum is the lowercase hex SHA-256 of b.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify checks that doc hashes to digest.
func Verify(doc []byte, digest string) bool {
	return Sum(doc) == digest
}

// Decode splits a canonical document back into business fields and link tokens.
func Decode(doc []byte) (map[string]any, []string, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode canonical document: %w", err)
	}

	var links []string
	if v, ok := raw[LinksKey]; ok {
		links = NormalizeLinks(v)
		delete(raw, LinksKey)
	}
	return raw, links, nil
}

// Unwrap returns the "properties" envelope when present, otherwise data itself.
func Unwrap(data map[string]any) map[string]any {
	if props, ok := data[PropertiesKey].(map[string]any); ok {
		return props
	}
	return data
}

// MerkleRoot sorts the hashes and digests their concatenation.
func MerkleRoot(hashes []string) string {
	if len(hashes) == 0 {
		return EmptyRoot
	}
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical serializes v with sorted keys and no whitespace.
func Canonical(v any) []byte {
	return []byte(canonicalize(v, nil, ""))
}

// Token formats a relationship as "type:id".
func Token(relType, targetID string) string {
	return relType + ":" + targetID
}

// SplitToken reverses Token. Ids may contain ':' so only the first one separates.
func SplitToken(token string) (string, string, bool) {
	i := strings.Index(token, ":")
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

// NormalizeLinks accepts the relationship shapes sources produce and returns
// a sorted, de-duplicated token list:
//   - []string / []any of "type:id" tokens
//   - []any of {"type": ..., "id": ...} objects
//   - map of type -> id or list of ids
func NormalizeLinks(v any) []string {
	set := map[string]struct{}{}
	collectLinks(v, "", set)

	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func collectLinks(v any, relType string, set map[string]struct{}) {
	switch val := v.(type) {
	case nil:
	case string:
		if val == "" {
			return
		}
		if relType != "" {
			set[Token(relType, val)] = struct{}{}
			return
		}
		if _, _, ok := SplitToken(val); ok {
			set[val] = struct{}{}
		}
	case json.Number:
		collectLinks(val.String(), relType, set)
	case float64, int, int64:
		collectLinks(stringify(val, nil, ""), relType, set)
	case []string:
		for _, s := range val {
			collectLinks(s, relType, set)
		}
	case []any:
		for _, item := range val {
			collectLinks(item, relType, set)
		}
	case map[string][]string:
		for t, ids := range val {
			collectLinks(ids, t, set)
		}
	case map[string]any:
		if t, ok := val["type"].(string); ok {
			if id, ok := val["id"]; ok {
				collectLinks(id, t, set)
				return
			}
		}
		if relType != "" {
			if id, ok := val["id"]; ok {
				collectLinks(id, relType, set)
			}
			return
		}
		for t, ids := range val {
			collectLinks(ids, t, set)
		}
	}
}

// stringify renders a field value as a stable string: null is "", numbers use
// the shortest exact decimal form, nested structures become canonical JSON.
func stringify(v any, excludeFields map[string]bool, path string) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := val.Float64(); err == nil {
			return formatFloat(f)
		}
		return val.String()
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	default:
		return canonicalize(val, excludeFields, path)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func canonicalize(data any, excludeFields map[string]bool, currentPath string) string {
	switch v := data.(type) {
	case map[string]any:
		return canonicalizeMap(v, excludeFields, currentPath)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return canonicalizeMap(m, excludeFields, currentPath)
	case []any:
		return canonicalizeArray(v, excludeFields, currentPath)
	case []string:
		arr := make([]any, len(v))
		for i, s := range v {
			arr[i] = s
		}
		return canonicalizeArray(arr, excludeFields, currentPath)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(v))
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

func canonicalizeMap(m map[string]any, excludeFields map[string]bool, currentPath string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, k := range keys {
		fieldPath := k
		if currentPath != "" {
			fieldPath = currentPath + "." + k
		}
		if currentPath != "" && shouldExcludeField(fieldPath, excludeFields) {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(canonicalize(k, nil, ""))
		b.WriteByte(':')
		b.WriteString(canonicalize(m[k], excludeFields, fieldPath))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalizeArray(arr []any, excludeFields map[string]bool, currentPath string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(canonicalize(v, excludeFields, currentPath))
	}
	b.WriteByte(']')
	return b.String()
}

// shouldExcludeField matches exact paths and children of excluded parents.
func shouldExcludeField(fieldPath string, excludeFields map[string]bool) bool {
	if excludeFields == nil {
		return false
	}
	if excludeFields[fieldPath] {
		return true
	}
	for excluded := range excludeFields {
		if strings.HasPrefix(fieldPath, excluded+".") {
			return true
		}
	}
	return false
}
