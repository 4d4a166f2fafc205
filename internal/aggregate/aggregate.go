// Package aggregate builds and merges the cached aggregate document.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-aggregate-service/internal/models"
)

// Document maps normalized entity keys to encoded weather records. Records are kept encoded so
// that a merge leaves every other entry byte-for-byte as it was read.
type Document map[string]json.RawMessage

// MergeEntity returns a new document equal to existing (empty when nil) with key set to record.
// existing is not modified.
func MergeEntity(existing Document, key string, record models.WeatherRecord) (Document, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", key, err)
	}
	out := make(Document, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}
	out[key] = raw
	return out, nil
}

// Replace builds a whole document from freshly fetched records.
func Replace(records map[string]models.WeatherRecord) (Document, error) {
	out := make(Document, len(records))
	for k, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Narrow returns the single-key view of doc, or an empty document when key is absent.
func Narrow(doc Document, key string) Document {
	if v, ok := doc[key]; ok {
		return Document{key: v}
	}
	return Document{}
}

// Keys returns the document keys sorted.
func Keys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode serializes doc for the cache. A nil document encodes as {}.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	return json.Marshal(doc)
}

// Decode parses a cached document.
func Decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
