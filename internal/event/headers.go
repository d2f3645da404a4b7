package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HeaderMap preserves multi-value headers while remaining JSON-friendly.
// Browser debugging protocols send flat maps, HAR-style fixtures send
// arrays of {name,value} objects; both decode into the same shape.
type HeaderMap map[string][]string

// HeaderKV supports array-of-objects header formats.
type HeaderKV struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts map[string]string, map[string][]string, or []HeaderKV.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = nil
		return nil
	}

	var multi map[string][]string
	if err := json.Unmarshal(data, &multi); err == nil {
		*h = HeaderMap(multi)
		return nil
	}

	var single map[string]string
	if err := json.Unmarshal(data, &single); err == nil {
		converted := make(map[string][]string, len(single))
		for k, v := range single {
			converted[k] = []string{v}
		}
		*h = HeaderMap(converted)
		return nil
	}

	var list []HeaderKV
	if err := json.Unmarshal(data, &list); err == nil {
		converted := make(map[string][]string)
		for _, item := range list {
			if item.Name == "" {
				continue
			}
			converted[item.Name] = append(converted[item.Name], item.Value)
		}
		*h = HeaderMap(converted)
		return nil
	}

	return fmt.Errorf("unsupported header format")
}

// Values returns the values for a header name (case-insensitive).
func (h HeaderMap) Values(name string) []string {
	for key, values := range h {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// First returns the first header value for a name (case-insensitive).
func (h HeaderMap) First(name string) string {
	values := h.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
