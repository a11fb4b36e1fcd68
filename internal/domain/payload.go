package domain

import (
	"encoding/json"
	"regexp"
)

// ToolPayloadKind tags the shape a tool result payload was parsed into.
type ToolPayloadKind string

const (
	// PayloadStructured is a JSON object carrying an "items" array, or a
	// bare JSON array of items.
	PayloadStructured ToolPayloadKind = "structured"
	// PayloadSingle is a single {url,title}-shaped JSON object.
	PayloadSingle ToolPayloadKind = "single"
	// PayloadRaw is anything that did not parse as structured data. The
	// payload is carried as opaque text.
	PayloadRaw ToolPayloadKind = "raw"
)

// ReferenceItem is a (title, url) pair extracted from a tool result.
type ReferenceItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ToolPayload is the tagged variant a tool result is parsed into,
// exactly once, at the stream boundary. Raw always holds the verbatim
// payload so the wire protocol can forward it unchanged.
type ToolPayload struct {
	Kind  ToolPayloadKind
	Items []ReferenceItem
	Raw   string
}

var urlPattern = regexp.MustCompile(`https?://[^\s,'")\]]+`)

// ParseToolPayload classifies a raw tool result. Parse failure is not
// an error: the payload degrades to PayloadRaw and stays in the stream
// verbatim.
func ParseToolPayload(raw string) ToolPayload {
	p := ToolPayload{Kind: PayloadRaw, Raw: raw}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
		if itemsRaw, ok := asMap["items"]; ok {
			var items []map[string]any
			if err := json.Unmarshal(itemsRaw, &items); err == nil {
				p.Kind = PayloadStructured
				p.Items = collectReferences(items)
				return p
			}
		}
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			if ref, ok := referenceFromItem(single); ok {
				p.Kind = PayloadSingle
				p.Items = []ReferenceItem{ref}
				return p
			}
		}
		return p
	}

	var asList []map[string]any
	if err := json.Unmarshal([]byte(raw), &asList); err == nil {
		p.Kind = PayloadStructured
		p.Items = collectReferences(asList)
		return p
	}

	return p
}

// References returns the (title, url) candidates this payload
// contributes to the terminal summary. For raw payloads, URLs are
// scraped from the text as a last resort.
func (p ToolPayload) References() []ReferenceItem {
	if p.Kind != PayloadRaw {
		return p.Items
	}
	var refs []ReferenceItem
	for _, u := range urlPattern.FindAllString(p.Raw, -1) {
		refs = append(refs, ReferenceItem{Title: u, URL: u})
	}
	return refs
}

func collectReferences(items []map[string]any) []ReferenceItem {
	var refs []ReferenceItem
	for _, it := range items {
		if ref, ok := referenceFromItem(it); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func referenceFromItem(item map[string]any) (ReferenceItem, bool) {
	url := stringField(item, "url", "link", "source")
	if url == "" {
		return ReferenceItem{}, false
	}
	title := stringField(item, "title", "name")
	if title == "" {
		title = url
	}
	return ReferenceItem{Title: title, URL: url}, true
}

func stringField(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := item[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
