package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// shape tries to pull the answer text out of a parsed provider document.
type shape struct {
	name    string
	extract func(doc any) (string, bool)
}

// shapes is tried in order; the first match wins.
var shapes = []shape{
	{"typed_text_block", typedTextBlock},
	{"first_content_text", firstContentText},
	{"chat_choice", chatChoiceContent},
}

// ExtractText parses a provider response body and returns the answer text.
func ExtractText(body string) (string, error) {
	text, _, err := extract(body)
	return text, err
}

// extract also reports which shape matched, for logging.
func extract(body string) (string, string, error) {
	doc, err := decodeDocument(body)
	if err != nil {
		return "", "", &MalformedResponseError{Err: err, Body: prefix(body, malformedBodyLimit)}
	}
	for _, s := range shapes {
		if text, ok := s.extract(doc); ok {
			return text, s.name, nil
		}
	}
	return "", "", &UnexpectedShapeError{Document: encodeDocument(doc)}
}

func decodeDocument(body string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

func encodeDocument(doc any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// typedTextBlock: {"content":[{"type":"thinking",...},{"type":"text","text":"..."}]}
func typedTextBlock(doc any) (string, bool) {
	items, ok := field(doc, "content").([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		if kind, _ := field(item, "type").(string); kind != "text" {
			continue
		}
		if text, ok := field(item, "text").(string); ok {
			return text, true
		}
	}
	return "", false
}

// firstContentText: {"content":[{"text":"..."}]}
func firstContentText(doc any) (string, bool) {
	items, ok := field(doc, "content").([]any)
	if !ok || len(items) == 0 {
		return "", false
	}
	text, ok := field(items[0], "text").(string)
	return text, ok
}

// chatChoiceContent: {"choices":[{"message":{"content":"..."}}]}
func chatChoiceContent(doc any) (string, bool) {
	choices, ok := field(doc, "choices").([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	text, ok := field(field(choices[0], "message"), "content").(string)
	return text, ok
}

// field returns obj[key] when obj is a JSON object, nil otherwise.
func field(obj any, key string) any {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}
