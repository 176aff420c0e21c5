package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Article is a single aggregated article record as produced by the ingestion stage.
// Fields not listed here are carried through untouched: the original JSON object
// is kept, in its key order, and written back when the article is marshaled. Its
// strings are stored unescaped, so "Caf\u00e9" comes back out as "Café".
type Article struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Content        string `json:"content"`
	PublishedDate  string `json:"published_date"`
	SourcePlatform string `json:"source_platform"`

	raw json.RawMessage
}

// knownFields maps JSON keys to the Article field they populate.
var knownFields = map[string]func(a *Article) *string{
	"title":           func(a *Article) *string { return &a.Title },
	"url":             func(a *Article) *string { return &a.URL },
	"content":         func(a *Article) *string { return &a.Content },
	"published_date":  func(a *Article) *string { return &a.PublishedDate },
	"source_platform": func(a *Article) *string { return &a.SourcePlatform },
}

// UnmarshalJSON decodes an article object. Known fields must be strings or null;
// null is read as the empty string.
func (a *Article) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("article is not a JSON object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("article is null")
	}

	*a = Article{}
	for key, field := range knownFields {
		value, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		if err := json.Unmarshal(value, field(a)); err != nil {
			return fmt.Errorf("article field %q must be a string: %w", key, err)
		}
	}

	raw, err := unescaped(data)
	if err != nil {
		return err
	}
	a.raw = raw
	return nil
}

// unescaped rewrites a JSON value in compact form with its key order and number
// literals unchanged, and every string re-encoded without \u escapes for non-ASCII
// or HTML characters.
func unescaped(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	type container struct {
		object bool
		n      int
	}
	var (
		buf   bytes.Buffer
		stack []container
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			buf.WriteByte(byte(d))
			continue
		}

		if len(stack) > 0 {
			top := &stack[len(stack)-1]
			switch {
			case top.object && top.n%2 == 1:
				buf.WriteByte(':')
			case top.n > 0:
				buf.WriteByte(',')
			}
			top.n++
		}

		switch v := tok.(type) {
		case json.Delim:
			buf.WriteByte(byte(v))
			stack = append(stack, container{object: v == '{'})
		case string:
			if err := writeString(&buf, v); err != nil {
				return nil, err
			}
		case json.Number:
			buf.WriteString(v.String())
		case bool:
			buf.WriteString(strconv.FormatBool(v))
		case nil:
			buf.WriteString("null")
		}
	}
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// MarshalJSON writes the original object when the article was decoded from JSON,
// otherwise the known fields.
func (a Article) MarshalJSON() ([]byte, error) {
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	type plain Article
	return json.Marshal(plain(a))
}

// ComparisonText is the string embedded for similarity comparison: the trimmed
// title, followed by two spaces and the trimmed content when there is content.
func (a Article) ComparisonText() string {
	text := strings.TrimSpace(a.Title)
	if content := strings.TrimSpace(a.Content); content != "" {
		text += "  " + content
	}
	return text
}
