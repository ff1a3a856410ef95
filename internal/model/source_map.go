package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type SourceEntry struct {
	Label string
	Text  string
}

// SourceMap is an ordered label -> text mapping. It serializes as a JSON
// object whose keys keep insertion order.
type SourceMap []SourceEntry

// Add appends an entry, or extends the text of an existing label.
func (m *SourceMap) Add(label, text string) {
	for i := range *m {
		if (*m)[i].Label == label {
			(*m)[i].Text += "\n\n" + text
			return
		}
	}
	*m = append(*m, SourceEntry{Label: label, Text: text})
}

func (m SourceMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *SourceMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("source map: expected object, got %v", tok)
	}
	out := SourceMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("source map: expected string key, got %v", keyTok)
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return err
		}
		text, ok := val.(string)
		if !ok {
			b, _ := json.Marshal(val)
			text = string(b)
		}
		out = append(out, SourceEntry{Label: key, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
