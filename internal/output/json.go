package output

import (
	"bytes"
	"encoding/json"
)

// marshalReport encodes v as indented json without replacing html
// characters such as & and < in urls.
func marshalReport(v any) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
