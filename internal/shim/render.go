package shim

import (
	"bytes"
	"encoding/json"
	"strings"

	"honeyworks/hive-client/internal/display"
)

const indent = "    "

// Format pretty prints v as JSON with 4 space indentation. Byte strings become
// base64 and map keys are sorted.
func Format(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Render formats v and replaces the surface content with it.
func Render(surface display.Surface, v any) error {
	text, err := Format(v)
	if err != nil {
		return err
	}
	return surface.Show(text)
}
