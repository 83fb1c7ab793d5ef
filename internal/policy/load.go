package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a policy file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat parses a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown policy format %q (valid: yaml, toml)", s)
}

// FormatFromPath picks the codec from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("policy file %s has no extension (use .yaml, .yml or .toml)", path)
	}
	return ParseFormat(ext)
}

// Load reads and validates a policy file. An empty path yields the built-in
// policy.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return Parse(data, format, path)
}

// Parse decodes data and builds a Policy. Unknown keys are rejected so a
// misspelled option cannot silently fall back to a default.
func Parse(data []byte, format Format, source string) (*Policy, error) {
	f, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %w", ErrInvalidPolicy, source, err)
	}
	return Build(source, f)
}

// Decode parses data into a File without validating its contents.
func Decode(data []byte, format Format) (File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return File{}, fmt.Errorf("yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return File{}, fmt.Errorf("toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return File{}, fmt.Errorf("toml: unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		return File{}, fmt.Errorf("unknown policy format %q", format)
	}
	return f, nil
}

// Encode renders p in the given format. The output loads back into an
// equivalent policy.
func Encode(p *Policy, format Format) ([]byte, error) {
	f := p.ToFile()
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(f); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown policy format %q", format)
	}
	return buf.Bytes(), nil
}
