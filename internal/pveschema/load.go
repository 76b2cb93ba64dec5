package pveschema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// ErrEmptySchema is returned when the source holds no top-level entries.
var ErrEmptySchema = errors.New("invalid API schema: no entries found")

// apiSchemaDecl is the declaration apidoc.js uses for the schema array.
const apiSchemaDecl = "const apiSchema = ["

// Parse decodes a JSON array of endpoint nodes.
func Parse(data []byte) ([]*EndpointNode, error) {
	var nodes []*EndpointNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode API schema: %w", err)
	}

	if len(nodes) == 0 {
		return nil, ErrEmptySchema
	}

	return nodes, nil
}

// LoadFile reads a schema from disk. Files ending in ".js" are treated as the
// Proxmox apidoc.js and have their apiSchema array extracted first.
func LoadFile(path string) ([]*EndpointNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API schema %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".js") {
		data, err = ExtractAPISchema(data)
		if err != nil {
			return nil, err
		}
	}

	return Parse(data)
}

// ExtractAPISchema returns the text of the apiSchema array literal found in an
// apidoc.js source. Brackets inside string literals are ignored.
func ExtractAPISchema(src []byte) ([]byte, error) {
	start := bytes.Index(src, []byte(apiSchemaDecl))
	if start == -1 {
		return nil, fmt.Errorf("could not find %q in source", apiSchemaDecl)
	}
	start += len(apiSchemaDecl) - 1

	var (
		depth    int
		inString bool
		escaped  bool
		quote    byte
	)

	for i := start; i < len(src); i++ {
		ch := src[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}

		if inString {
			if ch == quote {
				inString = false
			}
			continue
		}

		switch ch {
		case '"', '\'':
			inString = true
			quote = ch
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if ch != ']' {
					return nil, errors.New("apiSchema literal is not an array")
				}
				return bytes.TrimSpace(src[start : i+1]), nil
			}
		}
	}

	return nil, errors.New("could not find matching closing bracket for apiSchema array")
}
