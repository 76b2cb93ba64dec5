// Command convert extracts the apiSchema array from a Proxmox apidoc.js file
// and writes it as indented JSON.
//
// Usage: convert <apidoc.js> [apidoc.json]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/invakid404/pve-openapi/internal/pveschema"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <apidoc.js> [output]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	src, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading source: %v\n", err)
		os.Exit(1)
	}

	raw, err := pveschema.ExtractAPISchema(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting schema: %v\n", err)
		os.Exit(1)
	}

	// Round-trip through the model so the output only holds known fields and
	// fails loudly on a malformed array.
	nodes, err := pveschema.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing schema: %v\n", err)
		os.Exit(1)
	}

	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 3 {
		fmt.Println(string(data))
		return
	}

	if err := os.WriteFile(os.Args[2], data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d top-level entries written to %s\n", len(nodes), os.Args[2])
}
