// Command schema writes the OpenAPI document for a Proxmox API schema without
// starting the proxy.
//
// Usage: schema <apidoc.json|apidoc.js> [openapi.json|openapi.yaml]
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/doctags"
	"github.com/invakid404/pve-openapi/internal/openapidoc"
	"github.com/invakid404/pve-openapi/internal/pveschema"
)

const prefix = "/api2/json"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <schema> [output]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	nodes, err := pveschema.LoadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading schema: %v\n", err)
		os.Exit(1)
	}

	// Routes are only described here, never served, so no upstream is needed.
	reg := compiler.New(nil, nil).Build(nodes)

	doc, err := openapidoc.Build(openapidoc.DefaultInfo(), prefix, reg, doctags.List(nodes), doctags.ListGroups(nodes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building document: %v\n", err)
		os.Exit(1)
	}

	jsonData, yamlData, err := openapidoc.Render(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering document: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 3 {
		fmt.Println(string(jsonData))
		return
	}

	out := os.Args[2]
	data := jsonData
	if ext := strings.ToLower(filepath.Ext(out)); ext == ".yaml" || ext == ".yml" {
		data = yamlData
	}

	if err := os.WriteFile(out, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing document: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "OpenAPI document with %d operations written to %s\n", reg.Len(), out)
}
