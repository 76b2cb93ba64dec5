// Package doctags derives documentation tags and tag groups from the endpoint
// tree.
package doctags

import (
	"slices"

	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/routepath"
)

// Tag documents the operations sharing one TagFor(path) value.
type Tag struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Group collects the tags sharing a first path segment.
type Group struct {
	Name string   `json:"name" yaml:"name"`
	Tags []string `json:"tags" yaml:"tags"`
}

// List returns one tag per distinct TagFor(path), in first-seen document
// order. Nodes with an empty path are skipped.
func List(nodes []*pveschema.EndpointNode) []Tag {
	var tags []Tag
	seen := make(map[string]struct{})

	pveschema.Walk(nodes, func(node *pveschema.EndpointNode) {
		if node.Path == "" {
			return
		}

		name := routepath.TagFor(node.Path)
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}

		tags = append(tags, Tag{Name: name, Description: name + " endpoints"})
	})

	return tags
}

// ListGroups groups tags by GroupFor(path). Groups and the tags inside them
// keep first-seen document order. The root path belongs to no group.
func ListGroups(nodes []*pveschema.EndpointNode) []Group {
	var groups []Group
	index := make(map[string]int)

	pveschema.Walk(nodes, func(node *pveschema.EndpointNode) {
		key := routepath.GroupFor(node.Path)
		if key == "" {
			return
		}

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Name: key})
		}

		tag := routepath.TagFor(node.Path)
		if !slices.Contains(groups[i].Tags, tag) {
			groups[i].Tags = append(groups[i].Tags, tag)
		}
	})

	return groups
}
