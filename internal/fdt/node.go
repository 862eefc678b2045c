// Package fdt models already-parsed device-tree nodes.
package fdt

import "fmt"

// Property describes a single device-tree property in a JSON-friendly form.
// Exactly one of the typed fields should be populated for a given property.
type Property struct {
	Strings []string `json:"strings,omitempty" yaml:"strings,omitempty"`
	U32     []uint32 `json:"u32,omitempty" yaml:"u32,omitempty"`
	U64     []uint64 `json:"u64,omitempty" yaml:"u64,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Flag    bool     `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// Node describes a device-tree node using JSON-friendly structures.
type Node struct {
	Name       string              `json:"name" yaml:"name"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []Node              `json:"children,omitempty" yaml:"children,omitempty"`
}

// Compatible returns the node's compatible list.
func (n Node) Compatible() []string {
	return n.Properties["compatible"].Strings
}

// IsCompatible reports whether any of the node's compatible strings is in
// candidates.
func (n Node) IsCompatible(candidates ...string) bool {
	for _, have := range n.Compatible() {
		for _, want := range candidates {
			if have == want {
				return true
			}
		}
	}
	return false
}

// U32 returns the u32 cells of a property.
func (n Node) U32(name string) ([]uint32, bool) {
	p, ok := n.Properties[name]
	if !ok || p.Kind() != "u32" {
		return nil, false
	}
	return p.U32, true
}

// Interrupts splits the "interrupts" property into descriptors of cells
// cells each. A trailing short descriptor is returned as-is so the caller
// can reject it.
func (n Node) Interrupts(cells int) ([][]uint32, error) {
	if cells <= 0 {
		return nil, fmt.Errorf("fdt: invalid interrupt cell count %d", cells)
	}
	raw, ok := n.U32("interrupts")
	if !ok {
		return nil, fmt.Errorf("fdt: node %q has no u32 interrupts property", n.Name)
	}
	var out [][]uint32
	for len(raw) > 0 {
		k := min(cells, len(raw))
		out = append(out, raw[:k:k])
		raw = raw[k:]
	}
	return out, nil
}

// Find returns the first descendant (or n itself) with the given name.
func (n Node) Find(name string) (Node, bool) {
	if n.Name == name {
		return n, true
	}
	for _, child := range n.Children {
		if found, ok := child.Find(name); ok {
			return found, true
		}
	}
	return Node{}, false
}
