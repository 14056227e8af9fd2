package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	includeTag      = "!include"
	maxIncludeDepth = 10
)

// IncludeResolver replaces !include tagged nodes with the referenced file.
// YAML files are spliced in as nodes; anything else becomes a string scalar,
// which is how a stub pulls a large body or JSON pattern from disk.
//
// References are relative to the including file, or to the stub root when
// prefixed with @root/. They may not leave the stub root.
type IncludeResolver struct {
	rootDir string
}

// NewIncludeResolver creates a resolver bound to rootDir.
func NewIncludeResolver(rootDir string) *IncludeResolver {
	return &IncludeResolver{rootDir: rootDir}
}

// ResolveIncludes rewrites node in place.
func (r *IncludeResolver) ResolveIncludes(node *yaml.Node, currentDir string) error {
	return r.walk(node, currentDir, 0)
}

// Targets lists the files node includes directly, resolved against currentDir.
// References that do not resolve are left for ResolveIncludes to report.
func (r *IncludeResolver) Targets(node *yaml.Node, currentDir string) []string {
	var out []string
	var visit func(n *yaml.Node)
	visit = func(n *yaml.Node) {
		if n == nil {
			return
		}
		if n.Tag == includeTag {
			if target, err := r.locate(strings.TrimSpace(n.Value), currentDir); err == nil {
				out = append(out, target)
			}
			return
		}
		for _, child := range n.Content {
			visit(child)
		}
	}
	visit(node)
	return out
}

func (r *IncludeResolver) walk(node *yaml.Node, currentDir string, depth int) error {
	if node == nil {
		return nil
	}
	if depth > maxIncludeDepth {
		return fmt.Errorf("%s nesting deeper than %d", includeTag, maxIncludeDepth)
	}
	if node.Tag == includeTag {
		return r.splice(node, currentDir, depth)
	}
	for _, child := range node.Content {
		if err := r.walk(child, currentDir, depth); err != nil {
			return err
		}
	}
	return nil
}

func (r *IncludeResolver) splice(node *yaml.Node, currentDir string, depth int) error {
	ref := strings.TrimSpace(node.Value)
	if ref == "" {
		return fmt.Errorf("%s without a file reference", includeTag)
	}

	target, err := r.locate(ref, currentDir)
	if err != nil {
		return fmt.Errorf("%s %q: %w", includeTag, ref, err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("%s %q: %w", includeTag, ref, err)
	}

	if !isYAMLFile(target) {
		line, col := node.Line, node.Column
		*node = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(data), Line: line, Column: col}
		return nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s %q: invalid YAML: %w", includeTag, ref, err)
	}
	if err := r.walk(&doc, filepath.Dir(target), depth+1); err != nil {
		return err
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		*node = *doc.Content[0]
	}
	return nil
}

// locate resolves ref to a path inside the root directory.
func (r *IncludeResolver) locate(ref, currentDir string) (string, error) {
	var target string
	switch {
	case filepath.IsAbs(ref):
		return "", fmt.Errorf("absolute paths are not allowed")
	case strings.HasPrefix(ref, "@root/"):
		target = filepath.Join(r.rootDir, strings.TrimPrefix(ref, "@root/"))
	default:
		target = filepath.Join(currentDir, strings.TrimPrefix(ref, "@here/"))
	}

	if !within(r.rootDir, target) {
		return "", fmt.Errorf("path escapes the stub root")
	}
	return target, nil
}

// within reports whether path, after resolving symlinks, lies under root.
func within(root, path string) bool {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
