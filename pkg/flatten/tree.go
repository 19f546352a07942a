package flatten

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// TreeFileName is the annotated source tree listing written at the output
// root when enabled.
const TreeFileName = ".source_tree.txt"

// treeNode is a directory or file in the source tree listing.
type treeNode struct {
	name     string
	children map[string]*treeNode
	outputs  []string // Output names of a file node
}

func (n *treeNode) isDir() bool {
	return n.children != nil
}

// buildTree arranges slash-separated relative paths into a tree. outputs maps
// each relative path to the output names that now hold its content.
func buildTree(relPaths []string, outputs map[string][]string) *treeNode {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, rel := range relPaths {
		parts := strings.Split(rel, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.children[dir]
			if !ok {
				child = &treeNode{name: dir, children: map[string]*treeNode{}}
				node.children[dir] = child
			}
			node = child
		}
		file := parts[len(parts)-1]
		node.children[file] = &treeNode{name: file, outputs: outputs[rel]}
	}
	return root
}

// writeTree writes the listing with rootLabel as its first line.
func writeTree(w io.Writer, rootLabel string, root *treeNode) error {
	var output []string
	output = append(output, rootLabel+"/")
	output = appendTreeLines(output, root, "")

	_, err := io.WriteString(w, strings.Join(output, "\n")+"\n")
	return err
}

func appendTreeLines(output []string, node *treeNode, prefix string) []string {
	entries := make([]*treeNode, 0, len(node.children))
	for _, child := range node.children {
		entries = append(entries, child)
	}

	// Sort entries: directories first, then files, alphabetically
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].isDir() != entries[j].isDir() {
			return entries[i].isDir()
		}
		li, lj := strings.ToLower(entries[i].name), strings.ToLower(entries[j].name)
		if li != lj {
			return li < lj
		}
		return entries[i].name < entries[j].name
	})

	for i, entry := range entries {
		connector := "├── "
		extension := "│   "
		if i == len(entries)-1 {
			connector = "└── "
			extension = "    "
		}

		if entry.isDir() {
			output = append(output, fmt.Sprintf("%s%s%s/", prefix, connector, entry.name))
			output = appendTreeLines(output, entry, prefix+extension)
			continue
		}
		output = append(output, fmt.Sprintf("%s%s%s%s", prefix, connector, entry.name, annotation(entry.outputs)))
	}
	return output
}

func annotation(outputs []string) string {
	switch len(outputs) {
	case 0:
		return "  (not written)"
	case 1:
		return " -> " + outputs[0]
	default:
		return fmt.Sprintf(" -> %s .. %s (%d parts)", outputs[0], outputs[len(outputs)-1], len(outputs))
	}
}
