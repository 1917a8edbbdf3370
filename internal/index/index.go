// Package index holds the in-memory snapshot of the virtual filesystem
// tree: a map from absolute path to entry metadata plus a map from
// directory path to its children's basenames. An Index is built once per
// catalog scan and is immutable after Build.
package index

import (
	"path"
	"sort"
	"strings"
)

// Kind distinguishes directories from files.
type Kind uint8

const (
	KindDir Kind = iota
	KindFile
)

// Root is the path of the tree root.
const Root = "/"

// Entry is one node in the virtual filesystem tree.
type Entry struct {
	Path      string
	Kind      Kind
	Size      int64
	StreamKey string
}

// Index is a consistent pair of path→entry and directory→children
// mappings. Every non-root entry's parent directory is present in the
// same index.
type Index struct {
	entries  map[string]Entry
	children map[string][]string
}

// Lookup returns the entry for an absolute path.
func (ix *Index) Lookup(p string) (Entry, bool) {
	e, ok := ix.entries[p]
	return e, ok
}

// List returns the sorted child basenames of a directory.
func (ix *Index) List(dir string) ([]string, bool) {
	names, ok := ix.children[dir]
	return names, ok
}

// Len returns the number of entries, the root included.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Roots returns the basenames of the top-level directories, the library
// names.
func (ix *Index) Roots() []string {
	return ix.children[Root]
}

// FilesUnder counts file entries below the given directory path.
func (ix *Index) FilesUnder(dir string) int {
	prefix := dir
	if prefix != Root {
		prefix += "/"
	}
	n := 0
	for p, e := range ix.entries {
		if e.Kind == KindFile && strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

// Export returns copies of the underlying maps for persistence.
func (ix *Index) Export() (map[string]Entry, map[string][]string) {
	entries := make(map[string]Entry, len(ix.entries))
	for p, e := range ix.entries {
		entries[p] = e
	}
	children := make(map[string][]string, len(ix.children))
	for p, names := range ix.children {
		children[p] = append([]string(nil), names...)
	}
	return entries, children
}

// FromMaps reconstructs an index from persisted maps. Child lists are
// re-sorted so a snapshot written by an older build stays canonical.
func FromMaps(entries map[string]Entry, children map[string][]string) *Index {
	ix := &Index{
		entries:  make(map[string]Entry, len(entries)),
		children: make(map[string][]string, len(children)),
	}
	for p, e := range entries {
		ix.entries[p] = e
	}
	for p, names := range children {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		ix.children[p] = sorted
	}
	if _, ok := ix.entries[Root]; !ok {
		ix.entries[Root] = Entry{Path: Root, Kind: KindDir}
	}
	if _, ok := ix.children[Root]; !ok {
		ix.children[Root] = nil
	}
	return ix
}

// Builder accumulates entries for a new index. Directories are
// materialized before their children, so a finished build always
// satisfies the parent-closure invariant. Builder is not safe for
// concurrent use; scan consumers stage into their own builder and merge
// under a lock.
type Builder struct {
	entries  map[string]Entry
	children map[string]map[string]struct{}
}

// NewBuilder returns a builder holding only the root directory.
func NewBuilder() *Builder {
	b := &Builder{
		entries:  make(map[string]Entry),
		children: make(map[string]map[string]struct{}),
	}
	b.entries[Root] = Entry{Path: Root, Kind: KindDir}
	b.children[Root] = make(map[string]struct{})
	return b
}

// AddDir adds a directory entry, creating missing ancestors.
func (b *Builder) AddDir(p string) {
	p = path.Clean(p)
	if p == Root || p == "." {
		return
	}
	if _, ok := b.entries[p]; ok {
		return
	}
	parent := path.Dir(p)
	b.AddDir(parent)
	b.entries[p] = Entry{Path: p, Kind: KindDir}
	b.children[p] = make(map[string]struct{})
	b.children[parent][path.Base(p)] = struct{}{}
}

// AddFile adds a file entry, creating missing parent directories.
func (b *Builder) AddFile(p string, size int64, streamKey string) {
	p = path.Clean(p)
	parent := path.Dir(p)
	b.AddDir(parent)
	b.entries[p] = Entry{Path: p, Kind: KindFile, Size: size, StreamKey: streamKey}
	b.children[parent][path.Base(p)] = struct{}{}
}

// Merge folds another builder's entries into this one. Used to batch a
// consumer's staged entries into the shared builder in one step.
func (b *Builder) Merge(other *Builder) {
	for p, e := range other.entries {
		if p == Root {
			continue
		}
		if e.Kind == KindDir {
			b.AddDir(p)
		} else {
			b.AddFile(p, e.Size, e.StreamKey)
		}
	}
}

// Len returns the number of entries staged so far, the root included.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build finalizes the index. Child sets become sorted name slices. The
// builder must not be used afterwards.
func (b *Builder) Build() *Index {
	ix := &Index{
		entries:  b.entries,
		children: make(map[string][]string, len(b.children)),
	}
	for dir, set := range b.children {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		ix.children[dir] = names
	}
	b.entries = nil
	b.children = nil
	return ix
}
