package catalog

// Normalized catalog shapes. Everything past the client consumes only
// these; the remote API's wire format stays contained in client.go.

// LibraryKind classifies a remote library section.
type LibraryKind string

const (
	LibraryMovies LibraryKind = "movie"
	LibraryShows  LibraryKind = "show"
)

// Library is one top-level section of the remote catalog.
type Library struct {
	Key   string
	Title string
	Kind  LibraryKind
}

// ItemKind classifies a catalog item.
type ItemKind string

const (
	ItemMovie ItemKind = "movie"
	ItemShow  ItemKind = "show"
)

// MediaFile is the playable media part behind an item. StreamKey is the
// opaque server path used for byte-range retrieval.
type MediaFile struct {
	StreamKey string
	Size      int64
	Ext       string
}

// Item is one enumerated library item. Movies carry their media file
// directly; shows are expanded into episodes separately.
type Item struct {
	Kind  ItemKind
	Key   string
	Title string
	Year  int
	File  *MediaFile
}

// Episode is one leaf of a show. File is nil when the episode has no
// resolved media and must be skipped.
type Episode struct {
	Season int
	Number int
	Title  string
	File   *MediaFile
}
