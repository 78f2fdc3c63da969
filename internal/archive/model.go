package archive

import "time"

// Source is a registered document source whose archives flow through the
// pipeline. The row's existence is the commit point for cascade deletion:
// while it exists, cleanup for the source may be re-initiated.
type Source struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archive is one ingested document archive belonging to a source. ObjectKey
// locates its blob under the source's prefix in object storage.
type Archive struct {
	ID         string    `json:"id"`
	SourceName string    `json:"source_name"`
	ObjectKey  string    `json:"object_key"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// ObjectPrefix returns the object storage prefix holding every archive blob
// for a source.
func ObjectPrefix(sourceName string) string {
	return "archives/" + sourceName + "/"
}
