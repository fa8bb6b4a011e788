package db

// Snapshot is an uploaded snapshot blob.
type Snapshot struct {
	ID      int64
	Name    string
	Created int64
	Size    int64
}

// Blob is an uploaded content blob, keyed by content hash.
type Blob struct {
	ID      int64
	Hash    []byte
	Size    int64
	Created int64
}
