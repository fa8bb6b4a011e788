package db

// DB indexes what a storage location holds. Lookups of unknown names or hashes return
// a NotFound error.
type DB interface {
	Init() error
	Close() error
	AddBlobToIndex(blob *Blob) error
	GetBlob(hash []byte) (*Blob, error)
	AddSnapshotToIndex(snapshot *Snapshot) error
	GetSnapshot(name string) (*Snapshot, error)
	GetSnapshots() ([]*Snapshot, error)
}
