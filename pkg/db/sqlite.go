package db

import (
	"database/sql"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/rs/zerolog/log"
)

func NewSQLLite(dbpath string) (*SQLLiteDB, error) {
	rawDB, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", dbpath)
	}
	return &SQLLiteDB{rawDB: rawDB}, nil
}

type SQLLiteDB struct {
	rawDB *sql.DB
}

func (db *SQLLiteDB) runStatement(sql string) (sql.Result, error) {
	statement, err := db.rawDB.Prepare(sql)
	if err != nil {
		return nil, err
	}
	defer statement.Close()

	result, err := statement.Exec()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *SQLLiteDB) Init() (err error) {
	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS blobs (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"hash BLOB NOT NULL, " +
			"size INTEGER, " +
			"created INTEGER, " +
			"UNIQUE(hash)" +
			")")
	if err != nil {
		return errors.Annotate(err, "creating blobs table")
	}
	log.Debug().Msg("Created blobs table")

	_, err = db.runStatement(
		"CREATE TABLE IF NOT EXISTS snapshots (" +
			"id INTEGER PRIMARY KEY AUTOINCREMENT, " +
			"name TEXT NOT NULL, " +
			"size INTEGER, " +
			"created INTEGER, " +
			"UNIQUE(name)" +
			")")
	if err != nil {
		return errors.Annotate(err, "creating snapshots table")
	}
	log.Debug().Msg("Created snapshots table")
	return nil
}

func (db *SQLLiteDB) Close() error {
	return db.rawDB.Close()
}

func (db *SQLLiteDB) AddBlobToIndex(blob *Blob) error {
	result, err := db.rawDB.Exec("INSERT OR REPLACE INTO blobs (hash, size, created) VALUES(?, ?, ?)",
		blob.Hash, blob.Size, blob.Created)
	if err != nil {
		return errors.Annotatef(err, "indexing blob %x", blob.Hash)
	}
	blob.ID, err = result.LastInsertId()
	log.Debug().Hex("hash", blob.Hash).Int64("id", blob.ID).Msg("Added blob to index")
	return errors.Trace(err)
}

func (db *SQLLiteDB) GetBlob(hash []byte) (*Blob, error) {
	blob := &Blob{}
	err := db.rawDB.QueryRow("SELECT id, hash, size, created FROM blobs WHERE hash=?", hash).
		Scan(&blob.ID, &blob.Hash, &blob.Size, &blob.Created)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("blob %x", hash)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "looking up blob %x", hash)
	}
	return blob, nil
}

func (db *SQLLiteDB) AddSnapshotToIndex(snapshot *Snapshot) error {
	result, err := db.rawDB.Exec("INSERT OR REPLACE INTO snapshots (name, size, created) VALUES(?, ?, ?)",
		snapshot.Name, snapshot.Size, snapshot.Created)
	if err != nil {
		return errors.Annotatef(err, "indexing snapshot %s", snapshot.Name)
	}
	snapshot.ID, err = result.LastInsertId()
	log.Debug().Str("name", snapshot.Name).Int64("id", snapshot.ID).Msg("Added snapshot to index")
	return errors.Trace(err)
}

func (db *SQLLiteDB) GetSnapshot(name string) (*Snapshot, error) {
	snapshot := &Snapshot{}
	err := db.rawDB.QueryRow("SELECT id, name, size, created FROM snapshots WHERE name=?", name).
		Scan(&snapshot.ID, &snapshot.Name, &snapshot.Size, &snapshot.Created)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("snapshot %q", name)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "looking up snapshot %s", name)
	}
	return snapshot, nil
}

func (db *SQLLiteDB) GetSnapshots() (snapshots []*Snapshot, err error) {
	rows, err := db.rawDB.Query("SELECT id, name, size, created FROM snapshots ORDER BY created, id")
	if err != nil {
		return nil, errors.Annotate(err, "listing snapshots")
	}
	defer rows.Close()

	for rows.Next() {
		snapshot := &Snapshot{}
		if err := rows.Scan(&snapshot.ID, &snapshot.Name, &snapshot.Size, &snapshot.Created); err != nil {
			return nil, errors.Trace(err)
		}
		log.Debug().
			Int64("id", snapshot.ID).
			Str("name", snapshot.Name).
			Msg("snapshot found")
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, errors.Trace(rows.Err())
}
