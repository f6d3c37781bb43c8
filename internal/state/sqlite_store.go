package state

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// SQLiteStore persists node records in SQLite. Records are encrypted
// with the session master key before they hit disk, so the cache leaks
// nothing the server does not already hold.
type SQLiteStore struct {
	db     *sql.DB
	cipher crypto.Cipher
	key    []byte
	logger *events.Logger
}

// NewSQLiteStore opens (creating if needed) the state cache at dbPath.
// cipher and key may be nil for an unencrypted cache, used by tests.
func NewSQLiteStore(dbPath string, cipher crypto.Cipher, key []byte, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		cipher: cipher,
		key:    key,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS nodes (
        handle INTEGER PRIMARY KEY,
        record BLOB NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS localnodes (
        dbid INTEGER PRIMARY KEY AUTOINCREMENT,
        record BLOB NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `
	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seal(record []byte) ([]byte, error) {
	if s.cipher == nil {
		return record, nil
	}
	return s.cipher.EncryptAttr(s.key, record)
}

func (s *SQLiteStore) open(blob []byte) ([]byte, error) {
	if s.cipher == nil {
		return blob, nil
	}
	rec, err := s.cipher.DecryptAttr(s.key, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStateCorrupt, err)
	}
	return rec, nil
}

// PutNode writes one remote node record.
func (s *SQLiteStore) PutNode(h models.Handle, record []byte) error {
	blob, err := s.seal(record)
	if err != nil {
		return fmt.Errorf("seal record: %w", err)
	}
	_, err = s.db.Exec(`
        INSERT INTO nodes (handle, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(handle) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP
    `, int64(h), blob)
	if err != nil {
		return fmt.Errorf("put node %s: %w", h, err)
	}
	return nil
}

// DeleteNode removes a remote node record.
func (s *SQLiteStore) DeleteNode(h models.Handle) error {
	if _, err := s.db.Exec(`DELETE FROM nodes WHERE handle = ?`, int64(h)); err != nil {
		return fmt.Errorf("delete node %s: %w", h, err)
	}
	return nil
}

// WalkNodes streams every remote record. A record failing decryption
// is logged and skipped; the rest of the cache stays loadable.
func (s *SQLiteStore) WalkNodes(fn func(record []byte) error) error {
	rows, err := s.db.Query(`SELECT handle, record FROM nodes`)
	if err != nil {
		return fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle int64
		var blob []byte
		if err := rows.Scan(&handle, &blob); err != nil {
			return fmt.Errorf("scan node row: %w", err)
		}
		rec, err := s.open(blob)
		if err != nil {
			s.logger.WithError(err).WithField("handle", models.Handle(handle)).Warn("Skipping unreadable node record")
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PutLocalNode writes one local node record, assigning a dbid when
// none is given.
func (s *SQLiteStore) PutLocalNode(dbid int64, record []byte) (int64, error) {
	blob, err := s.seal(record)
	if err != nil {
		return 0, fmt.Errorf("seal record: %w", err)
	}
	if dbid == 0 {
		res, err := s.db.Exec(`INSERT INTO localnodes (record) VALUES (?)`, blob)
		if err != nil {
			return 0, fmt.Errorf("insert localnode: %w", err)
		}
		return res.LastInsertId()
	}
	_, err = s.db.Exec(`
        INSERT INTO localnodes (dbid, record, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(dbid) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP
    `, dbid, blob)
	if err != nil {
		return 0, fmt.Errorf("put localnode %d: %w", dbid, err)
	}
	return dbid, nil
}

// DeleteLocalNode removes a local node record.
func (s *SQLiteStore) DeleteLocalNode(dbid int64) error {
	if _, err := s.db.Exec(`DELETE FROM localnodes WHERE dbid = ?`, dbid); err != nil {
		return fmt.Errorf("delete localnode %d: %w", dbid, err)
	}
	return nil
}

// WalkLocalNodes streams every local record.
func (s *SQLiteStore) WalkLocalNodes(fn func(dbid int64, record []byte) error) error {
	rows, err := s.db.Query(`SELECT dbid, record FROM localnodes`)
	if err != nil {
		return fmt.Errorf("query localnodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dbid int64
		var blob []byte
		if err := rows.Scan(&dbid, &blob); err != nil {
			return fmt.Errorf("scan localnode row: %w", err)
		}
		rec, err := s.open(blob)
		if err != nil {
			s.logger.WithError(err).WithField("dbid", dbid).Warn("Skipping unreadable localnode record")
			continue
		}
		if err := fn(dbid, rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Clear drops all records.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM nodes; DELETE FROM localnodes;`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
