package state

import "github.com/skeinsync/skein/internal/models"

// Store is the persistence collaborator for node records. Remote
// records are keyed by node handle, local records by database id.
type Store interface {
	// PutNode writes (or replaces) one remote node record.
	PutNode(h models.Handle, record []byte) error

	// DeleteNode removes a remote node record.
	DeleteNode(h models.Handle) error

	// WalkNodes streams every remote record in unspecified order.
	WalkNodes(fn func(record []byte) error) error

	// PutLocalNode writes one local node record, returning the
	// assigned database id when dbid is zero.
	PutLocalNode(dbid int64, record []byte) (int64, error)

	// DeleteLocalNode removes a local node record.
	DeleteLocalNode(dbid int64) error

	// WalkLocalNodes streams every local record.
	WalkLocalNodes(fn func(dbid int64, record []byte) error) error

	// Clear drops all records.
	Clear() error

	// Close releases resources.
	Close() error
}
