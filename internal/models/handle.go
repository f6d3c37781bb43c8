package models

import "fmt"

// Handle identifies a remote node, user or share across the client.
type Handle uint64

// UndefHandle marks an unset handle (parent of a root, missing link).
const UndefHandle Handle = ^Handle(0)

// IsDef reports whether the handle carries a real identity.
func (h Handle) IsDef() bool {
	return h != UndefHandle
}

func (h Handle) String() string {
	if h == UndefHandle {
		return "undef"
	}
	return fmt.Sprintf("%016x", uint64(h))
}

// FsID is a local filesystem identity (inode equivalent) used for
// rename/move detection during scan passes.
type FsID uint64

// UndefFsID marks a local node whose filesystem identity is unknown.
const UndefFsID FsID = ^FsID(0)

// IsDefined reports whether the identity is known.
func (f FsID) IsDefined() bool {
	return f != UndefFsID
}

// NodeType distinguishes files from folders.
type NodeType int

const (
	TypeUnknown NodeType = iota - 1
	TypeFile
	TypeFolder
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// ShareAccess is the access level granted by a share.
type ShareAccess int

const (
	AccessReadOnly ShareAccess = iota
	AccessReadWrite
	AccessFull
)

// NewNodeSource records where a pending node-creation request came from.
type NewNodeSource int

const (
	NewNodeApp NewNodeSource = iota
	NewNodeSynced
	NewNodeUpload
)
