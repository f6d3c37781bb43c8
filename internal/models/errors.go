package models

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrStateNotFound  = errors.New("state not found")
	ErrStateCorrupt   = errors.New("state record is corrupt")
	ErrKeyUnresolved  = errors.New("node key not resolved")
	ErrSessionClosed  = errors.New("session closed")
	ErrAlreadySyncing = errors.New("sync already in progress")
)

// CycleError rejects an attach that would make a node its own
// ancestor. The tree is left unchanged.
type CycleError struct {
	Node   Handle
	Parent Handle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("attach %s under %s would create a cycle", e.Node, e.Parent)
}

// DecryptError reports a cipher-level failure: wrong key size or
// malformed ciphertext. The node stays in the tree with its key and
// attributes unresolved.
type DecryptError struct {
	Handle Handle
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Handle.IsDef() {
		return fmt.Sprintf("decrypt node %s: %s: %v", e.Handle, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// CorruptAttributeError reports a parse failure on a decrypted
// attribute blob. Whatever fields were recovered are retained and the
// node is marked corrupt rather than removed.
type CorruptAttributeError struct {
	Handle Handle
	Reason string
}

func (e *CorruptAttributeError) Error() string {
	return fmt.Sprintf("corrupt attributes on node %s: %s", e.Handle, e.Reason)
}

// OrphanNodeError reports a node whose parent handle could not be
// resolved during deserialization. The node is kept as a root.
type OrphanNodeError struct {
	Handle Handle
	Parent Handle
}

func (e *OrphanNodeError) Error() string {
	return fmt.Sprintf("node %s references missing parent %s, kept as root", e.Handle, e.Parent)
}

// DuplicateFsIDError reports two local entries observed with the same
// filesystem identity in one scan pass. It is surfaced to the scan
// collaborator for move-vs-copy disambiguation, never resolved here.
type DuplicateFsIDError struct {
	FsID     FsID
	Existing string
	Observed string
}

func (e *DuplicateFsIDError) Error() string {
	return fmt.Sprintf("fsid %x seen at both %q and %q in one scan pass", uint64(e.FsID), e.Existing, e.Observed)
}
