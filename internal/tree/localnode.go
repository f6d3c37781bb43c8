package tree

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/skeinsync/skein/internal/models"
)

// LocalFlags is the compact flag set on a local node.
type LocalFlags struct {
	// Entry was actively deleted.
	Deleted bool

	// Remote counterpart has been created.
	Created bool

	// An issue on this entry has been reported.
	Reported bool

	// Checked for missing file attributes.
	Checked bool
}

// LocalNode mirrors one local filesystem position, independent of
// whether a matching remote Node exists yet.
type LocalNode struct {
	tree *LocalTree

	Parent *LocalNode

	// Stored parent database id, kept to rebuild linkage after
	// deserialization; must survive independently of Parent.
	ParentDBID int64

	// Own database id in the state cache; zero until persisted.
	DBID int64

	// Current on-disk name; key in the parent's child map.
	Name string

	// Legacy short name on filesystems that expose both, or empty.
	ShortName string

	// Children keyed by (normalized) name, plus the legacy short-name
	// alias map.
	Children  map[string]*LocalNode
	SChildren map[string]*LocalNode

	// Filesystem identity (inode equivalent) for rename/move detection.
	FsID models.FsID

	// Advisory association to the remote node; never ownership.
	Node *Node

	// Pending remote creation, or nil.
	New *NewNode

	Type models.NodeType

	// Content fingerprint of the on-disk file, for matching.
	Fingerprint models.Fingerprint

	// Scan generation this entry was last observed in.
	ScanSeq int

	// Scan passes since last observed; drives confirmed-absent
	// deletion. NotSeenSeq records the generation of the last
	// increment so duplicate vanish notifications within one pass
	// count once.
	NotSeen    int
	NotSeenSeq int

	// Global sync identity.
	SyncID models.Handle

	Flags LocalFlags

	// Current and last-displayed subtree sync state.
	State      TreeState
	ShownState TreeState

	// Upload start is delayed until this deadline so rapidly-changing
	// files don't trigger an upload per write.
	NagleDeadline time.Time
}

// normalizeName produces the canonical child-map key for a local name.
// NFC keeps names stable across filesystems that return decomposed
// UTF-8.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

// ChildByName returns the child with the given on-disk name, or nil.
// The legacy short-name map is consulted after the primary map.
func (n *LocalNode) ChildByName(name string) *LocalNode {
	key := normalizeName(name)
	if c, ok := n.Children[key]; ok {
		return c
	}
	if c, ok := n.SChildren[key]; ok {
		return c
	}
	return nil
}

// IsRoot reports whether the node is the sync root.
func (n *LocalNode) IsRoot() bool { return n.Parent == nil }

// BumpNagle pushes the upload-delay deadline out by d.
func (n *LocalNode) BumpNagle(d time.Duration) {
	n.NagleDeadline = time.Now().Add(d)
}

// NagleElapsed reports whether the upload delay has passed.
func (n *LocalNode) NagleElapsed() bool {
	return !n.NagleDeadline.After(time.Now())
}
