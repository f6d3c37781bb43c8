// Package tree holds the dual-tree data model of the sync core: the
// remote encrypted node tree, its local filesystem mirror, and the
// fingerprint index that ties the two together.
package tree

import (
	"strconv"
	"strings"
	"time"

	"github.com/skeinsync/skein/internal/models"
)

// NodeCore carries the fields shared by full nodes and pending
// node-creation requests.
type NodeCore struct {
	// Own identity handle.
	Handle models.Handle

	// Parent handle; in a Node this is a temporary placeholder until
	// the parent pointer is linked.
	ParentHandle models.Handle

	Type models.NodeType

	// Node key, raw or cooked. Cooked iff its length matches the
	// folder or file key length.
	Key []byte

	// Encrypted attribute blob.
	AttrBlob []byte
}

// UploadTokenLen is the length of an upload completion token.
const UploadTokenLen = 36

// NewNode is a transient request to create a remote node, batched for
// the out-of-scope command protocol.
type NewNode struct {
	NodeCore

	Source models.NewNodeSource

	// Handle of the node this creation overwrites, if any.
	OverwriteHandle models.Handle

	// Client-local upload session handle.
	UploadHandle models.Handle
	UploadToken  [UploadTokenLen]byte

	// Correlation back to the local side.
	SyncID models.Handle
	Local  *LocalNode

	FileAttr string

	// Set once the remote acknowledges the creation.
	Added bool
}

// Share is an inbound, outbound or pending share on a node.
type Share struct {
	User    models.Handle
	Access  models.ShareAccess
	TS      int64
	Pending bool
}

// PublicLink is an externally shareable handle granting access to one
// node independent of account sharing.
type PublicLink struct {
	PH        models.Handle
	CTS       int64
	ETS       int64
	TakenDown bool
}

// IsExpired is true iff an expiry time is set and has elapsed.
func (p *PublicLink) IsExpired() bool {
	return p.ETS != 0 && p.ETS < time.Now().Unix()
}

// ChangeFlags is the per-node dirty set used for incremental change
// notification. Flags are independent, never mutually exclusive.
type ChangeFlags struct {
	Removed       bool
	Attrs         bool
	Owner         bool
	CTime         bool
	FileAttr      bool
	InShare       bool
	OutShares     bool
	PendingShares bool
	Parent        bool
	PublicLink    bool
	NewNode       bool
}

// Any reports whether any flag is set.
func (c ChangeFlags) Any() bool {
	return c != ChangeFlags{}
}

// Node is a remote tree entry: file or folder, with encrypted key and
// attributes.
type Node struct {
	NodeCore

	// Content fingerprint, valid only for decoded file nodes.
	Fingerprint models.Fingerprint

	Owner models.Handle
	CTime int64

	// Decrypted attribute map; nil until the key resolves.
	Attrs map[string]string

	// File-attribute descriptor string (thumbnails etc., opaque here).
	FileAttr string

	InShare       *Share
	OutShares     map[models.Handle]*Share
	PendingShares map[models.Handle]*Share

	// Resolved share symmetric key, when this node roots a share.
	ShareKey []byte

	// Opaque application-supplied pointer.
	AppData interface{}

	// Key belongs to a share and could not be decrypted with any key
	// currently held.
	ForeignKey bool

	// Attribute blob decrypted but only partially parseable.
	Corrupt bool

	Changed ChangeFlags

	Link *PublicLink

	Parent   *Node
	Children []*Node

	// Advisory association to the local mirror; never ownership.
	Local *LocalNode

	// Key validated and reduced to cooked form.
	keyOK bool

	// Membership in the fingerprint index (files only).
	indexed bool
}

// NewRemoteNode constructs an unlinked node. Structural linkage goes
// through Tree.Attach.
func NewRemoteNode(h, parent models.Handle, typ models.NodeType, owner models.Handle, ctime int64, key, attr []byte) *Node {
	return &Node{
		NodeCore: NodeCore{
			Handle:       h,
			ParentHandle: parent,
			Type:         typ,
			Key:          key,
			AttrBlob:     attr,
		},
		Owner: owner,
		CTime: ctime,
	}
}

// KeyResolved reports whether the node key has been validated and
// cooked.
func (n *Node) KeyResolved() bool { return n.keyOK }

// PlaceholderName stands in for nodes whose attributes are not yet
// decrypted when building display paths.
const PlaceholderName = "NO_NAME"

// DisplayName returns the decrypted name or a placeholder.
func (n *Node) DisplayName() string {
	if n.Attrs == nil {
		return PlaceholderName
	}
	name, ok := n.Attrs["n"]
	if !ok || name == "" {
		return PlaceholderName
	}
	return name
}

// SetPublicLink attaches or replaces the node's public link.
func (n *Node) SetPublicLink(ph models.Handle, cts, ets int64, takenDown bool) {
	n.Link = &PublicLink{PH: ph, CTS: cts, ETS: ets, TakenDown: takenDown}
	n.Changed.PublicLink = true
}

// HasFileAttribute checks presence of a typed file attribute inside
// the descriptor string (format "<type>*<handle>/...").
func (n *Node) HasFileAttribute(t int) bool {
	return hasFileAttribute(n.FileAttr, t)
}

func hasFileAttribute(fileAttr string, t int) bool {
	for _, seg := range strings.Split(fileAttr, "/") {
		typ, _, ok := strings.Cut(seg, "*")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(typ); err == nil && n == t {
			return true
		}
	}
	return false
}
