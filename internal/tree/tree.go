package tree

import (
	"strings"

	"github.com/skeinsync/skein/internal/attrs"
	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// NodeCounter aggregates file/folder counts and total storage over a
// subtree.
type NodeCounter struct {
	Files   int64
	Folders int64
	Storage int64
}

// Add merges another counter in.
func (c *NodeCounter) Add(o NodeCounter) {
	c.Files += o.Files
	c.Folders += o.Folders
	c.Storage += o.Storage
}

// Tree owns all remote nodes, their parent/child links and the
// fingerprint index. All mutation happens on one control goroutine;
// the tree itself takes no locks.
type Tree struct {
	cipher    crypto.Cipher
	masterKey []byte
	logger    *events.Logger

	nodes        map[models.Handle]*Node
	fingerprints *Fingerprints

	// Handle of the account root folder, once known.
	RootHandle models.Handle
}

// New creates an empty remote tree bound to a cipher collaborator and
// the session master key.
func New(cipher crypto.Cipher, masterKey []byte, logger *events.Logger) *Tree {
	return &Tree{
		cipher:       cipher,
		masterKey:    masterKey,
		logger:       logger.WithField("component", "remote_tree"),
		nodes:        make(map[models.Handle]*Node),
		fingerprints: NewFingerprints(),
		RootHandle:   models.UndefHandle,
	}
}

// Get returns the node for a handle, or nil.
func (t *Tree) Get(h models.Handle) *Node {
	return t.nodes[h]
}

// Len returns the number of nodes held.
func (t *Tree) Len() int { return len(t.nodes) }

// Fingerprints exposes the content index for duplicate/move lookups.
func (t *Tree) Fingerprints() *Fingerprints { return t.fingerprints }

// Walk visits every node in no particular order.
func (t *Tree) Walk(fn func(*Node) bool) {
	for _, n := range t.nodes {
		if !fn(n) {
			return
		}
	}
}

// Register adds a node to the handle table without structural linkage
// or key resolution. Deserialization uses it for pass one; normal
// event processing goes through Put.
func (t *Tree) Register(n *Node) {
	t.nodes[n.Handle] = n
}

// Put registers an unlinked node, resolves its key if possible, links
// it under its parent handle and indexes its fingerprint. A node whose
// parent is not (yet) present stays an unlinked root; the caller
// decides whether that is an orphan worth flagging.
func (t *Tree) Put(n *Node) error {
	t.nodes[n.Handle] = n
	n.Changed.NewNode = true

	t.ResolveKey(n)

	if n.ParentHandle.IsDef() {
		if p := t.nodes[n.ParentHandle]; p != nil {
			if err := t.Attach(n, p); err != nil {
				return err
			}
		}
	}
	t.fingerprints.Add(n)
	return nil
}

// Attach moves a node under a new parent: unlink from the current
// parent, relink under newParent. Fingerprint-index membership is left
// untouched; it depends only on content, not position. Fails with
// CycleError, leaving the tree unchanged, if newParent sits inside the
// node's own subtree.
func (t *Tree) Attach(n, newParent *Node) error {
	if n == newParent || t.IsBelow(newParent, n) {
		return &models.CycleError{Node: n.Handle, Parent: newParent.Handle}
	}

	t.Detach(n)

	n.Parent = newParent
	n.ParentHandle = newParent.Handle
	newParent.Children = append(newParent.Children, n)
	n.Changed.Parent = true
	return nil
}

// Detach unlinks a node from its parent, leaving it a root. Index
// membership is untouched.
func (t *Tree) Detach(n *Node) {
	p := n.Parent
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.Parent = nil
	n.ParentHandle = models.UndefHandle
}

// Remove deletes a node and its entire subtree: children first, then
// index membership, cross-tree associations and the handle table entry.
func (t *Tree) Remove(n *Node) {
	for len(n.Children) > 0 {
		t.Remove(n.Children[len(n.Children)-1])
	}
	t.Detach(n)
	t.fingerprints.Remove(n)
	if n.Local != nil {
		n.Local.Node = nil
		n.Local = nil
	}
	n.Changed.Removed = true
	delete(t.nodes, n.Handle)
}

// FirstAncestor walks parent links to the root of the (sub)tree the
// node lives in. A detached node is its own root.
func (t *Tree) FirstAncestor(n *Node) *Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// IsBelow reports whether repeated parent traversal from n reaches
// ancestor. O(depth), never a subtree scan.
func (t *Tree) IsBelow(n, ancestor *Node) bool {
	for ; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// DisplayPath builds the root-to-node path from decrypted display
// names. Undecrypted nodes contribute a placeholder segment, never a
// failure.
func (t *Tree) DisplayPath(n *Node) string {
	var segs []string
	for ; n != nil; n = n.Parent {
		segs = append(segs, n.DisplayName())
	}
	var sb strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(segs[i])
	}
	return sb.String()
}

// SetAttributes applies a decrypted attribute blob to a node: parses
// name, fingerprint and metadata, refreshes index membership when the
// fingerprint changed, and marks the attrs dirty flag. A partially
// parseable blob keeps whatever was recovered and marks the node
// corrupt; the returned error is informational.
func (t *Tree) SetAttributes(n *Node, plain []byte) error {
	res, err := attrs.Parse(plain)

	n.Attrs = res.Attrs
	if res.Corrupt {
		n.Corrupt = true
	}
	if res.CTime != 0 {
		n.CTime = res.CTime
	}
	if res.FileAttr != "" {
		n.FileAttr = res.FileAttr
		n.Changed.FileAttr = true
	}

	if n.Type == models.TypeFile && res.Fingerprint.Valid && !res.Fingerprint.EqualTo(n.Fingerprint) {
		t.fingerprints.Remove(n)
		n.Fingerprint = res.Fingerprint
		t.fingerprints.Add(n)
	}

	n.Changed.Attrs = true

	if err != nil {
		if ce, ok := err.(*models.CorruptAttributeError); ok {
			ce.Handle = n.Handle
		}
		return err
	}
	return nil
}

// DecryptAttr runs an attribute blob through the cipher collaborator
// with a resolved node cipher key, verifying the plaintext magic.
func (t *Tree) DecryptAttr(key, blob []byte) ([]byte, error) {
	return attrs.Decrypt(t.cipher, key, blob)
}

// SubtreeCounts aggregates file count, folder count and total size over
// the subtree rooted at n, computed on demand by recursive traversal.
func (t *Tree) SubtreeCounts(n *Node) NodeCounter {
	var c NodeCounter
	switch n.Type {
	case models.TypeFile:
		c.Files++
		if n.Fingerprint.Valid {
			c.Storage += n.Fingerprint.Size
		}
	case models.TypeFolder:
		c.Folders++
	}
	for _, child := range n.Children {
		c.Add(t.SubtreeCounts(child))
	}
	return c
}

// Roots returns all nodes without a parent, in handle order not
// guaranteed.
func (t *Tree) Roots() []*Node {
	var roots []*Node
	for _, n := range t.nodes {
		if n.Parent == nil {
			roots = append(roots, n)
		}
	}
	return roots
}

// ClearChanged resets every node's dirty flags after a notification
// round.
func (t *Tree) ClearChanged() {
	for _, n := range t.nodes {
		n.Changed = ChangeFlags{}
	}
}
