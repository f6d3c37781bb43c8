package tree

import (
	"bytes"

	"github.com/skeinsync/skein/internal/attrs"
	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/models"
)

// cookedLen reports whether a key blob is in cooked form for the
// node's type.
func cookedLen(typ models.NodeType, key []byte) bool {
	switch typ {
	case models.TypeFile:
		return len(key) == crypto.FileKeyLen
	case models.TypeFolder:
		return len(key) == crypto.FolderKeyLen
	default:
		return false
	}
}

// ResolveKey tries to resolve the node's content key and, on success,
// decodes its attributes. Resolution order: a cooked-length key that is
// not foreign decodes against the tree's own master key; otherwise each
// ancestor holding a resolved share key is tried walking upward, first
// success wins. If nothing decodes, the node is marked foreignkey and
// left encrypted — a normal state, not an error, retried only when a
// new share key arrives.
//
// Calling ResolveKey on an already-resolved node is a no-op: same key
// bytes, no cipher calls.
func (t *Tree) ResolveKey(n *Node) bool {
	if n.keyOK {
		return true
	}
	if len(n.Key) == 0 {
		return false
	}

	if cookedLen(n.Type, n.Key) && !n.ForeignKey {
		if t.tryKey(n, t.masterKey) {
			return true
		}
	}

	for a := n.Parent; a != nil; a = a.Parent {
		if a.ShareKey == nil {
			continue
		}
		if t.tryKey(n, a.ShareKey) {
			return true
		}
	}

	n.ForeignKey = true
	return false
}

// tryKey decrypts the node key with one candidate decryption key and
// validates the result against the attribute blob. On success the
// cooked key replaces the raw blob and attributes are applied.
func (t *Tree) tryKey(n *Node, decKey []byte) bool {
	cooked, err := t.cipher.DecryptKey(decKey, n.Key)
	if err != nil || !cookedLen(n.Type, cooked) {
		return false
	}

	cipherKey, err := crypto.FileCipherKey(cooked)
	if err != nil {
		return false
	}

	// Validation: the attribute blob must decrypt to the magic prefix
	// under the candidate key. Without a blob there is nothing to
	// check, so only the length gate above applies.
	var plain []byte
	if len(n.AttrBlob) > 0 {
		plain, err = t.cipher.DecryptAttr(cipherKey, n.AttrBlob)
		if err != nil || !attrs.HasMagic(plain) {
			return false
		}
	}

	n.Key = cooked
	n.keyOK = true
	n.ForeignKey = false

	if plain != nil {
		if err := t.SetAttributes(n, plain); err != nil {
			t.logger.WithError(err).WithField("handle", n.Handle).Warn("Attributes only partially decoded")
		}
	}
	return true
}

// NodeCipherKey returns the 16-byte cipher key for a resolved node.
func (n *Node) NodeCipherKey() ([]byte, error) {
	if !n.keyOK {
		return nil, models.ErrKeyUnresolved
	}
	return crypto.FileCipherKey(n.Key)
}

// SetShareKey attaches a resolved share key to a node and eagerly
// re-resolves every foreign-marked descendant, now that a new
// decryption key is available.
func (t *Tree) SetShareKey(n *Node, key []byte) {
	if bytes.Equal(n.ShareKey, key) {
		return
	}
	n.ShareKey = key
	n.Changed.InShare = true

	t.reresolveForeign(n)
}

func (t *Tree) reresolveForeign(n *Node) {
	for _, c := range n.Children {
		if c.ForeignKey && !c.keyOK {
			c.ForeignKey = false
			if !t.ResolveKey(c) {
				t.logger.WithField("handle", c.Handle).Debug("Node key still unresolved after new share key")
			} else {
				t.fingerprints.Add(c)
			}
		}
		t.reresolveForeign(c)
	}
}
