package tree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skeinsync/skein/internal/attrs"
	"github.com/skeinsync/skein/internal/crypto"
	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/tree"
)

var testMasterKey = []byte("0123456789abcdef")

func newTestTree(t *testing.T) (*tree.Tree, *crypto.Provider) {
	t.Helper()
	provider := crypto.NewProvider()
	return tree.New(provider, testMasterKey, events.NewTestLogger()), provider
}

func testLogger() *events.Logger {
	return events.NewTestLogger()
}

// cookedKey builds deterministic cooked key material of the given
// length, varied by seed so sibling fixtures don't collide.
func cookedKey(seed byte, size int) []byte {
	k := make([]byte, size)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

// encryptedNode builds a node whose key blob is sealed with encKey and
// whose attribute blob is sealed with the node's own cipher key.
func encryptedNode(t *testing.T, provider *crypto.Provider, encKey []byte,
	h, parent models.Handle, typ models.NodeType, name string, fp models.Fingerprint) *tree.Node {
	t.Helper()

	size := crypto.FolderKeyLen
	if typ == models.TypeFile {
		size = crypto.FileKeyLen
	}
	cooked := cookedKey(byte(h), size)

	keyBlob, err := provider.EncryptKey(encKey, cooked)
	require.NoError(t, err)

	plain, err := attrs.Build(name, fp, 0, nil)
	require.NoError(t, err)
	cipherKey, err := crypto.FileCipherKey(cooked)
	require.NoError(t, err)
	attrBlob, err := provider.EncryptAttr(cipherKey, plain)
	require.NoError(t, err)

	return tree.NewRemoteNode(h, parent, typ, models.Handle(1), 1700000000, keyBlob, attrBlob)
}

func putFolder(t *testing.T, tr *tree.Tree, provider *crypto.Provider, h, parent models.Handle, name string) *tree.Node {
	t.Helper()
	n := encryptedNode(t, provider, testMasterKey, h, parent, models.TypeFolder, name, models.Fingerprint{})
	require.NoError(t, tr.Put(n))
	return n
}

func putFile(t *testing.T, tr *tree.Tree, provider *crypto.Provider, h, parent models.Handle, name string, fp models.Fingerprint) *tree.Node {
	t.Helper()
	fp.Valid = true
	n := encryptedNode(t, provider, testMasterKey, h, parent, models.TypeFile, name, fp)
	require.NoError(t, tr.Put(n))
	return n
}

func fpOf(size, mtime int64, crc uint32) models.Fingerprint {
	return models.Fingerprint{
		Size:  size,
		MTime: mtime,
		CRC:   [models.CRCSize]uint32{crc, crc + 1, crc + 2, crc + 3},
		Valid: true,
	}
}
