package tree_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/tree"
)

func TestNode_DisplayName(t *testing.T) {
	n := tree.NewRemoteNode(1, models.UndefHandle, models.TypeFile, 0, 0, nil, nil)
	assert.Equal(t, tree.PlaceholderName, n.DisplayName())

	n.Attrs = map[string]string{}
	assert.Equal(t, tree.PlaceholderName, n.DisplayName())

	n.Attrs["n"] = "real-name.txt"
	assert.Equal(t, "real-name.txt", n.DisplayName())
}

func TestNode_HasFileAttribute(t *testing.T) {
	n := tree.NewRemoteNode(1, models.UndefHandle, models.TypeFile, 0, 0, nil, nil)
	n.FileAttr = "0*abc123/1*def456/"

	assert.True(t, n.HasFileAttribute(0))
	assert.True(t, n.HasFileAttribute(1))
	assert.False(t, n.HasFileAttribute(2))

	n.FileAttr = ""
	assert.False(t, n.HasFileAttribute(0))

	n.FileAttr = "garbage-without-separator"
	assert.False(t, n.HasFileAttribute(0))
}

func TestPublicLink_IsExpired(t *testing.T) {
	link := &tree.PublicLink{PH: 1}
	assert.False(t, link.IsExpired(), "no expiry means never expired")

	link.ETS = time.Now().Add(time.Hour).Unix()
	assert.False(t, link.IsExpired())

	link.ETS = time.Now().Add(-time.Hour).Unix()
	assert.True(t, link.IsExpired())
}

func TestNode_SetPublicLink(t *testing.T) {
	n := tree.NewRemoteNode(1, models.UndefHandle, models.TypeFolder, 0, 0, nil, nil)
	n.SetPublicLink(models.Handle(0x99), 10, 0, false)

	assert.NotNil(t, n.Link)
	assert.Equal(t, models.Handle(0x99), n.Link.PH)
	assert.True(t, n.Changed.PublicLink)
}

func TestChangeFlags_Any(t *testing.T) {
	var c tree.ChangeFlags
	assert.False(t, c.Any())
	c.Attrs = true
	assert.True(t, c.Any())
}
