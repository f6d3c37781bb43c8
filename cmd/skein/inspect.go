package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skeinsync/skein/internal/models"
	"github.com/skeinsync/skein/internal/tree"
)

var inspectShowHandles bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the cached tree as decrypted display paths",
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectShowHandles, "handles", false,
		"Include node handles in the listing")
}

func runInspect(cmd *cobra.Command, args []string) error {
	t, store, err := openCachedTree()
	if err != nil {
		return err
	}
	defer store.Close()

	type row struct {
		path   string
		handle models.Handle
		node   *tree.Node
	}
	var rows []row
	t.Walk(func(n *tree.Node) bool {
		rows = append(rows, row{path: t.DisplayPath(n), handle: n.Handle, node: n})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })

	dim := color.New(color.Faint)
	for _, r := range rows {
		if inspectShowHandles {
			dim.Printf("%s  ", r.handle)
		}
		if r.node.Type == models.TypeFolder {
			color.Cyan(r.path)
		} else {
			fmt.Println(r.path)
		}
	}
	return nil
}
