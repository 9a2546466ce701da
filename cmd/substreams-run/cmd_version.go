package main

import (
	"fmt"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/yokecd/substreams/internal"
)

func Version() error {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleRounded)

	tbl.AppendRow(table.Row{"substreams-run", internal.Version()})
	tbl.AppendSeparator()

	modules := []string{
		"github.com/tetratelabs/wazero",
		"google.golang.org/protobuf",
	}

	for _, mod := range internal.Mods() {
		if slices.Contains(modules, mod.Path) {
			tbl.AppendRow(table.Row{mod.Path, mod.Version})
		}
	}

	fmt.Println(tbl.Render())

	return nil
}
