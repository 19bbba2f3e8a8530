package chromasort

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders images as a human-readable table.
func Table(is []*Image) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"File", "Size", "Colors", "Tags"})
	for _, i := range is {
		tw.AppendRow(table.Row{
			i.File.RelPath,
			humanize.Bytes(uint64(i.File.Size)),
			strings.Join(i.Colors, " "),
			strings.Join(i.Tags, ", "),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
