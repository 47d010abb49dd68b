package table

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// maxDisplayRows is the number of rows shown before the display elides the
// middle of the table.
const maxDisplayRows = 20

// String renders the table as aligned text with a leading row index and a
// trailing shape line.
func (t *Table) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprint(w, "\t")
	for _, c := range t.columns {
		fmt.Fprintf(w, "%s\t", c)
	}
	fmt.Fprintln(w)

	writeRow := func(i int) {
		fmt.Fprintf(w, "%d\t", i)
		for _, v := range t.rows[i] {
			s := FormatCell(v)
			if v == nil {
				s = "null"
			}
			fmt.Fprintf(w, "%s\t", s)
		}
		fmt.Fprintln(w)
	}

	n := len(t.rows)
	if n <= maxDisplayRows {
		for i := 0; i < n; i++ {
			writeRow(i)
		}
	} else {
		half := maxDisplayRows / 2
		for i := 0; i < half; i++ {
			writeRow(i)
		}
		fmt.Fprint(w, "...\t")
		for range t.columns {
			fmt.Fprint(w, "...\t")
		}
		fmt.Fprintln(w)
		for i := n - half; i < n; i++ {
			writeRow(i)
		}
	}
	_ = w.Flush()

	fmt.Fprintf(&b, "\n[%d rows x %d columns]", n, len(t.columns))
	return b.String()
}
