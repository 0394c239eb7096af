package main

import (
	"fmt"
	"strings"
)

// tabulate lays out items in columns under headers. f returns the cells
// for one item.
func tabulate[T any](items []T, headers []string, f func(T) []string) ([]string, error) {
	columnWidths := make([]int, len(headers))
	for i, h := range headers {
		columnWidths[i] = len(h)
	}

	cells := make([][]string, len(items))

	for i, item := range items {
		cells[i] = f(item)

		if len(cells[i]) != len(headers) {
			return nil, fmt.Errorf("invalid number of columns for item %d", i)
		}

		for j, cell := range cells[i] {
			if len(cell) > columnWidths[j] {
				columnWidths[j] = len(cell)
			}
		}
	}

	row := func(cells []string) string {
		var b strings.Builder
		for i, cell := range cells {
			if i == len(cells)-1 {
				b.WriteString(cell)
			} else {
				fmt.Fprintf(&b, "%-*s", columnWidths[i]+3, cell)
			}
		}
		return b.String()
	}

	table := make([]string, 0, len(items)+2)
	table = append(table, row(headers))

	separator := make([]string, len(headers))
	for i := range headers {
		separator[i] = strings.Repeat("-", columnWidths[i])
	}
	table = append(table, row(separator))

	for _, c := range cells {
		table = append(table, row(c))
	}

	return table, nil
}
