package hifi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteTable prints the scalar fields followed by the heatmap, one grid row
// per line with tab separated values.
func WriteTable(w io.Writer, r *Result) error {
	if _, err := fmt.Fprintf(w, "Width: %d\nHeight: %d\nAnomalyScore: %s\nHeatmap:\n",
		r.Width, r.Height, formatFloat(r.AnomalyScore)); err != nil {
		return err
	}

	grid, err := r.Grid()
	if err != nil {
		return err
	}
	for _, row := range grid {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatFloat(v)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
