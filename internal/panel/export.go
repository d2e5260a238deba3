package panel

import (
	"encoding/csv"
	"io"
)

var csvHeader = []string{"BRAND", "TITLE", "ASIN", "STATUS"}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Brand, r.Title, r.ItemID, r.Status}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
