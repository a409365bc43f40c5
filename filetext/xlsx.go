package filetext

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor renders each sheet as a pipe-delimited text table, one
// block per sheet.
type XLSXExtractor struct{}

func (XLSXExtractor) SupportedExtensions() []string { return []string{"xlsx", "xls"} }

func (XLSXExtractor) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(sheet + "\n")
		for _, row := range rows {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		sheets = append(sheets, strings.TrimSpace(b.String()))
	}

	return strings.Join(sheets, "\n\n"), nil
}
