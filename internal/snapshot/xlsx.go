package snapshot

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/venue-fusion/internal/model"
)

// SheetName is the worksheet written by ExportXLSX.
const SheetName = "venues"

var baseHeader = []string{
	"id", "name", "address", "phone", "latitude", "longitude",
	"open_hour", "close_hour", "price", "rating", "review_count",
	"facilities", "source", "sources", "confidence", "data_quality", "updated_at",
}

// Header returns the column names written by ExportXLSX.
func Header() []string {
	h := append([]string{}, baseHeader...)
	for _, f := range model.Facilities {
		h = append(h, f.Key)
	}
	return h
}

// ExportXLSX writes records to a single-sheet workbook at path.
func ExportXLSX(path string, records []model.MergedRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addRow(sheet, Header())
	for i := range records {
		addRow(sheet, recordRow(&records[i]))
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func recordRow(r *model.MergedRecord) []string {
	row := []string{
		strconv.FormatInt(r.ID, 10),
		r.Name,
		r.Address,
		r.Phone,
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		r.OpenHour,
		r.CloseHour,
		r.Price,
		formatFloat(r.Rating),
		strconv.Itoa(r.ReviewCount),
		r.Facilities,
		r.Source,
		strings.Join(r.Sources, ","),
		formatFloat(r.Confidence),
		formatFloat(r.DataQuality),
		"",
	}
	if !r.UpdatedAt.IsZero() {
		row[len(row)-1] = r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	for _, f := range model.Facilities {
		b := f.Get(&r.Venue)
		switch {
		case b == nil:
			row = append(row, "")
		case *b:
			row = append(row, "Y")
		default:
			row = append(row, "N")
		}
	}
	return row
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
