package schema

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// TemplateSheetName is the name of the single sheet in the import template.
const TemplateSheetName = "Items"

// TemplateExamples returns illustrative body rows for the import template,
// one value per catalog field in declaration order.
func TemplateExamples() [][]string {
	first := make([]string, fieldCount)
	for i, tf := range catalog {
		first[i] = tf.Example
	}

	second := make([]string, fieldCount)
	second[FieldName] = "Hydrochloric Acid 37%"
	second[FieldBrand] = "Merck"
	second[FieldCatalogNumber] = "100317"
	second[FieldItemType] = "chemical"
	second[FieldSafetyLevel] = "high"
	second[FieldCurrentQuantity] = "3"
	second[FieldUnit] = "bottle"
	second[FieldLocation] = "Acid cabinet"
	second[FieldIsBorrowable] = "no"

	return [][]string{first, second}
}

// WriteTemplate writes the import template workbook to w. The header row is
// exactly Labels(); the body rows are TemplateExamples().
func WriteTemplate(w io.Writer) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(TemplateSheetName)
	if err != nil {
		return eris.Wrap(err, "schema: template: add sheet")
	}

	header := sheet.AddRow()
	for _, label := range Labels() {
		header.AddCell().SetString(label)
	}

	for _, example := range TemplateExamples() {
		row := sheet.AddRow()
		for _, v := range example {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "schema: template: write workbook")
	}
	return nil
}
