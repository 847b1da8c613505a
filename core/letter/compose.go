package letter

import (
	"bytes"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"github.com/kpsipet/pengaduan/core"
)

const (
	title      = "SURAT PEMBERITAHUAN PELANGGARAN SISWA"
	footerNote = "Catatan: Surat ini dibuat secara otomatis oleh sistem informasi pengaduan siswa."

	// A4 in points
	marginTop    = 50.0
	marginSide   = 60.0
	marginBottom = 90.0 // room for the footer note
	signatureX   = 350.0
	lineHeight   = 15.0
)

// Composer lays out letters under the letterhead of one school.
type Composer struct {
	school   core.SchoolConfig
	compress bool
}

func NewComposer(school core.SchoolConfig) *Composer {
	return &Composer{school: school, compress: true}
}

// Compose renders tmpl with data and lays the letter out as a PDF document.
// The output only depends on its inputs: document dates are pinned to data.LetterDate.
func (c *Composer) Compose(tmpl string, data Context) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("") // cp1252
	pageW, _ := pdf.GetPageSize()

	pdf.SetCompression(c.compress)
	pdf.SetMargins(marginSide, marginTop, marginSide)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.SetCreationDate(data.LetterDate)
	pdf.SetModificationDate(data.LetterDate)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(title+" "+data.LetterNumber, true)
	pdf.SetCreator(c.school.Name, true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-80)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 12, tr(footerNote), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	line := func(txt, align string) {
		pdf.CellFormat(0, lineHeight, tr(txt), "", 1, align, false, 0, "")
	}
	lineAt := func(x float64, txt string) {
		pdf.SetX(x)
		line(txt, "L")
	}

	// letterhead
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 20, tr(c.school.Level), "", 1, "C", false, 0, "")
	pdf.SetFontSize(18)
	pdf.CellFormat(0, 22, tr(c.school.Name), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 13, tr(c.school.Address), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 13, tr(c.school.Contact), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	y := pdf.GetY()
	lw := pdf.GetLineWidth()
	pdf.SetLineWidth(2)
	pdf.Line(marginSide, y, pageW-marginSide, y)
	pdf.SetLineWidth(lw)
	pdf.Ln(22)

	// title
	pdf.SetFont("Helvetica", "BU", 14)
	pdf.CellFormat(0, 18, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	// letter details
	pdf.SetFont("Helvetica", "", 11)
	line("Nomor: "+data.LetterNumber, "L")
	line("Tanggal: "+FormatDate(data.LetterDate), "L")
	pdf.Ln(lineHeight)

	// recipient
	line("Kepada Yth,", "L")
	lineAt(marginSide+20, "Orang Tua/Wali Siswa")
	pdf.SetFont("Helvetica", "B", 11)
	lineAt(marginSide+20, data.Student.Name)
	pdf.SetFont("Helvetica", "", 11)
	line("Di tempat", "L")
	pdf.Ln(lineHeight)

	line("Dengan hormat,", "L")
	pdf.Ln(lineHeight / 2)

	// body
	pdf.MultiCell(0, lineHeight+4, tr(Render(tmpl, data)), "", "J", false)
	pdf.Ln(2 * lineHeight)

	// signature
	lineAt(signatureX, c.school.Place+", "+FormatDate(data.Today))
	pdf.Ln(lineHeight / 2)
	lineAt(signatureX, c.school.SigneeTitle)
	pdf.Ln(3 * lineHeight)
	pdf.SetFont("Helvetica", "B", 11)
	lineAt(signatureX, c.school.SigneeName)
	pdf.SetFont("Helvetica", "", 11)
	lineAt(signatureX, c.school.SigneeID)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "rendering pdf")
	}
	return buf.Bytes(), nil
}
