package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

var (
	ErrNotPDF    = errors.New("content is not a PDF document")
	ErrMalformed = errors.New("malformed PDF document")
)

// pageDecorator draws on a rebuilt page. It runs before the imported page
// when under is true and after it otherwise.
type pageDecorator func(doc *gofpdf.Fpdf, page, total int, w, h float64, under bool)

// rebuild re-renders every page of src into a fresh document written to dst.
// Page content is carried over as form XObjects; interactive form fields and
// annotations are not.
func rebuild(src, dst string, decorate pageDecorator, setup func(doc *gofpdf.Fpdf) error) (pages int, err error) {
	// gofpdi reports parse failures by panicking.
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	if err := sniffPDF(src); err != nil {
		return 0, err
	}

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetCompression(true)
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	if setup != nil {
		if err := setup(doc); err != nil {
			return 0, err
		}
	}

	imp := gofpdi.NewImporter()
	first := imp.ImportPage(doc, src, 1, "/MediaBox")
	sizes := imp.GetPageSizes()
	total := len(sizes)
	if total == 0 {
		return 0, fmt.Errorf("%w: no pages", ErrMalformed)
	}

	for p := 1; p <= total; p++ {
		tpl := first
		if p > 1 {
			tpl = imp.ImportPage(doc, src, p, "/MediaBox")
		}
		box := sizes[p]["/MediaBox"]
		w, h := box["w"], box["h"]

		doc.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
		if decorate != nil {
			decorate(doc, p, total, w, h, true)
		}
		imp.UseImportedTemplate(doc, tpl, 0, 0, w, h)
		if decorate != nil {
			decorate(doc, p, total, w, h, false)
		}
	}

	if err := doc.OutputFileAndClose(dst); err != nil {
		return 0, fmt.Errorf("failed to write PDF: %w", err)
	}
	return total, nil
}

func sniffPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	if !bytes.Contains(head[:n], []byte("%PDF-")) {
		return ErrNotPDF
	}
	return nil
}
