package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

type PageSelection string

const (
	PagesAll      PageSelection = "all"
	PagesFirst    PageSelection = "first"
	PagesLast     PageSelection = "last"
	PagesSpecific PageSelection = "specific"
)

type Depth string

const (
	DepthOver  Depth = "over"
	DepthUnder Depth = "under"
)

// StampOptions controls the visible mark. Lines are drawn vertically along
// the right edge of each selected page, centred on the vertical midpoint.
// The last line sits closest to the edge.
type StampOptions struct {
	Lines       []string
	FontFamily  string
	FontSize    float64
	MarginX     float64
	LineSpacing float64
	Pages       PageSelection
	PageNumber  int
	Depth       Depth

	// Optional image placed in the lower right corner.
	Image      []byte
	ImageType  string
	ImageWidth float64
	MarginY    float64
}

func (o StampOptions) withDefaults() StampOptions {
	if o.FontFamily == "" {
		o.FontFamily = "Helvetica"
	}
	if o.FontSize <= 0 {
		o.FontSize = 9
	}
	if o.MarginX <= 0 {
		o.MarginX = 4
	}
	if o.LineSpacing <= 0 {
		o.LineSpacing = 12
	}
	if o.Pages == "" {
		o.Pages = PagesAll
	}
	if o.Depth == "" {
		o.Depth = DepthOver
	}
	if o.ImageWidth <= 0 {
		o.ImageWidth = 60
	}
	if o.MarginY <= 0 {
		o.MarginY = 10
	}
	return o
}

func (o StampOptions) selects(page, total int) bool {
	switch o.Pages {
	case PagesFirst:
		return page == 1
	case PagesLast:
		return page == total
	case PagesSpecific:
		return page == o.PageNumber
	default:
		return true
	}
}

type Stamper interface {
	// Stamp writes a copy of src with the mark applied to dst and reports how
	// many pages were marked.
	Stamp(ctx context.Context, src, dst string, opts StampOptions) (int, error)
}

type gofpdfStamper struct{}

func NewStamper() Stamper {
	return &gofpdfStamper{}
}

const stampImageName = "signature-stamp"

func (s *gofpdfStamper) Stamp(ctx context.Context, src, dst string, opts StampOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	opts = opts.withDefaults()

	var tr func(string) string
	setup := func(doc *gofpdf.Fpdf) error {
		tr = doc.UnicodeTranslatorFromDescriptor("")
		if len(opts.Image) == 0 {
			return nil
		}
		imgOpts := gofpdf.ImageOptions{ImageType: strings.ToUpper(opts.ImageType)}
		doc.RegisterImageOptionsReader(stampImageName, imgOpts, bytes.NewReader(opts.Image))
		if err := doc.Error(); err != nil {
			return fmt.Errorf("failed to load stamp image: %w", err)
		}
		return nil
	}

	stamped := 0
	decorate := func(doc *gofpdf.Fpdf, page, total int, w, h float64, under bool) {
		if !opts.selects(page, total) || under != (opts.Depth == DepthUnder) {
			return
		}
		drawLines(doc, tr, w, h, opts)
		if len(opts.Image) > 0 {
			drawImage(doc, w, h, opts)
		}
		stamped++
	}

	if _, err := rebuild(src, dst, decorate, setup); err != nil {
		return 0, err
	}
	if opts.Pages == PagesSpecific && stamped == 0 {
		return 0, fmt.Errorf("page %d does not exist", opts.PageNumber)
	}
	return stamped, nil
}

func drawLines(doc *gofpdf.Fpdf, tr func(string) string, w, h float64, opts StampOptions) {
	doc.SetFont(opts.FontFamily, "", opts.FontSize)
	doc.SetTextColor(0, 0, 0)
	cy := h / 2
	n := len(opts.Lines)
	for i, line := range opts.Lines {
		if line == "" {
			continue
		}
		x := w - opts.MarginX - float64(n-1-i)*opts.LineSpacing
		text := tr(line)
		width := doc.GetStringWidth(text)

		doc.TransformBegin()
		doc.TransformRotate(90, x, cy)
		doc.Text(x-width/2, cy, text)
		doc.TransformEnd()
	}
}

func drawImage(doc *gofpdf.Fpdf, w, h float64, opts StampOptions) {
	info := doc.GetImageInfo(stampImageName)
	if info == nil || info.Width() == 0 {
		return
	}
	imgH := opts.ImageWidth * info.Height() / info.Width()
	x := w - opts.ImageWidth - opts.MarginX - float64(len(opts.Lines))*opts.LineSpacing
	y := h - imgH - opts.MarginY
	doc.ImageOptions(stampImageName, x, y, opts.ImageWidth, imgH, false, gofpdf.ImageOptions{}, 0, "")
}
