package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/jung-kurt/gofpdf"
)

// NewImageConverter places a PNG or JPEG image on a single page, scaled to
// fit inside the margins.
func NewImageConverter(o PDFOptions) Converter {
	return ConverterFunc(func(ctx context.Context, data []byte) ([]byte, error) {
		_, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		imgType := "PNG"
		if format == "jpeg" {
			imgType = "JPG"
		}

		pdf := o.newDocument()
		pdf.AddPage()
		info := pdf.RegisterImageOptionsReader("source", gofpdf.ImageOptions{ImageType: imgType}, bytes.NewReader(data))
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("failed to register image: %w", err)
		}

		pageW, pageH := pdf.GetPageSize()
		maxW := pageW - o.Margins.Left - o.Margins.Right
		maxH := pageH - o.Margins.Top - o.Margins.Bottom
		w, h := info.Extent()
		scale := 1.0
		if w > maxW {
			scale = maxW / w
		}
		if h*scale > maxH {
			scale = maxH / h
		}
		pdf.ImageOptions("source", o.Margins.Left, o.Margins.Top, w*scale, h*scale, false,
			gofpdf.ImageOptions{ImageType: imgType}, 0, "")
		if err := pdf.Error(); err != nil {
			return nil, err
		}
		return output(pdf)
	})
}
