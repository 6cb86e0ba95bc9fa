package pdfdoc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// DefaultDPI is the render resolution that defines page-pixel space.
const DefaultDPI = 150

// A4 portrait in points, used when a page has no usable media box.
const (
	fallbackWidthPt  = 595.28
	fallbackHeightPt = 841.89
)

// Hash returns the hex SHA-256 of the document bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load validates a PDF with pdfcpu and interprets every page. Any parse
// failure, and a document without pages, is ErrMalformedDocument.
func Load(ctx context.Context, data []byte, dpi float64) (doc *Document, err error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	// pdfcpu can panic on corrupt cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", models.ErrMalformedDocument, r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: pdfcpu read: %v", models.ErrMalformedDocument, err)
	}
	if pctx.PageCount < 1 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrMalformedDocument)
	}

	dims, err := pctx.PageDims()
	if err != nil {
		slog.Warn("Could not read page dimensions, assuming A4.", "error", err)
		dims = nil
	}

	doc = &Document{Hash: Hash(data), PageCount: pctx.PageCount, DPI: dpi}
	doc.Pages = make([]Page, 0, pctx.PageCount)
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, h := fallbackWidthPt, fallbackHeightPt
		if pageNr-1 < len(dims) && dims[pageNr-1].Width > 0 && dims[pageNr-1].Height > 0 {
			w, h = dims[pageNr-1].Width, dims[pageNr-1].Height
		}

		content, err := pageContent(pctx, pageNr)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d content: %v", models.ErrMalformedDocument, pageNr, err)
		}
		page := Parse(pageNr, content, w, h, dpi)
		page.Images = append(page.Images, pageImages(pctx, pageNr)...)
		doc.Pages = append(doc.Pages, page)
	}
	return doc, nil
}

func pageContent(ctx *model.Context, pageNr int) ([]byte, error) {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return io.ReadAll(r)
}

// pageImages lists the image XObjects used on a page.
func pageImages(ctx *model.Context, pageNr int) []Image {
	if ctx.Optimize == nil {
		return nil
	}
	var out []Image
	for _, objNr := range pdfcpu.ImageObjNrs(ctx, pageNr) {
		img := Image{ObjNr: objNr}
		entry, ok := ctx.Table[objNr]
		if !ok || entry == nil || entry.Free || entry.Compressed {
			out = append(out, img)
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			out = append(out, img)
			continue
		}
		if w := sd.IntEntry("Width"); w != nil {
			img.Width = *w
		}
		if h := sd.IntEntry("Height"); h != nil {
			img.Height = *h
		}
		img.Filter = filterName(sd)
		if img.Filter == "DCTDecode" && len(sd.Raw) > 0 {
			img.Data = sd.Raw
			img.HasEXIF = hasEXIF(sd.Raw)
		}
		out = append(out, img)
	}
	return out
}

func filterName(sd types.StreamDict) string {
	o, found := sd.Find("Filter")
	if !found || o == nil {
		return ""
	}
	switch f := o.(type) {
	case types.Name:
		return string(f)
	case types.Array:
		if len(f) > 0 {
			if n, ok := f[len(f)-1].(types.Name); ok {
				return string(n)
			}
		}
	}
	return ""
}

// hasEXIF looks for a JPEG APP1 segment carrying an Exif header, which
// cameras write and flatbed scanners normally do not.
func hasEXIF(jpeg []byte) bool {
	if len(jpeg) < 4 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		return false
	}
	limit := len(jpeg)
	if limit > 64*1024 {
		limit = 64 * 1024
	}
	return bytes.Contains(jpeg[:limit], []byte{0xFF, 0xE1}) &&
		bytes.Contains(jpeg[:limit], []byte("Exif\x00\x00"))
}
