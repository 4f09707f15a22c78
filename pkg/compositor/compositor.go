// Package compositor stamps a raster signature onto one page of a PDF by
// appending an incremental update, leaving the original bytes untouched.
package compositor

import (
	"fmt"
	"math"
	"strings"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

const (
	// LastPage selects the final page of the document.
	LastPage = -1
	// DefaultScale maps one image pixel to half a PDF point.
	DefaultScale = 0.5
	// DefaultMaxImageDim bounds the longest side of the embedded raster.
	DefaultMaxImageDim = 2000
)

// Options tunes a Compositor. Zero values pick the defaults.
type Options struct {
	Scale       float64
	MaxImageDim int
}

// Compositor places signature images onto PDF pages.
type Compositor struct {
	scale       float64
	maxImageDim int
}

// New builds a Compositor.
func New(opts Options) *Compositor {
	if opts.Scale <= 0 || math.IsNaN(opts.Scale) || math.IsInf(opts.Scale, 0) {
		opts.Scale = DefaultScale
	}
	if opts.MaxImageDim <= 0 {
		opts.MaxImageDim = DefaultMaxImageDim
	}
	return &Compositor{scale: opts.Scale, maxImageDim: opts.MaxImageDim}
}

// Scale reports the pixel-to-point factor in use.
func (c *Compositor) Scale() float64 { return c.scale }

// Request describes one placement. X and Y are the lower-left corner of the
// image in PDF points; Page is zero-based or LastPage.
type Request struct {
	Image []byte
	Page  int
	X     float64
	Y     float64
}

// Result is the updated document plus the resolved placement.
type Result struct {
	PDF       []byte
	Page      int
	PageCount int
	Width     float64
	Height    float64
}

// ResolvePage maps a page selector onto a zero-based index.
func ResolvePage(page, pageCount int) (int, error) {
	if pageCount <= 0 {
		return 0, fmt.Errorf("%w: document has no pages", ErrCorruptInput)
	}
	if page == LastPage {
		return pageCount - 1, nil
	}
	if page < 0 || page >= pageCount {
		return 0, &PageRangeError{Page: page, PageCount: pageCount}
	}
	return page, nil
}

// Composite returns src with the image drawn on the requested page.
func (c *Compositor) Composite(src []byte, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrCorruptInput, r)
		}
	}()

	if math.IsNaN(req.X) || math.IsNaN(req.Y) || math.IsInf(req.X, 0) || math.IsInf(req.Y, 0) {
		return Result{}, fmt.Errorf("%w: coordinates must be finite", ErrInvalidPlacement)
	}
	rdr, err := open(src)
	if err != nil {
		return Result{}, err
	}
	pageCount := rdr.NumPage()
	index, err := ResolvePage(req.Page, pageCount)
	if err != nil {
		return Result{}, err
	}
	page := rdr.Page(index + 1).V
	if page.Kind() != pdf.Dict {
		return Result{}, fmt.Errorf("%w: page %d missing", ErrCorruptInput, index)
	}
	pageRef := refOf(page)
	if pageRef.id == 0 {
		return Result{}, fmt.Errorf("%w: page %d is not an indirect object", ErrCorruptInput, index)
	}

	img, err := decodeSignature(req.Image, c.maxImageDim)
	if err != nil {
		return Result{}, err
	}
	width := float64(img.srcWidth) * c.scale
	height := float64(img.srcHeight) * c.scale

	w, err := newIncrementalWriter(rdr, src)
	if err != nil {
		return Result{}, err
	}
	imageRef, err := w.addImage(img)
	if err != nil {
		return Result{}, err
	}
	resName := freeXObjectName(inheritedResources(page).Key("XObject"))
	prefixRef := w.addObject(contentStream([]byte("q\n")))
	suffixRef := w.addObject(contentStream(placementOps(resName, req.X, req.Y, width, height)))
	pageBody, err := rewritePage(page, resName, imageRef, prefixRef, suffixRef)
	if err != nil {
		return Result{}, err
	}
	w.replaceObject(pageRef, pageBody)
	out, err := w.finish()
	if err != nil {
		return Result{}, err
	}
	return Result{PDF: out, Page: index, PageCount: pageCount, Width: width, Height: height}, nil
}

func open(src []byte) (*pdf.Reader, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrCorruptInput)
	}
	rdr, err := pdf.NewReader(filebuffer.New(src), int64(len(src)))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "encrypt") {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	if !rdr.Trailer().Key("Encrypt").IsNull() {
		return nil, ErrEncrypted
	}
	if refOf(rdr.Trailer().Key("Root")).id == 0 {
		return nil, fmt.Errorf("%w: missing document catalog", ErrCorruptInput)
	}
	return rdr, nil
}

func placementOps(name string, x, y, w, h float64) []byte {
	return []byte(fmt.Sprintf("\nQ\nq\n%s 0 0 %s %s %s cm\n/%s Do\nQ\n",
		formatNumber(w), formatNumber(h), formatNumber(x), formatNumber(y), name))
}
