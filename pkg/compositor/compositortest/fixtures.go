// Package compositortest builds small, valid PDF and PNG fixtures for tests.
package compositortest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// PDF returns a minimal document with the given number of pages. Resources
// live on the Pages node so every page inherits them.
func PDF(pages int) []byte {
	return build(pages, false)
}

// PDFWithXrefStream is PDF but closes the file with a cross-reference stream.
func PDFWithXrefStream(pages int) []byte {
	return build(pages, true)
}

func build(pages int, xrefStream bool) []byte {
	if pages < 1 {
		pages = 1
	}
	var objects [][]byte
	kids := new(bytes.Buffer)
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(kids, "%d 0 R", 4+2*i)
	}
	objects = append(objects,
		[]byte("<< /Type /Catalog /Pages 2 0 R >>"),
		[]byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> >>", kids.String(), pages)),
		[]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"),
	)
	for i := 0; i < pages; i++ {
		content := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (Page %d) Tj ET", i+1)
		objects = append(objects,
			[]byte(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Contents %d 0 R >>", 5+2*i)),
			[]byte(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		offsets[i+1] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	if xrefStream {
		id := len(objects) + 1
		size := id + 1
		offsets = append(offsets, b.Len())
		var rows bytes.Buffer
		rows.Write([]byte{0, 0, 0, 0, 0, 0})
		for _, off := range offsets[1:] {
			row := make([]byte, 6)
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(off))
			rows.Write(row)
		}
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 1] /Index [0 %d] /Root 1 0 R /Length %d >>\nstream\n",
			id, size, size, rows.Len())
		b.Write(rows.Bytes())
		b.WriteString("\nendstream\nendobj\n")
		fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", offsets[id])
		return b.Bytes()
	}

	xrefStart := b.Len()
	size := len(objects) + 1
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f\r\n", size)
	for _, off := range offsets[1:] {
		fmt.Fprintf(&b, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R /ID [<0123456789ABCDEF0123456789ABCDEF> <0123456789ABCDEF0123456789ABCDEF>] >>\nstartxref\n%d\n%%%%EOF\n",
		size, xrefStart)
	return b.Bytes()
}

// PNG encodes a w×h image. Transparent images get a fully clear border
// around an opaque ink stroke.
func PNG(w, h int, transparent bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if y == h/2 {
				c = color.NRGBA{R: 10, G: 20, B: 120, A: 255}
			} else if transparent {
				c.A = 0
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		panic(err)
	}
	return b.Bytes()
}

// DataURI wraps raw PNG bytes the way a browser canvas exports them.
func DataURI(pngBytes []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
}
