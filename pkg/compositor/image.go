package compositor

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// maxDecodePixels guards against decompression bombs before decoding.
const maxDecodePixels = 40_000_000

type raster struct {
	srcWidth, srcHeight int
	width, height       int
	rgb                 []byte
	alpha               []byte // nil when fully opaque
}

// DecodeDataURI accepts "data:image/png;base64,<payload>" or a bare base64
// payload and returns the decoded bytes.
func DecodeDataURI(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data uri", ErrInvalidImage)
		}
		meta := strings.ToLower(s[len("data:"):comma])
		if !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: data uri must be base64 encoded", ErrInvalidImage)
		}
		if mediaType := strings.TrimSuffix(meta, ";base64"); mediaType != "" && mediaType != "image/png" {
			return nil, fmt.Errorf("%w: unsupported media type %q", ErrInvalidImage, mediaType)
		}
		s = s[comma+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, nil
}

func decodeSignature(data []byte, maxDim int) (*raster, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrInvalidImage)
	}
	if cfg.Width*cfg.Height > maxDecodePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	bounds := decoded.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(src, src.Bounds(), decoded, bounds.Min, draw.Src)

	if longest := max(bounds.Dx(), bounds.Dy()); maxDim > 0 && longest > maxDim {
		w := max(1, bounds.Dx()*maxDim/longest)
		h := max(1, bounds.Dy()*maxDim/longest)
		scaled := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		src = scaled
	}

	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	r := &raster{
		srcWidth:  bounds.Dx(),
		srcHeight: bounds.Dy(),
		width:     w,
		height:    h,
		rgb:       make([]byte, 0, w*h*3),
	}
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			r.rgb = append(r.rgb, px[0], px[1], px[2])
			alpha = append(alpha, px[3])
			if px[3] != 0xff {
				opaque = false
			}
		}
	}
	if !opaque {
		r.alpha = alpha
	}
	return r, nil
}

func deflate(data []byte) ([]byte, error) {
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func imageObject(width, height int, colorSpace string, data []byte, smask *ref) ([]byte, error) {
	compressed, err := deflate(data)
	if err != nil {
		return nil, fmt.Errorf("compress image: %w", err)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent 8 /Filter /FlateDecode",
		width, height, colorSpace)
	if smask != nil {
		b.WriteString(" /SMask ")
		b.WriteString(smask.String())
	}
	fmt.Fprintf(&b, " /Length %d >>\nstream\n", len(compressed))
	b.Write(compressed)
	b.WriteString("\nendstream")
	return b.Bytes(), nil
}
