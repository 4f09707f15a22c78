package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/digitorus/pdf"
)

const maxNesting = 64

var errTooDeep = fmt.Errorf("%w: object nesting too deep", ErrCorruptInput)

type ref struct {
	id  uint32
	gen uint16
}

func refOf(v pdf.Value) ref {
	p := v.GetPtr()
	return ref{id: p.GetID(), gen: p.GetGen()}
}

func (r ref) String() string {
	return strconv.FormatUint(uint64(r.id), 10) + " " + strconv.FormatUint(uint64(r.gen), 10) + " R"
}

// writeDirect serializes v inline. Nested values that belong to another
// object are written as indirect references.
func writeDirect(b *bytes.Buffer, v pdf.Value, depth int) error {
	if depth > maxNesting {
		return errTooDeep
	}
	owner := refOf(v)
	switch v.Kind() {
	case pdf.Null:
		b.WriteString("null")
	case pdf.Bool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case pdf.Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdf.Real:
		b.WriteString(formatNumber(v.Float64()))
	case pdf.String:
		writeHexString(b, v.RawString())
	case pdf.Name:
		writeName(b, v.Name())
	case pdf.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			if err := writeChild(b, owner, v.Index(i), depth+1); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case pdf.Dict:
		b.WriteString("<<")
		for _, key := range v.Keys() {
			b.WriteByte(' ')
			writeName(b, key)
			b.WriteByte(' ')
			if err := writeChild(b, owner, v.Key(key), depth+1); err != nil {
				return err
			}
		}
		b.WriteString(" >>")
	case pdf.Stream:
		return errors.New("stream objects cannot be written inline")
	default:
		return fmt.Errorf("%w: unknown object kind %v", ErrCorruptInput, v.Kind())
	}
	return nil
}

func writeChild(b *bytes.Buffer, owner ref, child pdf.Value, depth int) error {
	if r := refOf(child); r.id != 0 && r != owner {
		b.WriteString(r.String())
		return nil
	}
	return writeDirect(b, child, depth)
}

func writeName(b *bytes.Buffer, name string) {
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
}

func writeHexString(b *bytes.Buffer, s string) {
	const hexdigits = "0123456789ABCDEF"
	b.WriteByte('<')
	for i := 0; i < len(s); i++ {
		b.WriteByte(hexdigits[s[i]>>4])
		b.WriteByte(hexdigits[s[i]&0x0f])
	}
	b.WriteByte('>')
}

func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// inheritedResources finds the Resources dictionary in effect for page,
// following Parent links as the page tree allows.
func inheritedResources(page pdf.Value) pdf.Value {
	node := page
	for i := 0; i < maxNesting && node.Kind() == pdf.Dict; i++ {
		if res := node.Key("Resources"); res.Kind() == pdf.Dict {
			return res
		}
		node = node.Key("Parent")
	}
	return pdf.Value{}
}

func freeXObjectName(xobjects pdf.Value) string {
	for i := 1; ; i++ {
		name := "DocSig" + strconv.Itoa(i)
		if xobjects.Key(name).IsNull() {
			return name
		}
	}
}

func contentStream(data []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< /Length %d >>\nstream\n", len(data))
	b.Write(data)
	b.WriteString("\nendstream")
	return b.Bytes()
}

// rewritePage produces a replacement page dictionary whose content is
// wrapped in q/Q and followed by the signature drawing, with the image
// registered under resName.
func rewritePage(page pdf.Value, resName string, image, prefix, suffix ref) ([]byte, error) {
	owner := refOf(page)
	var b bytes.Buffer
	b.WriteString("<<")
	for _, key := range page.Keys() {
		if key == "Contents" || key == "Resources" {
			continue
		}
		b.WriteByte(' ')
		writeName(&b, key)
		b.WriteByte(' ')
		if err := writeChild(&b, owner, page.Key(key), 1); err != nil {
			return nil, err
		}
	}

	b.WriteString(" /Contents [")
	b.WriteString(prefix.String())
	contents := page.Key("Contents")
	switch contents.Kind() {
	case pdf.Stream:
		b.WriteByte(' ')
		b.WriteString(refOf(contents).String())
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			part := contents.Index(i)
			if part.Kind() != pdf.Stream {
				continue
			}
			r := refOf(part)
			if r.id == 0 {
				return nil, fmt.Errorf("%w: inline content stream", ErrCorruptInput)
			}
			b.WriteByte(' ')
			b.WriteString(r.String())
		}
	}
	b.WriteByte(' ')
	b.WriteString(suffix.String())
	b.WriteString("]")

	res := inheritedResources(page)
	resOwner := refOf(res)
	b.WriteString(" /Resources <<")
	for _, key := range res.Keys() {
		if key == "XObject" {
			continue
		}
		b.WriteByte(' ')
		writeName(&b, key)
		b.WriteByte(' ')
		if err := writeChild(&b, resOwner, res.Key(key), 2); err != nil {
			return nil, err
		}
	}
	xobjects := res.Key("XObject")
	xoOwner := refOf(xobjects)
	b.WriteString(" /XObject <<")
	for _, key := range xobjects.Keys() {
		b.WriteByte(' ')
		writeName(&b, key)
		b.WriteByte(' ')
		if err := writeChild(&b, xoOwner, xobjects.Key(key), 3); err != nil {
			return nil, err
		}
	}
	b.WriteByte(' ')
	writeName(&b, resName)
	b.WriteByte(' ')
	b.WriteString(image.String())
	b.WriteString(" >> >> >>")
	return b.Bytes(), nil
}
