package compositor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
)

type xrefEntry struct {
	ref    ref
	offset int64
}

// incrementalWriter appends new and replaced objects after the original
// bytes and closes the update with a cross-reference section of the same
// flavour as the original file.
type incrementalWriter struct {
	rdr     *pdf.Reader
	out     *filebuffer.Buffer
	nextID  uint32
	entries []xrefEntry
}

func newIncrementalWriter(rdr *pdf.Reader, src []byte) (*incrementalWriter, error) {
	size := rdr.Trailer().Key("Size").Int64()
	if rdr.XrefInformation.ItemCount > size {
		size = rdr.XrefInformation.ItemCount
	}
	if size <= 0 || size >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: bad trailer size %d", ErrCorruptInput, size)
	}
	out := filebuffer.New(make([]byte, 0, len(src)+64<<10))
	if _, err := out.Write(src); err != nil {
		return nil, err
	}
	if len(src) > 0 && src[len(src)-1] != '\n' && src[len(src)-1] != '\r' {
		if _, err := out.Write([]byte("\n")); err != nil {
			return nil, err
		}
	}
	return &incrementalWriter{rdr: rdr, out: out, nextID: uint32(size)}, nil
}

func (w *incrementalWriter) offset() int64 {
	return int64(w.out.Buff.Len())
}

func (w *incrementalWriter) writeObject(r ref, body []byte) {
	w.entries = append(w.entries, xrefEntry{ref: r, offset: w.offset()})
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %d obj\n", r.id, r.gen)
	b.Write(body)
	b.WriteString("\nendobj\n")
	_, _ = w.out.Write(b.Bytes())
}

func (w *incrementalWriter) addObject(body []byte) ref {
	r := ref{id: w.nextID}
	w.nextID++
	w.writeObject(r, body)
	return r
}

func (w *incrementalWriter) replaceObject(r ref, body []byte) {
	w.writeObject(r, body)
}

// addImage writes the RGB image XObject, preceded by its soft mask when
// the raster has transparency.
func (w *incrementalWriter) addImage(img *raster) (ref, error) {
	var smask *ref
	if img.alpha != nil {
		body, err := imageObject(img.width, img.height, "DeviceGray", img.alpha, nil)
		if err != nil {
			return ref{}, err
		}
		r := w.addObject(body)
		smask = &r
	}
	body, err := imageObject(img.width, img.height, "DeviceRGB", img.rgb, smask)
	if err != nil {
		return ref{}, err
	}
	return w.addObject(body), nil
}

func (w *incrementalWriter) finish() ([]byte, error) {
	var err error
	switch w.rdr.XrefInformation.Type {
	case "stream":
		err = w.writeXrefStream()
	default:
		err = w.writeXrefTable()
	}
	if err != nil {
		return nil, err
	}
	return w.out.Buff.Bytes(), nil
}

func (w *incrementalWriter) sortedEntries() []xrefEntry {
	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].ref.id < w.entries[j].ref.id })
	return w.entries
}

// subsections groups sorted entries into runs of consecutive object numbers.
func subsections(entries []xrefEntry) [][]xrefEntry {
	var out [][]xrefEntry
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i == len(entries) || entries[i].ref.id != entries[i-1].ref.id+1 {
			out = append(out, entries[start:i])
			start = i
		}
	}
	return out
}

// trailerFields renders the keys carried over from the previous trailer.
func (w *incrementalWriter) trailerFields(b *bytes.Buffer) error {
	trailer := w.rdr.Trailer()
	fmt.Fprintf(b, " /Size %d /Root %s /Prev %d", w.nextID, refOf(trailer.Key("Root")).String(), w.rdr.XrefInformation.StartPos)
	if info := refOf(trailer.Key("Info")); info.id != 0 {
		b.WriteString(" /Info ")
		b.WriteString(info.String())
	}
	if id := trailer.Key("ID"); id.Kind() == pdf.Array {
		b.WriteString(" /ID ")
		if err := writeDirect(b, id, 0); err != nil {
			return err
		}
	}
	return nil
}

func (w *incrementalWriter) writeXrefTable() error {
	xrefStart := w.offset()
	var b bytes.Buffer
	b.WriteString("xref\n")
	for _, sub := range subsections(w.sortedEntries()) {
		fmt.Fprintf(&b, "%d %d\n", sub[0].ref.id, len(sub))
		for _, e := range sub {
			fmt.Fprintf(&b, "%010d %05d n\r\n", e.offset, e.ref.gen)
		}
	}
	b.WriteString("trailer\n<<")
	if err := w.trailerFields(&b); err != nil {
		return err
	}
	b.WriteString(" >>\nstartxref\n")
	b.WriteString(strconv.FormatInt(xrefStart, 10))
	b.WriteString("\n%%EOF\n")
	_, err := w.out.Write(b.Bytes())
	return err
}

func (w *incrementalWriter) writeXrefStream() error {
	self := ref{id: w.nextID}
	w.nextID++
	xrefStart := w.offset()
	w.entries = append(w.entries, xrefEntry{ref: self, offset: xrefStart})

	var index bytes.Buffer
	var rows []byte
	for i, sub := range subsections(w.sortedEntries()) {
		if i > 0 {
			index.WriteByte(' ')
		}
		fmt.Fprintf(&index, "%d %d", sub[0].ref.id, len(sub))
		for _, e := range sub {
			if e.offset > math.MaxUint32 || e.ref.gen > math.MaxUint8 {
				return fmt.Errorf("%w: xref entry out of range", ErrCorruptInput)
			}
			row := make([]byte, 6)
			row[0] = 1
			binary.BigEndian.PutUint32(row[1:5], uint32(e.offset))
			row[5] = byte(e.ref.gen)
			rows = append(rows, row...)
		}
	}
	data, err := deflate(rows)
	if err != nil {
		return fmt.Errorf("compress xref: %w", err)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%d 0 obj\n<< /Type /XRef /W [1 4 1] /Index [%s]", self.id, index.String())
	if err := w.trailerFields(&b); err != nil {
		return err
	}
	fmt.Fprintf(&b, " /Filter /FlateDecode /Length %d >>\nstream\n", len(data))
	b.Write(data)
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefStart)
	_, err = w.out.Write(b.Bytes())
	return err
}
