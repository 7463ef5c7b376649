// Package writer serializes a raw.Document back to PDF bytes in classic
// form: one body object per map entry, a dense cross-reference table, and
// a trailer rebuilt from the document's Root and Info references.
package writer

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ykcoatepe/pdfcos/ir/raw"
)

const header = "%PDF-1.4\n"

// Write emits the document to out. Object streams are written as ordinary
// streams; members unpacked from them during parsing are emitted as
// top-level objects, so the output never depends on compressed entries.
func Write(doc *raw.Document, out io.Writer) error {
	buf, err := Marshal(doc)
	if err != nil {
		return err
	}
	_, err = out.Write(buf)
	return err
}

// Marshal renders the document into a byte slice.
func Marshal(doc *raw.Document) ([]byte, error) {
	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})

	var buf bytes.Buffer
	buf.WriteString(header)

	offsets := make(map[raw.ObjectRef]int64, len(refs))
	for _, ref := range refs {
		offsets[ref] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
		if err := writeObject(&buf, doc.Objects[ref]); err != nil {
			return nil, fmt.Errorf("object %s: %w", ref, err)
		}
		buf.WriteString("\nendobj\n")
	}

	xrefOffset := int64(buf.Len())
	writeXRefTable(&buf, refs, offsets)
	writeTrailer(&buf, doc, refs)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

// writeXRefTable emits one dense subsection covering 0..maxNum. Numbers
// without an object become free entries so every offset lands on the row
// matching its object number.
func writeXRefTable(buf *bytes.Buffer, refs []raw.ObjectRef, offsets map[raw.ObjectRef]int64) {
	maxNum := 0
	byNum := make(map[int]raw.ObjectRef, len(refs))
	for _, ref := range refs {
		byNum[ref.Num] = ref
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}
	fmt.Fprintf(buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		ref, ok := byNum[num]
		if !ok {
			buf.WriteString("0000000000 65535 f \n")
			continue
		}
		fmt.Fprintf(buf, "%010d %05d n \n", offsets[ref], ref.Gen)
	}
}

func writeTrailer(buf *bytes.Buffer, doc *raw.Document, refs []raw.ObjectRef) {
	maxNum := 0
	for _, ref := range refs {
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}
	trailer := raw.Dict()
	trailer.Set(raw.NameObj{Val: "Size"}, raw.NumberInt(int64(maxNum+1)))
	if doc.RootRef != nil {
		trailer.Set(raw.NameObj{Val: "Root"}, raw.RefObj{R: *doc.RootRef})
	}
	if doc.InfoRef != nil {
		trailer.Set(raw.NameObj{Val: "Info"}, raw.RefObj{R: *doc.InfoRef})
	}
	buf.WriteString("trailer\n")
	writeDict(buf, trailer)
	buf.WriteString("\n")
}

// writeObject serializes one COS value in canonical textual form.
func writeObject(buf *bytes.Buffer, obj raw.Object) error {
	switch v := obj.(type) {
	case raw.NullObj:
		buf.WriteString("null")
	case raw.BoolObj:
		buf.WriteString(strconv.FormatBool(v.V))
	case raw.NumberObj:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case raw.NameObj:
		writeName(buf, v.Val)
	case raw.StringObj:
		writeString(buf, v)
	case raw.RefObj:
		fmt.Fprintf(buf, "%d %d R", v.R.Num, v.R.Gen)
	case *raw.ArrayObj:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := writeObject(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *raw.DictObj:
		if err := writeDict(buf, v); err != nil {
			return err
		}
	case *raw.StreamObj:
		return writeStream(buf, v)
	default:
		return fmt.Errorf("unwritable object type %T", obj)
	}
	return nil
}

// writeDict emits keys in sorted order so output is deterministic.
func writeDict(buf *bytes.Buffer, d *raw.DictObj) error {
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteByte(' ')
		writeName(buf, k)
		buf.WriteByte(' ')
		if err := writeObject(buf, d.KV[k]); err != nil {
			return err
		}
	}
	buf.WriteString(" >>")
	return nil
}

// writeStream re-emits the raw payload untouched and recomputes /Length
// from it. The stream dictionary is shallow-copied so the document is not
// mutated.
func writeStream(buf *bytes.Buffer, s *raw.StreamObj) error {
	d := raw.Dict()
	for k, v := range s.Dict.KV {
		d.KV[k] = v
	}
	d.Set(raw.NameObj{Val: "Length"}, raw.NumberInt(int64(len(s.Data))))
	if err := writeDict(buf, d); err != nil {
		return err
	}
	buf.WriteString("\nstream\n")
	buf.Write(s.Data)
	buf.WriteString("\nendstream")
	return nil
}

// writeName escapes bytes a reader would treat as delimiters, plus '#'
// itself, using the #xx form.
func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || c == '#' || isNameDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isNameDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// writeString keeps the form the string was read in: hex strings stay hex,
// literal strings escape backslash and parentheses and fall back to octal
// for bytes outside the printable range.
func writeString(buf *bytes.Buffer, s raw.StringObj) {
	if s.Hex {
		buf.WriteByte('<')
		for _, c := range s.Bytes {
			fmt.Fprintf(buf, "%02X", c)
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range s.Bytes {
		switch {
		case c == '\\' || c == '(' || c == ')':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c < 0x20 || c >= 0x7F:
			fmt.Fprintf(buf, "\\%03o", c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
