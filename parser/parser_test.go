package parser

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/pdferr"
	"github.com/ykcoatepe/pdfcos/recovery"
)

// pdfBuilder assembles syntactically complete test files with real offsets.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int64
	gens    map[int]int
}

func newPDF(version string) *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int64), gens: make(map[int]int)}
	b.buf.WriteString("%PDF-" + version + "\n")
	return b
}

func (b *pdfBuilder) pos() int64 { return int64(b.buf.Len()) }

func (b *pdfBuilder) raw(s string) { b.buf.WriteString(s) }

func (b *pdfBuilder) obj(num, gen int, body string) {
	b.offsets[num] = b.pos()
	b.gens[num] = gen
	fmt.Fprintf(&b.buf, "%d %d obj\n%s\nendobj\n", num, gen, body)
}

func (b *pdfBuilder) streamObj(num, gen int, dict string, payload []byte) {
	b.offsets[num] = b.pos()
	b.gens[num] = gen
	fmt.Fprintf(&b.buf, "%d %d obj\n%s\nstream\n", num, gen, dict)
	b.buf.Write(payload)
	b.buf.WriteString("\nendstream\nendobj\n")
}

// classicXRef emits a dense table covering 0..max, a trailer with /Size and
// the given extra keys, and the file tail.
func (b *pdfBuilder) classicXRef(trailerExtra string) []byte {
	maxNum := 0
	for num := range b.offsets {
		if num > maxNum {
			maxNum = num
		}
	}
	xrefOff := b.pos()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", maxNum+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		off, ok := b.offsets[num]
		if !ok {
			b.buf.WriteString("0000000000 65535 f \n")
			continue
		}
		fmt.Fprintf(&b.buf, "%010d %05d n \n", off, b.gens[num])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n",
		maxNum+1, trailerExtra, xrefOff)
	return b.buf.Bytes()
}

func minimalPDF() []byte {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, 0, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, 0, "<< /Type /Page /Parent 2 0 R >>")
	return b.classicXRef("/Root 1 0 R")
}

func TestParse_MinimalDocument(t *testing.T) {
	doc, err := Parse(context.Background(), minimalPDF())
	require.NoError(t, err)

	assert.Equal(t, "1.4", doc.Version)
	assert.Len(t, doc.Objects, 3)
	require.NotNil(t, doc.RootRef)
	assert.Equal(t, raw.ObjectRef{Num: 1, Gen: 0}, *doc.RootRef)
	assert.Nil(t, doc.InfoRef)

	catalog, ok := doc.Get(raw.ObjectRef{Num: 1})
	require.True(t, ok)
	dict, ok := catalog.(*raw.DictObj)
	require.True(t, ok)
	typ, _ := dict.GetName("Type")
	assert.Equal(t, "Catalog", typ)

	pagesVal, ok := dict.KV["Pages"]
	require.True(t, ok)
	assert.Equal(t, raw.Ref(2, 0), pagesVal)
}

func TestParse_InvalidHeader(t *testing.T) {
	_, err := Parse(context.Background(), []byte("not a pdf at all"))
	assert.ErrorIs(t, err, pdferr.ErrInvalidHeader)
}

func TestParse_MissingRoot(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	data := b.classicXRef("")

	_, err := Parse(context.Background(), data)
	assert.ErrorIs(t, err, pdferr.ErrInvalidTrailer)
}

func TestParse_StreamWithDirectLength(t *testing.T) {
	// The payload embeds the endstream marker; only the length hint can
	// delimit it correctly.
	payload := []byte("fake endstream inside")
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.streamObj(2, 0, fmt.Sprintf("<< /Length %d >>", len(payload)), payload)
	data := b.classicXRef("/Root 1 0 R")

	doc, err := Parse(context.Background(), data)
	require.NoError(t, err)

	stm, ok := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, payload, stm.Data)
}

func TestParse_StreamWithIndirectLength(t *testing.T) {
	payload := []byte("indirectly measured body")
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.streamObj(2, 0, "<< /Length 3 0 R >>", payload)
	b.obj(3, 0, fmt.Sprintf("%d", len(payload)))
	data := b.classicXRef("/Root 1 0 R")

	doc, err := Parse(context.Background(), data)
	require.NoError(t, err)

	stm, ok := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, payload, stm.Data)
}

func TestParse_StreamWithoutUsableLength(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.streamObj(2, 0, "<< /Kind /Plain >>", []byte("scanned payload"))
	data := b.classicXRef("/Root 1 0 R")

	doc, err := Parse(context.Background(), data)
	require.NoError(t, err)

	stm, ok := doc.Objects[raw.ObjectRef{Num: 2}].(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, []byte("scanned payload"), stm.Data)
}

func TestParse_IncrementalUpdateNewestWins(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.obj(2, 0, "(first revision)")
	firstXRefOff := b.pos()
	b.raw("xref\n0 3\n0000000000 65535 f \n")
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[1]))
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[2]))
	b.raw(fmt.Sprintf("trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", firstXRefOff))

	// Appended revision replaces object 2 and adds object 4.
	b.obj(2, 0, "(second revision)")
	b.obj(4, 0, "(appended)")
	secondXRefOff := b.pos()
	b.raw("xref\n2 1\n")
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[2]))
	b.raw("4 1\n")
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[4]))
	b.raw(fmt.Sprintf("trailer\n<< /Size 5 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		firstXRefOff, secondXRefOff))

	doc, err := Parse(context.Background(), b.buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, doc.Objects, 3)

	obj2, ok := doc.Objects[raw.ObjectRef{Num: 2}].(raw.StringObj)
	require.True(t, ok)
	assert.Equal(t, "second revision", string(obj2.Bytes))
	_, ok = doc.Objects[raw.ObjectRef{Num: 4}]
	assert.True(t, ok)
}

func TestParse_IncrementalUpdateFreesObject(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.obj(2, 0, "(doomed)")
	firstXRefOff := b.pos()
	b.raw("xref\n0 3\n0000000000 65535 f \n")
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[1]))
	b.raw(fmt.Sprintf("%010d 00000 n \n", b.offsets[2]))
	b.raw(fmt.Sprintf("trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", firstXRefOff))

	secondXRefOff := b.pos()
	b.raw("xref\n2 1\n0000000000 00001 f \n")
	b.raw(fmt.Sprintf("trailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n",
		firstXRefOff, secondXRefOff))

	doc, err := Parse(context.Background(), b.buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, doc.Objects, 1)
	_, ok := doc.Objects[raw.ObjectRef{Num: 2}]
	assert.False(t, ok, "freed object must not be loaded")
}

// buildObjStmFile returns a file whose objects 11 and 12 live inside object
// stream 4, addressed by an XRef stream at object 7.
func buildObjStmFile(t *testing.T, compress bool, direct11 bool) []byte {
	t.Helper()
	body1 := "<< /A 1 >>"
	body2 := "42"
	hdr := fmt.Sprintf("11 0 12 %d ", len(body1)+1)
	content := []byte(hdr + body1 + " " + body2)

	stmDictExtra := ""
	payload := content
	if compress {
		var zbuf bytes.Buffer
		w := zlib.NewWriter(&zbuf)
		_, err := w.Write(content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		payload = zbuf.Bytes()
		stmDictExtra = " /Filter /FlateDecode"
	}

	b := newPDF("1.5")
	b.obj(1, 0, "<< /Type /Catalog >>")
	if direct11 {
		b.obj(11, 0, "99")
	}
	b.streamObj(4, 0, fmt.Sprintf("<< /Type /ObjStm /N 2 /First %d%s /Length %d >>",
		len(hdr), stmDictExtra, len(payload)), payload)

	// XRef stream, W [1 2 1].
	type rec struct {
		num    int
		fields [3]int
	}
	recs := []rec{
		{1, [3]int{1, int(b.offsets[1]), 0}},
		{4, [3]int{1, int(b.offsets[4]), 0}},
		{12, [3]int{2, 4, 1}},
	}
	if direct11 {
		recs = append(recs, rec{11, [3]int{1, int(b.offsets[11]), 0}})
	} else {
		recs = append(recs, rec{11, [3]int{2, 4, 0}})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].num < recs[j].num })

	var index string
	var data []byte
	for _, r := range recs {
		index += fmt.Sprintf("%d 1 ", r.num)
		data = append(data, byte(r.fields[0]), byte(r.fields[1]>>8), byte(r.fields[1]), byte(r.fields[2]))
	}

	xrefOff := b.pos()
	b.streamObj(7, 0, fmt.Sprintf("<< /Type /XRef /W [1 2 1] /Index [%s] /Size 13 /Root 1 0 R /Length %d >>",
		index[:len(index)-1], len(data)), data)
	b.raw(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))
	return b.buf.Bytes()
}

func TestParse_ObjectStreamMembers(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "flate"
		}
		t.Run(name, func(t *testing.T) {
			doc, err := Parse(context.Background(), buildObjStmFile(t, compress, false))
			require.NoError(t, err)

			obj11, ok := doc.Objects[raw.ObjectRef{Num: 11}].(*raw.DictObj)
			require.True(t, ok, "member 11 must surface as a document object")
			a, _ := obj11.GetInt("A")
			assert.Equal(t, int64(1), a)

			obj12, ok := doc.Objects[raw.ObjectRef{Num: 12}].(raw.NumberObj)
			require.True(t, ok)
			assert.Equal(t, int64(42), obj12.I)

			// The container itself stays addressable.
			_, ok = doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
			assert.True(t, ok)
		})
	}
}

func TestParse_DirectBodyWinsOverContainerCopy(t *testing.T) {
	doc, err := Parse(context.Background(), buildObjStmFile(t, false, true))
	require.NoError(t, err)

	obj11, ok := doc.Objects[raw.ObjectRef{Num: 11}].(raw.NumberObj)
	require.True(t, ok, "direct body must shadow the container copy")
	assert.Equal(t, int64(99), obj11.I)
}

func TestParse_InfoMetadata(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.obj(2, 0, "<< /Title (Quarterly Report) /Producer (pdfcos) /Keywords (alpha, beta ,gamma) >>")
	data := b.classicXRef("/Root 1 0 R /Info 2 0 R")

	doc, err := Parse(context.Background(), data)
	require.NoError(t, err)

	require.NotNil(t, doc.InfoRef)
	assert.Equal(t, raw.ObjectRef{Num: 2, Gen: 0}, *doc.InfoRef)
	assert.Equal(t, "Quarterly Report", doc.Metadata.Title)
	assert.Equal(t, "pdfcos", doc.Metadata.Producer)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, doc.Metadata.Keywords)
}

func TestParse_HeaderMismatchLenientDropsObject(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.obj(2, 0, "(fine)")
	// Entry for object 3 lies: it points at object 1's body.
	b.offsets[3] = b.offsets[1]
	b.gens[3] = 0
	data := b.classicXRef("/Root 1 0 R")

	lenient := recovery.NewLenientStrategy()
	doc, err := New(Config{Recovery: lenient}).Parse(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	_, ok := doc.Objects[raw.ObjectRef{Num: 3}]
	assert.False(t, ok, "mismatched object must be dropped")
	assert.Len(t, doc.Objects, 2)
	require.NotEmpty(t, lenient.Warnings())
	assert.Equal(t, 3, lenient.Warnings()[0].Loc.ObjectNum)
}

func TestParse_MissingEndobjDoesNotPoisonNextObject(t *testing.T) {
	b := newPDF("1.4")
	b.offsets[1] = b.pos()
	b.gens[1] = 0
	b.raw("1 0 obj\n<< /Type /Catalog >> garbage\n")
	b.obj(2, 0, "(fine)")
	data := b.classicXRef("/Root 1 0 R")

	lenient := recovery.NewLenientStrategy()
	doc, err := New(Config{Recovery: lenient}).Parse(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	// Only the unterminated object is warned about; its well-formed
	// neighbor must survive intact.
	assert.Len(t, doc.Objects, 2)
	obj2, ok := doc.Objects[raw.ObjectRef{Num: 2}].(raw.StringObj)
	require.True(t, ok, "object after the damaged one must still load")
	assert.Equal(t, "fine", string(obj2.Bytes))

	warnings := lenient.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, 1, warnings[0].Loc.ObjectNum)
}

func TestParse_HeaderMismatchStrictFails(t *testing.T) {
	b := newPDF("1.4")
	b.obj(1, 0, "<< /Type /Catalog >>")
	b.offsets[3] = b.offsets[1]
	b.gens[3] = 0
	data := b.classicXRef("/Root 1 0 R")

	_, err := New(Config{Recovery: recovery.NewStrictStrategy()}).
		Parse(context.Background(), bytes.NewReader(data))
	var syn *pdferr.SyntaxError
	require.ErrorAs(t, err, &syn)
}

func TestParse_ObjectCountLimit(t *testing.T) {
	cfg := Config{Limits: Limits{MaxObjects: 2}}
	_, err := New(cfg).Parse(context.Background(), bytes.NewReader(minimalPDF()))
	require.Error(t, err)
}

func TestParse_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Parse(ctx, minimalPDF())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParse_MalformedObjStmIndex(t *testing.T) {
	b := newPDF("1.5")
	b.obj(1, 0, "<< /Type /Catalog >>")
	content := []byte("11 /bogus << >>")
	b.streamObj(4, 0, fmt.Sprintf("<< /Type /ObjStm /N 1 /First 9 /Length %d >>", len(content)), content)

	data := []byte{
		1, byte(b.offsets[1] >> 8), byte(b.offsets[1]), 0,
		1, byte(b.offsets[4] >> 8), byte(b.offsets[4]), 0,
		2, 0, 4, 0,
	}
	xrefOff := b.pos()
	b.streamObj(7, 0, fmt.Sprintf("<< /Type /XRef /W [1 2 1] /Index [1 1 4 1 11 1] /Size 13 /Root 1 0 R /Length %d >>",
		len(data)), data)
	b.raw(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOff))

	_, err := Parse(context.Background(), b.buf.Bytes())
	var syn *pdferr.SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Contains(t, syn.Msg, "object-stream index")
}
