package xref

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ykcoatepe/pdfcos/filters"
	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/observability"
	"github.com/ykcoatepe/pdfcos/pdferr"
	"github.com/ykcoatepe/pdfcos/scanner"
)

// startXRefWindow is how far back from EOF the startxref keyword is sought.
const startXRefWindow = 1024

type ResolverConfig struct {
	Log observability.Logger
	// MaxRevisions caps the /Prev chain walk; zero means unlimited.
	MaxRevisions int
	// Limits applies to the inflation of cross-reference streams.
	Limits filters.Limits
	// Scanner is passed through to the scanners the resolver creates.
	Scanner scanner.Config
}

// Resolver walks a file's cross-reference chain and builds the merged Table.
type Resolver struct {
	cfg ResolverConfig
	log observability.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Resolver{cfg: cfg, log: log}
}

// section is one parsed cross-reference section before merging.
type section struct {
	entries map[int]Entry
	free    []int
	trailer *raw.DictObj
	kind    string
}

func newSection(kind string) *section {
	return &section{entries: make(map[int]Entry), kind: kind}
}

// prev returns the /Prev offset of the section's trailer, if present.
func (sec *section) prev() (int64, bool) {
	if sec.trailer == nil {
		return 0, false
	}
	return sec.trailer.GetInt("Prev")
}

// Resolve locates the newest cross-reference section via the trailing
// startxref keyword and follows /Prev links until the chain ends, a cycle
// is detected, or MaxRevisions is reached.
func (r *Resolver) Resolve(ctx context.Context, rd io.ReaderAt) (*Table, error) {
	data, err := readAll(rd)
	if err != nil {
		return nil, err
	}
	offset, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}

	t := newTable()
	visited := make(map[int64]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, seen := visited[offset]; seen {
			r.log.Warn("cross-reference chain revisits offset, stopping",
				observability.Int64("offset", offset))
			break
		}
		visited[offset] = struct{}{}

		sec, err := r.parseSection(ctx, data, offset)
		if err != nil {
			return nil, err
		}
		r.log.Debug("parsed cross-reference section",
			observability.String("kind", sec.kind),
			observability.Int64("offset", offset),
			observability.Int("entries", len(sec.entries)),
			observability.Int("free", len(sec.free)))
		t.merge(sec)

		if r.cfg.MaxRevisions > 0 && t.revisions >= r.cfg.MaxRevisions {
			break
		}
		prev, ok := sec.prev()
		if !ok {
			break
		}
		offset = prev
	}
	if t.trailer == nil {
		return nil, pdferr.ErrInvalidTrailer
	}
	return t, nil
}

// parseSection dispatches on the byte content at offset: the xref keyword
// opens a classic table, anything else must be the header of an indirect
// object holding a cross-reference stream.
func (r *Resolver) parseSection(ctx context.Context, data []byte, offset int64) (*section, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: section offset %d out of range", pdferr.ErrInvalidXRef, offset)
	}
	s := scanner.New(bytes.NewReader(data), r.cfg.Scanner)
	if err := s.Seek(offset); err != nil {
		return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidXRef, err)
	}
	tok, err := s.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidXRef, err)
	}
	if tok.Type == scanner.TokenKeyword && tok.Str == "xref" {
		return r.parseTable(s)
	}
	if err := s.Seek(offset); err != nil {
		return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidXRef, err)
	}
	return r.parseStreamSection(ctx, s)
}

// parseTable reads the subsections of a classic table and the trailer
// dictionary that follows it.
func (r *Resolver) parseTable(s scanner.Scanner) (*section, error) {
	sec := newSection("table")
	dec := raw.NewDecoder(s, nil)
	for {
		tok, err := dec.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: table ends without trailer", pdferr.ErrInvalidXRef)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			dict, err := dec.DecodeDict()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidTrailer, err)
			}
			sec.trailer = dict
			return sec, nil
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("%w: unexpected token at offset %d", pdferr.ErrInvalidXRef, tok.Pos)
		}
		start := int(tok.Int)
		cntTok, err := dec.Next()
		if err != nil || cntTok.Type != scanner.TokenNumber || !cntTok.IsInt {
			return nil, fmt.Errorf("%w: subsection header missing count", pdferr.ErrInvalidXRef)
		}
		for i := 0; i < int(cntTok.Int); i++ {
			offTok, err := dec.Next()
			if err != nil || offTok.Type != scanner.TokenNumber || !offTok.IsInt {
				return nil, fmt.Errorf("%w: truncated table entry", pdferr.ErrInvalidXRef)
			}
			genTok, err := dec.Next()
			if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				return nil, fmt.Errorf("%w: truncated table entry", pdferr.ErrInvalidXRef)
			}
			flagTok, err := dec.Next()
			if err != nil || flagTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("%w: truncated table entry", pdferr.ErrInvalidXRef)
			}
			switch flagTok.Str {
			case "n":
				sec.entries[start+i] = Entry{
					Type:   EntryInUse,
					Offset: offTok.Int,
					Gen:    int(genTok.Int),
				}
			case "f":
				sec.free = append(sec.free, start+i)
			default:
				return nil, fmt.Errorf("%w: entry flag %q", pdferr.ErrInvalidXRef, flagTok.Str)
			}
		}
	}
}

// parseStreamSection reads an indirect object holding a /Type /XRef stream
// and decodes its packed records.
func (r *Resolver) parseStreamSection(ctx context.Context, s scanner.Scanner) (*section, error) {
	dec := raw.NewDecoder(s, nil)
	numTok, err := dec.Next()
	if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
		return nil, fmt.Errorf("%w: section is neither a table nor an object", pdferr.ErrInvalidXRef)
	}
	genTok, err := dec.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return nil, fmt.Errorf("%w: malformed object header", pdferr.ErrInvalidXRef)
	}
	objTok, err := dec.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, fmt.Errorf("%w: malformed object header", pdferr.ErrInvalidXRef)
	}

	dict, err := dec.DecodeDict()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidXRef, err)
	}
	if typ, _ := dict.GetName("Type"); typ != "XRef" {
		return nil, fmt.Errorf("%w: object at section offset is not an XRef stream", pdferr.ErrInvalidXRef)
	}

	// /Length of a cross-reference stream must be direct: resolving an
	// indirect length would need the very table being built.
	if length, ok := dict.GetInt("Length"); ok {
		s.SetNextStreamLength(length)
	} else {
		s.SetNextStreamLength(-1)
	}
	streamTok, err := dec.Next()
	if err != nil || streamTok.Type != scanner.TokenStream {
		return nil, fmt.Errorf("%w: XRef stream has no payload", pdferr.ErrInvalidXRef)
	}
	payload := streamTok.Bytes

	needInflate, err := filters.RestrictedFlate(dict, "cross-reference stream")
	if err != nil {
		return nil, err
	}
	if needInflate {
		names, params := filters.StreamFilters(dict)
		payload, err = filters.Default(r.cfg.Limits).Decode(ctx, payload, names, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pdferr.ErrInvalidXRef, err)
		}
	}

	sec, err := decodeXRefRecords(dict, payload)
	if err != nil {
		return nil, err
	}
	sec.trailer = dict
	return sec, nil
}

// decodeXRefRecords unpacks the fixed-width big-endian records of a
// cross-reference stream according to its /W and /Index arrays.
func decodeXRefRecords(dict *raw.DictObj, payload []byte) (*section, error) {
	widths, err := intArray(dict, "W")
	if err != nil || len(widths) != 3 {
		return nil, fmt.Errorf("%w: /W must be an array of three integers", pdferr.ErrInvalidXRef)
	}
	recLen := 0
	for _, w := range widths {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative /W width", pdferr.ErrInvalidXRef)
		}
		recLen += w
	}
	if recLen == 0 {
		return nil, fmt.Errorf("%w: /W widths are all zero", pdferr.ErrInvalidXRef)
	}

	index, err := intArray(dict, "Index")
	if err != nil {
		return nil, fmt.Errorf("%w: malformed /Index", pdferr.ErrInvalidXRef)
	}
	if index == nil {
		size, ok := dict.GetInt("Size")
		if !ok {
			return nil, fmt.Errorf("%w: XRef stream lacks both /Index and /Size", pdferr.ErrInvalidXRef)
		}
		index = []int{0, int(size)}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: /Index length is odd", pdferr.ErrInvalidXRef)
	}

	sec := newSection("stream")
	pos := 0
	for p := 0; p < len(index); p += 2 {
		start, count := index[p], index[p+1]
		for i := 0; i < count; i++ {
			if pos+recLen > len(payload) {
				return nil, fmt.Errorf("%w: XRef stream data truncated", pdferr.ErrInvalidXRef)
			}
			// A zero-width first field defaults to type 1.
			f0 := int64(1)
			if widths[0] > 0 {
				f0 = beField(payload[pos : pos+widths[0]])
			}
			f1 := beField(payload[pos+widths[0] : pos+widths[0]+widths[1]])
			f2 := beField(payload[pos+widths[0]+widths[1] : pos+recLen])
			pos += recLen

			objNum := start + i
			switch f0 {
			case 0:
				sec.free = append(sec.free, objNum)
			case 1:
				sec.entries[objNum] = Entry{Type: EntryInUse, Offset: f1, Gen: int(f2)}
			case 2:
				sec.entries[objNum] = Entry{
					Type:      EntryCompressed,
					StreamNum: int(f1),
					StreamIdx: int(f2),
				}
			default:
				return nil, pdferr.Unsupported(fmt.Sprintf("cross-reference entry type %d", f0))
			}
		}
	}
	return sec, nil
}

func beField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// intArray reads a dictionary value that must be an array of integers.
// A missing key returns (nil, nil).
func intArray(d *raw.DictObj, key string) ([]int, error) {
	obj, ok := d.Get(raw.NameObj{Val: key})
	if !ok {
		return nil, nil
	}
	arr, ok := obj.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", key)
	}
	out := make([]int, 0, len(arr.Items))
	for _, it := range arr.Items {
		n, ok := it.(raw.NumberObj)
		if !ok || !n.IsInt {
			return nil, fmt.Errorf("/%s holds a non-integer", key)
		}
		out = append(out, int(n.I))
	}
	return out, nil
}

// findStartXRef scans the file tail backward for the startxref keyword and
// returns the offset that follows it.
func findStartXRef(data []byte) (int64, error) {
	window := int64(startXRefWindow)
	if int64(len(data)) < window {
		window = int64(len(data))
	}
	tailStart := int64(len(data)) - window
	idx := bytes.LastIndex(data[tailStart:], []byte("startxref"))
	if idx < 0 {
		return 0, pdferr.ErrMissingStartXRef
	}
	s := scanner.New(bytes.NewReader(data), scanner.Config{})
	if err := s.Seek(tailStart + int64(idx) + int64(len("startxref"))); err != nil {
		return 0, pdferr.ErrMissingStartXRef
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt || tok.Int < 0 {
		return 0, fmt.Errorf("%w: no offset after startxref", pdferr.ErrMissingStartXRef)
	}
	if tok.Int >= int64(len(data)) {
		return 0, fmt.Errorf("%w: startxref offset %d out of range", pdferr.ErrInvalidXRef, tok.Int)
	}
	return tok.Int, nil
}

// readAll drains a ReaderAt into memory in fixed chunks.
func readAll(r io.ReaderAt) ([]byte, error) {
	const chunk = 256 * 1024
	var out []byte
	var off int64
	buf := make([]byte, chunk)
	for {
		n, err := r.ReadAt(buf, off)
		out = append(out, buf[:n]...)
		off += int64(n)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
	}
}
