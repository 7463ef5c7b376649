package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ykcoatepe/pdfcos/filters"
	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/pdferr"
	"github.com/ykcoatepe/pdfcos/recovery"
	"github.com/ykcoatepe/pdfcos/scanner"
	"github.com/ykcoatepe/pdfcos/xref"
)

// loader materializes the objects a resolved cross-reference table points
// at. It owns one scanner over the file and seeks it per object.
type loader struct {
	p        *DocumentParser
	reader   io.ReaderAt
	table    *xref.Table
	s        scanner.Scanner
	dec      *raw.Decoder
	pipeline *filters.Pipeline
}

func newLoader(p *DocumentParser, r io.ReaderAt, table *xref.Table) *loader {
	s := scanner.New(r, p.scannerConfig())
	return &loader{
		p:        p,
		reader:   r,
		table:    table,
		s:        s,
		dec:      raw.NewDecoder(s, p.rec),
		pipeline: filters.Default(filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize}),
	}
}

// loadAll loads every directly-addressed object, then unpacks object
// streams so that compressed objects become first-class document entries.
func (l *loader) loadAll(ctx context.Context, doc *raw.Document) error {
	nums := l.table.Objects()
	if max := l.p.cfg.Limits.MaxObjects; max > 0 && len(nums) > max {
		return fmt.Errorf("object count %d exceeds limit %d", len(nums), max)
	}

	containers := make(map[int]struct{})
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, _ := l.table.Lookup(num)
		if entry.Type == xref.EntryCompressed {
			containers[entry.StreamNum] = struct{}{}
			continue
		}
		obj, err := l.loadAt(num, entry)
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		doc.Objects[raw.ObjectRef{Num: num, Gen: entry.Gen}] = obj
		if stm, ok := obj.(*raw.StreamObj); ok {
			if typ, _ := stm.Dict.GetName("Type"); typ == "ObjStm" {
				containers[num] = struct{}{}
			}
		}
	}
	return l.unpackContainers(ctx, doc, containers)
}

// loadAt parses one indirect object at its recorded offset. A nil object
// with a nil error means the recovery strategy dropped it.
func (l *loader) loadAt(num int, entry xref.Entry) (raw.Object, error) {
	fail := func(msg string, pos int64) (raw.Object, error) {
		err := pdferr.SyntaxAt(msg, pos)
		action := l.p.rec.OnError(err, recovery.Location{
			ByteOffset: pos,
			ObjectNum:  num,
			ObjectGen:  entry.Gen,
			Component:  "loader",
		})
		if action == recovery.ActionSkip {
			return nil, nil
		}
		return nil, err
	}

	if err := l.s.Seek(entry.Offset); err != nil {
		return fail("object offset out of range", entry.Offset)
	}
	l.dec.Reset()
	numTok, err := l.dec.Next()
	if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt || numTok.Int != int64(num) {
		return fail(fmt.Sprintf("expected header of object %d", num), entry.Offset)
	}
	genTok, err := l.dec.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt || genTok.Int != int64(entry.Gen) {
		return fail(fmt.Sprintf("generation mismatch for object %d", num), entry.Offset)
	}
	objTok, err := l.dec.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return fail(fmt.Sprintf("missing obj keyword for object %d", num), entry.Offset)
	}

	l.dec.SetObjectContext(num, entry.Gen)
	obj, err := l.dec.Decode()
	if err != nil {
		var syn *pdferr.SyntaxError
		if errors.As(err, &syn) {
			return fail(syn.Msg, syn.Pos)
		}
		return nil, err
	}

	if dict, ok := obj.(*raw.DictObj); ok {
		obj, err = l.maybePromoteStream(dict)
		if err != nil {
			return nil, err
		}
	}

	// The closing endobj; EOF is fine for the last object in the file.
	endTok, err := l.dec.Next()
	if err == nil {
		if endTok.Type != scanner.TokenKeyword || endTok.Str != "endobj" {
			// The stray token is not kept: the next load reseeks anyway, and
			// a stale buffered token would masquerade as that object's header.
			werr := pdferr.SyntaxAt(fmt.Sprintf("object %d not closed by endobj", num), endTok.Pos)
			if l.p.rec.OnError(werr, recovery.Location{
				ByteOffset: endTok.Pos,
				ObjectNum:  num,
				ObjectGen:  entry.Gen,
				Component:  "loader",
			}) == recovery.ActionFail {
				return nil, werr
			}
		}
	} else if !errors.Is(err, io.EOF) {
		return nil, err
	}
	return obj, nil
}

// maybePromoteStream checks whether a stream keyword follows a freshly
// decoded dictionary and, if so, returns the stream object. The /Length is
// resolved first so the scanner can take exactly that many payload bytes;
// an unresolvable length falls back to scanning for endstream.
func (l *loader) maybePromoteStream(dict *raw.DictObj) (raw.Object, error) {
	l.s.SetNextStreamLength(l.resolveLength(dict))
	tok, err := l.dec.Next()
	if err != nil {
		l.s.SetNextStreamLength(-1)
		if errors.Is(err, io.EOF) {
			return dict, nil
		}
		return nil, err
	}
	if tok.Type != scanner.TokenStream {
		l.s.SetNextStreamLength(-1)
		l.dec.Unread(tok)
		return dict, nil
	}
	return raw.NewStream(dict, tok.Bytes), nil
}

// resolveLength returns the stream /Length, following one level of
// indirection when the value is a reference. Returns -1 when unknown.
func (l *loader) resolveLength(dict *raw.DictObj) int64 {
	v, ok := dict.KV["Length"]
	if !ok {
		return -1
	}
	switch t := v.(type) {
	case raw.NumberObj:
		if t.IsInt && t.I >= 0 {
			return t.I
		}
	case raw.RefObj:
		entry, ok := l.table.Lookup(t.R.Num)
		if !ok || entry.Type != xref.EntryInUse || entry.Gen != t.R.Gen {
			return -1
		}
		// A separate scanner keeps the main cursor parked before the
		// pending stream payload.
		ts := scanner.New(l.reader, l.p.scannerConfig())
		if ts.Seek(entry.Offset) != nil {
			return -1
		}
		td := raw.NewDecoder(ts, nil)
		for i := 0; i < 3; i++ { // num, gen, obj header
			if _, err := td.Next(); err != nil {
				return -1
			}
		}
		obj, err := td.Decode()
		if err != nil {
			return -1
		}
		if n, ok := obj.(raw.NumberObj); ok && n.IsInt && n.I >= 0 {
			return n.I
		}
	}
	return -1
}

// unpackContainers decodes every object stream named by a compressed entry
// or discovered directly, inserting member objects that are not already
// present under their own number.
func (l *loader) unpackContainers(ctx context.Context, doc *raw.Document, containers map[int]struct{}) error {
	nums := make([]int, 0, len(containers))
	for n := range containers {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, ok := l.table.Lookup(num)
		if !ok {
			if err := l.containerDefect(num, "compressed entry names a missing container"); err != nil {
				return err
			}
			continue
		}
		stm, ok := doc.Objects[raw.ObjectRef{Num: num, Gen: entry.Gen}].(*raw.StreamObj)
		if !ok {
			if err := l.containerDefect(num, "container object is not a stream"); err != nil {
				return err
			}
			continue
		}
		members, err := l.decodeObjStm(ctx, stm)
		if err != nil {
			return err
		}
		for _, m := range members {
			// Members live at generation 0 by definition. An existing body
			// under the same number wins, as do tombstones.
			ref := raw.ObjectRef{Num: m.num, Gen: 0}
			if _, exists := doc.Objects[ref]; exists || l.table.IsFree(m.num) {
				continue
			}
			doc.Objects[ref] = m.obj
		}
	}
	return nil
}

func (l *loader) containerDefect(num int, msg string) error {
	err := pdferr.Syntax(fmt.Sprintf("object stream %d: %s", num, msg))
	if l.p.rec.OnError(err, recovery.Location{
		ObjectNum: num,
		Component: "objstm",
	}) == recovery.ActionFail {
		return err
	}
	return nil
}

type objStmMember struct {
	num int
	obj raw.Object
}

// decodeObjStm inflates an object stream and parses its members: a header
// of /N (object number, relative offset) integer pairs, then the object
// bodies starting at /First.
func (l *loader) decodeObjStm(ctx context.Context, stm *raw.StreamObj) ([]objStmMember, error) {
	needInflate, err := filters.RestrictedFlate(stm.Dict, "object stream")
	if err != nil {
		return nil, err
	}
	payload := stm.Data
	if needInflate {
		names, params := filters.StreamFilters(stm.Dict)
		payload, err = l.pipeline.Decode(ctx, payload, names, params)
		if err != nil {
			return nil, err
		}
	}

	n, ok := stm.Dict.GetInt("N")
	if !ok || n < 0 {
		return nil, pdferr.Syntax("object stream lacks a valid /N")
	}
	first, ok := stm.Dict.GetInt("First")
	if !ok || first < 0 {
		return nil, pdferr.Syntax("object stream lacks a valid /First")
	}
	if first > int64(len(payload)) {
		return nil, pdferr.Syntax("object stream /First beyond decoded data")
	}

	hs := scanner.New(bytes.NewReader(payload), l.p.scannerConfig())
	type pair struct {
		num int
		off int64
	}
	pairs := make([]pair, 0, n)
	for i := int64(0); i < n; i++ {
		numTok, err := hs.Next()
		if err != nil || numTok.Type != scanner.TokenNumber || !numTok.IsInt {
			return nil, pdferr.Syntax("malformed object-stream index")
		}
		offTok, err := hs.Next()
		if err != nil || offTok.Type != scanner.TokenNumber || !offTok.IsInt || offTok.Int < 0 {
			return nil, pdferr.Syntax("malformed object-stream index")
		}
		pairs = append(pairs, pair{num: int(numTok.Int), off: offTok.Int})
	}

	bs := scanner.New(bytes.NewReader(payload), l.p.scannerConfig())
	bd := raw.NewDecoder(bs, l.p.rec)
	members := make([]objStmMember, 0, len(pairs))
	for _, pr := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := bs.Seek(first + pr.off); err != nil {
			return nil, pdferr.Syntax(fmt.Sprintf("object stream member %d offset beyond data", pr.num))
		}
		bd.Reset()
		bd.SetObjectContext(pr.num, 0)
		obj, err := bd.Decode()
		if err != nil {
			return nil, err
		}
		members = append(members, objStmMember{num: pr.num, obj: obj})
	}
	return members, nil
}
