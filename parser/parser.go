// Package parser turns a PDF byte stream into the merged raw.Document: it
// validates the header, resolves the cross-reference revision chain, loads
// every live indirect object, and unpacks object streams.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ykcoatepe/pdfcos/filters"
	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/observability"
	"github.com/ykcoatepe/pdfcos/pdferr"
	"github.com/ykcoatepe/pdfcos/recovery"
	"github.com/ykcoatepe/pdfcos/scanner"
	"github.com/ykcoatepe/pdfcos/xref"
)

// Limits bounds resource usage during a parse. Zero values mean unlimited.
type Limits struct {
	MaxObjects          int
	MaxRevisions        int
	MaxStringLength     int64
	MaxStreamLength     int64
	MaxStreamScan       int64
	MaxDecompressedSize int64
}

type Config struct {
	// Recovery decides what happens on localized defects. Nil selects the
	// lenient default, which drops damaged objects silently.
	Recovery recovery.Strategy
	Log      observability.Logger
	Limits   Limits
}

// DocumentParser implements raw.Parser.
type DocumentParser struct {
	cfg Config
	log observability.Logger
	rec recovery.Strategy
}

func New(cfg Config) *DocumentParser {
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	rec := cfg.Recovery
	if rec == nil {
		rec = recovery.NewLenientStrategy()
	}
	return &DocumentParser{cfg: cfg, log: log, rec: rec}
}

// Parse reads the whole file: header, cross-reference chain, objects.
func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	s := scanner.New(r, p.scannerConfig())
	header, err := s.ReadLine()
	if err != nil || !strings.HasPrefix(header, "%PDF-") {
		return nil, pdferr.ErrInvalidHeader
	}
	version := strings.TrimSpace(header[len("%PDF-"):])
	p.log.Debug("header accepted", observability.String("version", version))

	resolver := xref.NewResolver(xref.ResolverConfig{
		Log:          p.log,
		MaxRevisions: p.cfg.Limits.MaxRevisions,
		Limits:       filters.Limits{MaxDecompressedSize: p.cfg.Limits.MaxDecompressedSize},
		Scanner:      p.scannerConfig(),
	})
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, err
	}
	p.log.Debug("cross-reference chain resolved",
		observability.Int("objects", table.Len()),
		observability.Int("revisions", table.Revisions()))

	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object, table.Len()),
		Trailer: table.Trailer(),
		Version: version,
	}

	ld := newLoader(p, r, table)
	if err := ld.loadAll(ctx, doc); err != nil {
		return nil, err
	}

	rootRef, ok := trailerRef(table.Trailer(), "Root")
	if !ok {
		return nil, fmt.Errorf("%w: trailer has no /Root reference", pdferr.ErrInvalidTrailer)
	}
	doc.RootRef = &rootRef
	if infoRef, ok := trailerRef(table.Trailer(), "Info"); ok {
		doc.InfoRef = &infoRef
		doc.Metadata = infoMetadata(doc, infoRef)
	}
	return doc, nil
}

func (p *DocumentParser) scannerConfig() scanner.Config {
	return scanner.Config{
		MaxStringLength: p.cfg.Limits.MaxStringLength,
		MaxStreamLength: p.cfg.Limits.MaxStreamLength,
		MaxStreamScan:   p.cfg.Limits.MaxStreamScan,
	}
}

// trailerRef extracts an indirect reference from a trailer key.
func trailerRef(trailer *raw.DictObj, key string) (raw.ObjectRef, bool) {
	if trailer == nil {
		return raw.ObjectRef{}, false
	}
	obj, ok := trailer.Get(raw.NameObj{Val: key})
	if !ok {
		return raw.ObjectRef{}, false
	}
	ref, ok := obj.(raw.RefObj)
	if !ok {
		return raw.ObjectRef{}, false
	}
	return ref.R, true
}

// infoMetadata lifts the common /Info fields into DocumentMetadata. Fields
// that are absent or not strings stay zero.
func infoMetadata(doc *raw.Document, infoRef raw.ObjectRef) raw.DocumentMetadata {
	var md raw.DocumentMetadata
	obj, ok := doc.Get(infoRef)
	if !ok {
		return md
	}
	info, ok := obj.(*raw.DictObj)
	if !ok {
		return md
	}
	md.Title = stringValue(info, "Title")
	md.Author = stringValue(info, "Author")
	md.Subject = stringValue(info, "Subject")
	md.Creator = stringValue(info, "Creator")
	md.Producer = stringValue(info, "Producer")
	if kw := stringValue(info, "Keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				md.Keywords = append(md.Keywords, k)
			}
		}
	}
	return md
}

func stringValue(d *raw.DictObj, key string) string {
	if v, ok := d.KV[key]; ok {
		if s, ok := v.(raw.StringObj); ok {
			return string(s.Bytes)
		}
	}
	return ""
}

// Parse is a convenience over DocumentParser with default configuration.
func Parse(ctx context.Context, data []byte) (*raw.Document, error) {
	return New(Config{}).Parse(ctx, bytes.NewReader(data))
}
