// Command pdfinspect parses a PDF and prints its object-level structure:
// header version, trailer references, and one line per live object. With
// -rewrite it serializes the merged document back out in classic form.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/observability"
	"github.com/ykcoatepe/pdfcos/parser"
	"github.com/ykcoatepe/pdfcos/recovery"
	"github.com/ykcoatepe/pdfcos/writer"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	strict := flag.Bool("strict", false, "fail on the first defect instead of skipping")
	rewrite := flag.String("rewrite", "", "write the merged document to this file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pdfinspect [-v] [-strict] [-rewrite out.pdf] file.pdf")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *verbose, *strict, *rewrite); err != nil {
		fmt.Fprintln(os.Stderr, "pdfinspect:", err)
		os.Exit(1)
	}
}

func run(path string, verbose, strict bool, rewrite string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := parser.Config{}
	if verbose {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		cfg.Log = observability.NewSlogLogger(slog.New(h))
	}
	var lenient *recovery.LenientStrategy
	if strict {
		cfg.Recovery = recovery.NewStrictStrategy()
	} else {
		lenient = recovery.NewLenientStrategy()
		cfg.Recovery = lenient
	}

	doc, err := parser.New(cfg).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		return err
	}

	fmt.Printf("version:  %s\n", doc.Version)
	fmt.Printf("objects:  %d\n", len(doc.Objects))
	if doc.RootRef != nil {
		fmt.Printf("root:     %s\n", doc.RootRef)
	}
	if doc.InfoRef != nil {
		fmt.Printf("info:     %s\n", doc.InfoRef)
	}
	if t := doc.Metadata.Title; t != "" {
		fmt.Printf("title:    %s\n", t)
	}
	if p := doc.Metadata.Producer; p != "" {
		fmt.Printf("producer: %s\n", p)
	}

	refs := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	for _, ref := range refs {
		obj := doc.Objects[ref]
		line := fmt.Sprintf("%-10s %s", ref, obj.Type())
		if d, ok := obj.(*raw.DictObj); ok {
			if typ, ok := d.GetName("Type"); ok {
				line += " /" + typ
			}
		}
		if s, ok := obj.(*raw.StreamObj); ok {
			if typ, ok := s.Dict.GetName("Type"); ok {
				line += " /" + typ
			}
			line += fmt.Sprintf(" (%d bytes)", len(s.Data))
		}
		fmt.Println(line)
	}

	if lenient != nil {
		for _, w := range lenient.Warnings() {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
	}

	if rewrite != "" {
		out, err := writer.Marshal(doc)
		if err != nil {
			return err
		}
		if err := os.WriteFile(rewrite, out, 0o644); err != nil {
			return err
		}
		fmt.Printf("rewrote:  %s (%d bytes)\n", rewrite, len(out))
	}
	return nil
}
