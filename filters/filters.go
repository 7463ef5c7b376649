// Package filters decodes PDF stream payloads. The engine itself only ever
// inflates cross-reference and object streams (FlateDecode, optionally with
// a predictor); the remaining decoders exist for collaborators that want
// decoded payloads of ordinary streams, which the parser leaves raw.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"io"

	"github.com/ykcoatepe/pdfcos/ir/raw"
	"github.com/ykcoatepe/pdfcos/pdferr"
)

type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with the provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// Default returns a pipeline with every decoder this package implements.
func Default(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewASCIIHexDecoder(),
		NewASCII85Decoder(),
		NewRunLengthDecoder(),
	}, limits)
}

func (p *Pipeline) findDecoder(name string) Decoder {
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies the named filters in order, left to right, pairing each
// with its DecodeParms dictionary when one is present.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	data := input
	for i, name := range filterNames {
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, pdferr.Unsupported("filter " + name)
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, err
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// StreamFilters extracts the filter name chain and DecodeParms of a stream
// dictionary. A single name and a single parms dict are normalized to
// one-element chains.
func StreamFilters(d *raw.DictObj) ([]string, []raw.Dictionary) {
	fObj, ok := d.Get(raw.NameObj{Val: "Filter"})
	if !ok {
		return nil, nil
	}
	var names []string
	switch v := fObj.(type) {
	case raw.NameObj:
		names = []string{v.Val}
	case *raw.ArrayObj:
		for _, it := range v.Items {
			if n, ok := it.(raw.NameObj); ok {
				names = append(names, n.Val)
			}
		}
	}
	var params []raw.Dictionary
	if dp, ok := d.Get(raw.NameObj{Val: "DecodeParms"}); ok {
		switch p := dp.(type) {
		case *raw.DictObj:
			params = append(params, p)
		case *raw.ArrayObj:
			for _, it := range p.Items {
				if dd, ok := it.(*raw.DictObj); ok {
					params = append(params, dd)
				}
			}
		}
	}
	return names, params
}

// RestrictedFlate enforces the filter constraint on cross-reference and
// object streams: /Filter must be absent, an empty array, or exactly
// FlateDecode. It reports whether inflation is needed. Violations surface
// as an unsupported-feature error naming the construct.
func RestrictedFlate(d *raw.DictObj, what string) (bool, error) {
	names, _ := StreamFilters(d)
	switch {
	case len(names) == 0:
		return false, nil
	case len(names) == 1 && names[0] == "FlateDecode":
		return true, nil
	default:
		return false, pdferr.Unsupported(what + " filter " + names[0])
	}
}

// FlateDecode

type flateDecoder struct{}

func NewFlateDecoder() Decoder { return flateDecoder{} }

func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var r io.ReadCloser
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// Some producers emit raw deflate without the zlib wrapper.
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return applyPredictorParams(out.Bytes(), params)
}

func applyPredictorParams(data []byte, params raw.Dictionary) ([]byte, error) {
	pd, ok := params.(*raw.DictObj)
	if !ok || pd == nil {
		return data, nil
	}
	predictor := int64(1)
	colors := int64(1)
	bpc := int64(8)
	columns := int64(1)
	if v, ok := pd.GetInt("Predictor"); ok {
		predictor = v
	}
	if v, ok := pd.GetInt("Colors"); ok {
		colors = v
	}
	if v, ok := pd.GetInt("BitsPerComponent"); ok {
		bpc = v
	}
	if v, ok := pd.GetInt("Columns"); ok {
		columns = v
	}
	return applyPredictor(data, int(predictor), int(colors), int(bpc), int(columns))
}

// ASCIIHexDecode

type asciiHexDecoder struct{}

func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		if c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20 {
			continue
		}
		trimmed = append(trimmed, c)
	}
	// Odd length is padded with 0 per the format rule.
	if len(trimmed)%2 == 1 {
		trimmed = append(trimmed, '0')
	}
	result := make([]byte, hex.DecodedLen(len(trimmed)))
	n, err := hex.Decode(result, trimmed)
	if err != nil {
		return nil, err
	}
	return result[:n], nil
}

// ASCII85Decode

type ascii85Decoder struct{}

func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, len(trimmed)*2)
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// RunLengthDecode

type runLengthDecoder struct{}

func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(ctx context.Context, in []byte, params raw.Dictionary) ([]byte, error) {
	var out bytes.Buffer
	for i := 0; i < len(in); {
		n := int(in[i])
		i++
		switch {
		case n == 128: // EOD
			return out.Bytes(), nil
		case n < 128:
			if i+n+1 > len(in) {
				return nil, errors.New("runlength: truncated literal run")
			}
			out.Write(in[i : i+n+1])
			i += n + 1
		default:
			if i >= len(in) {
				return nil, errors.New("runlength: truncated repeat run")
			}
			out.Write(bytes.Repeat(in[i:i+1], 257-n))
			i++
		}
	}
	return out.Bytes(), nil
}
