package raw

import (
	"github.com/ykcoatepe/pdfcos/pdferr"
	"github.com/ykcoatepe/pdfcos/recovery"
	"github.com/ykcoatepe/pdfcos/scanner"
)

// TokenSource is the slice of the scanner the decoder needs.
type TokenSource interface {
	Next() (scanner.Token, error)
}

// Decoder materializes one COS value from a token stream, with a one-deep
// unread stack for the lookahead the grammar requires. It is shared by the
// cross-reference resolver (trailer dictionaries) and the object loader.
type Decoder struct {
	src TokenSource
	buf []scanner.Token
	rec recovery.Strategy
	num int
	gen int
}

func NewDecoder(src TokenSource, rec recovery.Strategy) *Decoder {
	return &Decoder{src: src, rec: rec}
}

// SetObjectContext records which indirect object is being decoded, for
// recovery locations.
func (d *Decoder) SetObjectContext(num, gen int) {
	d.num, d.gen = num, gen
}

func (d *Decoder) Next() (scanner.Token, error) {
	if l := len(d.buf); l > 0 {
		t := d.buf[l-1]
		d.buf = d.buf[:l-1]
		return t, nil
	}
	return d.src.Next()
}

func (d *Decoder) Unread(tok scanner.Token) { d.buf = append(d.buf, tok) }

// Reset discards unread tokens. Callers must invoke it after repositioning
// the underlying scanner, since buffered tokens predate the move.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

// Decode parses one full object value: scalar, reference, array or dict.
// Stream promotion happens above this level, where /Length can be resolved.
func (d *Decoder) Decode() (Object, error) {
	tok, err := d.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return NumberObj{I: tok.Int, IsInt: true}, nil
		}
		return NumberObj{F: tok.Float}, nil
	case scanner.TokenBoolean:
		return BoolObj{V: tok.Bool}, nil
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		return StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenRef:
		return RefObj{R: ObjectRef{Num: int(tok.Int), Gen: tok.Gen}}, nil
	case scanner.TokenArray:
		return d.decodeArray()
	case scanner.TokenDict:
		return d.decodeDict()
	case scanner.TokenKeyword:
		return nil, pdferr.SyntaxAt("unexpected keyword "+tok.Str, tok.Pos)
	default:
		return nil, pdferr.SyntaxAt("unexpected token", tok.Pos)
	}
}

// DecodeDict parses one object and requires it to be a dictionary.
func (d *Decoder) DecodeDict() (*DictObj, error) {
	obj, err := d.Decode()
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*DictObj)
	if !ok {
		return nil, pdferr.Syntax("expected dictionary")
	}
	return dict, nil
}

func (d *Decoder) decodeArray() (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			break
		}
		d.Unread(tok)
		item, err := d.Decode()
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
	return arr, nil
}

func (d *Decoder) decodeDict() (Object, error) {
	dict := Dict()
	for {
		tok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			break
		}
		if tok.Type != scanner.TokenName {
			// endobj before >> shows up in mildly damaged files; let the
			// recovery strategy decide whether the dict still counts.
			if tok.Type == scanner.TokenKeyword && tok.Str == "endobj" && d.rec != nil {
				err := pdferr.SyntaxAt("endobj inside dictionary", tok.Pos)
				action := d.rec.OnError(err, recovery.Location{
					ByteOffset: tok.Pos,
					ObjectNum:  d.num,
					ObjectGen:  d.gen,
					Component:  "decoder",
				})
				if action == recovery.ActionSkip {
					d.Unread(tok)
					break
				}
				return nil, err
			}
			return nil, pdferr.SyntaxAt("expected name as dictionary key", tok.Pos)
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		dict.Set(NameObj{Val: tok.Str}, val)
	}
	return dict, nil
}
