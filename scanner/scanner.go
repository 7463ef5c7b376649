// Package scanner tokenizes PDF syntax on demand over an io.ReaderAt,
// buffering the input in fixed-size windows. The cursor is explicit:
// callers save a position with Position, consume tokens speculatively and
// rewind with Seek when the lookahead does not match.
//
// The scanner itself does not fail on unrecognized bytes; they advance the
// cursor as single-character keyword tokens, leaving error detection to the
// parser. Errors are reserved for I/O problems, bad seeks and exceeded
// resource limits.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // integer or real
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // stream payload following the stream keyword
	TokenKeyword                  // other keywords (obj, endobj, >>, ], trailer, xref, ...)
)

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string  // names and keywords
	Int   int64   // integer value; object number for refs
	Gen   int     // generation number for refs
	Float float64 // real value
	IsInt bool
	Bool  bool
	Bytes []byte // string and stream payloads
	Hex   bool   // string was written in hex form
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error
	// ReadLine consumes through the next CR, LF or CRLF and returns the
	// preceding text.
	ReadLine() (string, error)
	// SetNextStreamLength tells the scanner how many payload bytes follow
	// the next stream keyword. Pass a negative value to clear the hint and
	// fall back to scanning for endstream.
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
}

// pdfScanner incrementally buffers data from a ReaderAt in fixed-size
// windows. The buffer only grows, so rewinding is always safe.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
}

func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) ReadLine() (string, error) {
	start := s.pos
	for {
		if err := s.ensure(s.pos); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '\r' || c == '\n' {
			line := string(s.data[start:s.pos])
			s.pos++
			if c == '\r' && s.peekAhead(0) == '\n' {
				s.pos++
			}
			return line, nil
		}
		s.pos++
	}
	if s.pos == start {
		return "", io.EOF
	}
	return string(s.data[start:s.pos]), nil
}

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	// Unrecognized byte: advance and surface it as a one-character keyword.
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if s.data[s.pos] == '\n' || s.data[s.pos] == '\r' {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	if n == 0 {
		s.eof = true
	}
	return nil
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' { // hex escape in name
			s.pos++
			a := s.hexNibble()
			b := s.hexNibble()
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	return fromHex(c)
}

// scanLiteralString reads a ( ... ) string with balanced-paren depth
// tracking and full escape decoding (named escapes, up to three octal
// digits, line continuations).
func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			// Backslash followed by EOL is a line continuation.
			if esc == '\r' {
				s.pos++
				if s.peekAhead(0) == '\n' {
					s.pos++
				}
				continue
			}
			if esc == '\n' {
				s.pos++
				continue
			}
			if esc >= '0' && esc <= '7' {
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
						break
					}
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
				continue
			}
			buf.WriteByte(translateEscape(esc))
			s.pos++
			continue
		}
		if c == '(' {
			depth++
			buf.WriteByte(c)
			s.pos++
			continue
		}
		if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				break
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		hexbuf = append(hexbuf, c)
		s.pos++
	}
	// Odd nibble count is padded with 0 per the format rule.
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, (fromHex(hexbuf[i])<<4)|fromHex(hexbuf[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

// scanNumberOrRef reads a number and looks ahead for the 'N G R' indirect
// reference pattern, rewinding when the lookahead does not match.
func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		// Sign or dot with no digits; consume one byte as a keyword.
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if isIntegerString(num1) {
		save := s.pos
		if err := s.skipWSAndComments(); err == nil {
			num2 := s.scanNumberString()
			if num2 != "" && isIntegerString(num2) {
				if err := s.skipWSAndComments(); err == nil &&
					s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
					(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.peekAhead(1))) {
					s.pos++
					n1, _ := strconv.ParseInt(num1, 10, 64)
					n2, _ := strconv.Atoi(num2)
					return Token{Type: TokenRef, Int: n1, Gen: n2, Pos: start}, nil
				}
			}
		}
		s.pos = save
	}
	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
	}
	f, _ := strconv.ParseFloat(num1, 64)
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return ""
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

// scanStream consumes the payload following a stream keyword. With a length
// hint it skips the single EOL after the keyword and takes exactly that many
// bytes; otherwise it scans forward for the endstream marker and trims the
// one EOL that precedes it, which is not part of the payload.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	s.skipStreamEOL()
	dataStart := s.pos
	needle := []byte("endstream")

	if s.nextStreamLen >= 0 {
		l := s.nextStreamLen
		s.nextStreamLen = -1
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		if l > 0 {
			if err := s.ensure(dataStart + l - 1); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
		}
		if dataStart+l > int64(len(s.data)) {
			l = int64(len(s.data)) - dataStart
		}
		end := dataStart + l
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.skipStreamEOL()
		// Expect endstream right here; tolerate padding by scanning forward.
		// The marker may sit past the loaded window, so keep loading as the
		// search advances.
		for i := s.pos; ; i++ {
			if err := s.ensure(i + int64(len(needle)) - 1); err != nil && !errors.Is(err, io.EOF) {
				return Token{}, err
			}
			if i+int64(len(needle)) > int64(len(s.data)) {
				break
			}
			if s.data[i] == 'e' && bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
				s.pos = i + int64(len(needle))
				break
			}
		}
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}

	idx := int64(-1)
	for i := dataStart; ; i++ {
		if err := s.ensure(i + int64(len(needle)) - 1); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if i+int64(len(needle)) > int64(len(s.data)) {
			break
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			return Token{}, errors.New("endstream not found within scan limit")
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
			continue
		}
		followOK := i+int64(len(needle)) >= int64(len(s.data)) || isDelimiter(s.data[i+int64(len(needle))])
		if followOK {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Unterminated stream: everything to EOF is the payload.
		payload := append([]byte(nil), s.data[dataStart:]...)
		s.pos = int64(len(s.data))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
	} else if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	s.pos = idx + int64(len(needle))
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

// skipStreamEOL consumes at most one CR, LF or CRLF at the cursor.
func (s *pdfScanner) skipStreamEOL() {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return
	}
	if s.data[s.pos] == '\r' {
		s.pos++
		if s.peekAhead(0) == '\n' {
			s.pos++
		}
	} else if s.data[s.pos] == '\n' {
		s.pos++
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isRegular(c byte) bool { return !isDelimiter(c) }

func isIntegerString(s string) bool {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '.' {
			return false
		} else if (c == '+' || c == '-') && i > 0 {
			return false
		}
	}
	return true
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		// Includes (, ) and \ which escape themselves.
		return c
	}
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
