package filters

import "fmt"

// applyPredictor reverses the predictor stage of FlateDecode output.
// Predictor 1 is a no-op, 2 is TIFF horizontal differencing, and 10..15 are
// the PNG row filters, where every row carries a leading filter-type byte.
func applyPredictor(data []byte, predictor, colors, bpc, columns int) ([]byte, error) {
	if predictor <= 1 {
		return data, nil
	}
	if colors <= 0 || bpc <= 0 || columns <= 0 {
		return nil, fmt.Errorf("predictor: invalid parameters colors=%d bpc=%d columns=%d", colors, bpc, columns)
	}
	switch {
	case predictor == 2:
		return applyTIFFPredictor(data, colors, bpc, columns)
	case predictor >= 10 && predictor <= 15:
		return applyPNGPredictor(data, colors, bpc, columns)
	default:
		return nil, fmt.Errorf("predictor: unknown predictor %d", predictor)
	}
}

func applyTIFFPredictor(data []byte, colors, bpc, columns int) ([]byte, error) {
	if bpc != 8 {
		return nil, fmt.Errorf("predictor: TIFF differencing only supported for 8 bits per component, got %d", bpc)
	}
	rowLen := colors * columns
	if rowLen == 0 || len(data)%rowLen != 0 {
		return nil, fmt.Errorf("predictor: data length %d not a multiple of row length %d", len(data), rowLen)
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row < len(out); row += rowLen {
		for i := colors; i < rowLen; i++ {
			out[row+i] += out[row+i-colors]
		}
	}
	return out, nil
}

func applyPNGPredictor(data []byte, colors, bpc, columns int) ([]byte, error) {
	bpp := (colors*bpc + 7) / 8 // bytes per pixel, minimum 1
	if bpp < 1 {
		bpp = 1
	}
	rowLen := (colors*bpc*columns + 7) / 8
	if len(data)%(rowLen+1) != 0 {
		return nil, fmt.Errorf("predictor: data length %d not a multiple of encoded row length %d", len(data), rowLen+1)
	}
	rows := len(data) / (rowLen + 1)
	out := make([]byte, 0, rows*rowLen)
	prior := make([]byte, rowLen)
	row := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		in := data[r*(rowLen+1):]
		filter := in[0]
		copy(row, in[1:rowLen+1])
		switch filter {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				row[i] += prior[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prior[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prior[i-bpp]
				}
				row[i] += paeth(left, prior[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("predictor: unknown PNG row filter %d", filter)
		}
		out = append(out, row...)
		prior, row = row, prior
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
