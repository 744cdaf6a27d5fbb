package rowsource

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"procodus.dev/ipdr/internal/ipdr"
)

// JSON reads an array of objects, or a single object. Numbers are kept as
// json.Number so long identifiers survive intact. An array element that is
// not an object is yielded as an error.
func JSON(r io.Reader) (iter.Seq2[ipdr.RawRow, error], error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty json document", ipdr.ErrInvalidRequest)
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	switch first {
	case '{':
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: decoding json object: %w", ipdr.ErrInvalidRequest, err)
		}
		return func(yield func(ipdr.RawRow, error) bool) {
			yield(ipdr.RawRow(obj), nil)
		}, nil
	case '[':
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: decoding json array: %w", ipdr.ErrInvalidRequest, err)
		}
	default:
		return nil, fmt.Errorf("%w: json document must be an array or an object", ipdr.ErrInvalidRequest)
	}

	return func(yield func(ipdr.RawRow, error) bool) {
		for i := 1; dec.More(); i++ {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				// The decoder cannot resynchronize after a syntax error.
				yield(nil, fmt.Errorf("element %d: %w", i, err))
				return
			}

			var obj map[string]any
			if err := unmarshalNumber(raw, &obj); err != nil || obj == nil {
				if !yield(nil, fmt.Errorf("element %d is not an object", i)) {
					return
				}
				continue
			}
			if !yield(ipdr.RawRow(obj), nil) {
				return
			}
		}
	}, nil
}

func unmarshalNumber(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF:
			// UTF-8 byte order mark.
			if _, err := br.Discard(2); err != nil {
				return 0, err
			}
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
