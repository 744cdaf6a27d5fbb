package mq

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformedMessage is returned when a message body is not an encoded row.
var ErrMalformedMessage = errors.New("malformed row message")

// EncodeRow marshals a row of column values into a protobuf Struct body.
// Values must be JSON-like: strings, numbers, bools, nil, slices or maps.
func EncodeRow(row map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeRow unmarshals a body produced by EncodeRow. Numbers come back as float64.
func DecodeRow(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	row := s.AsMap()
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrMalformedMessage)
	}
	return row, nil
}
