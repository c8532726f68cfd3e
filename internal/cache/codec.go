package cache

import "encoding/json"

// Codec serializes application values for the remote tier. The null sentinel
// bypasses the codec and is stored as its literal string so every process
// recognizes it regardless of codec choice.
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func (JSONCodec) Decode(data []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
