package storage

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Trades are gob-encoded: they are written on the settlement path and never
// read by anything but this package. Snapshot documents are JSON.

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(b)).Decode(v), "gob decode")
}

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "json encode")
}

func decodeJSON(b []byte, v any) error {
	return errors.Wrap(json.Unmarshal(b, v), "json decode")
}
