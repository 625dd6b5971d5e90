package credstore

import (
	"encoding/json"
	"fmt"

	"github.com/porthorian/procureauth/pkg/crypto"
)

type JSONCodec struct{}

func (JSONCodec) Encode(record Record) ([]byte, error) {
	if record.Version == 0 {
		record.Version = RecordVersion
	}
	return json.Marshal(record)
}

func (JSONCodec) Decode(data []byte) (Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := validateRecord(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// SealedCodec wraps another codec and encrypts its output at rest.
type SealedCodec struct {
	Inner  Codec
	Sealer crypto.Sealer
}

func (c SealedCodec) Encode(record Record) ([]byte, error) {
	plain, err := c.inner().Encode(record)
	if err != nil {
		return nil, err
	}
	return c.Sealer.Seal(plain)
}

func (c SealedCodec) Decode(data []byte) (Record, error) {
	plain, err := c.Sealer.Open(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return c.inner().Decode(plain)
}

func (c SealedCodec) inner() Codec {
	if c.Inner == nil {
		return JSONCodec{}
	}
	return c.Inner
}

func validateRecord(record Record) error {
	switch {
	case record.Version != RecordVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, record.Version)
	case record.AccessCredential == "":
		return fmt.Errorf("%w: missing access credential", ErrCorruptRecord)
	case record.Origin == "":
		return fmt.Errorf("%w: missing origin", ErrCorruptRecord)
	case record.Profile.Role == "":
		return fmt.Errorf("%w: missing role", ErrCorruptRecord)
	}
	return nil
}
