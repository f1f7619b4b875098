package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Binary format constants for persisted checkpoint metadata files.
const (
	MagicBytes    = "PBTC"
	FormatVersion = 1
)

// Header precedes every encoded metadata payload on disk and in the WAL.
type Header struct {
	Magic    [4]byte
	Version  uint16
	Flags    uint16
	DataLen  uint64
	Checksum uint32
}

const (
	FlagCompressed uint16 = 1 << 0
)

// checkpointRecord is the on-disk shape of Checkpoint metadata. The
// state blob itself is written separately by the caller-supplied
// StateWriter so the codec never depends on a tensor format.
type checkpointRecord struct {
	ID              int                          `msgpack:"id"`
	Generation      int                          `msgpack:"generation"`
	Steps           int                          `msgpack:"steps"`
	Epochs          int                          `msgpack:"epochs"`
	Loss            map[string]map[string]float64 `msgpack:"loss"`
	StateRef        string                        `msgpack:"state_ref"`
	ParentID        *int                          `msgpack:"parent_id,omitempty"`
	HyperparamBlob  []byte                        `msgpack:"hyperparam_blob"`
}

// Codec encodes and decodes Checkpoint metadata records. Compression
// is optional since checkpoint metadata is small; state blobs are
// never routed through the codec.
type Codec struct {
	compress  bool
	compLevel int
}

// NewCodec creates a codec, optionally gzip-compressing metadata
// payloads above the noise floor.
func NewCodec(compress bool) *Codec {
	return &Codec{compress: compress, compLevel: gzip.BestSpeed}
}

// Encode serializes a checkpointRecord to the on-disk header+payload
// format: a magic header, length prefix, and checksum around the payload.
func (c *Codec) Encode(rec checkpointRecord) ([]byte, error) {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, err
	}

	var flags uint16
	if c.compress {
		compressed, err := c.compressData(data)
		if err != nil {
			return nil, err
		}
		if len(compressed) < len(data) {
			data = compressed
			flags |= FlagCompressed
		}
	}

	header := Header{
		Version:  FormatVersion,
		Flags:    flags,
		DataLen:  uint64(len(data)),
		Checksum: crc32.ChecksumIEEE(data),
	}
	copy(header.Magic[:], MagicBytes)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	if _, err := buf.Write(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses the header+payload format back into a checkpointRecord.
func (c *Codec) Decode(raw []byte) (checkpointRecord, error) {
	var rec checkpointRecord

	headerSize := binary.Size(Header{})
	if len(raw) < headerSize {
		return rec, errors.New("persistence: data shorter than header")
	}

	buf := bytes.NewReader(raw)
	var header Header
	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return rec, err
	}
	if string(header.Magic[:]) != MagicBytes {
		return rec, errors.New("persistence: invalid magic bytes")
	}
	if header.Version > FormatVersion {
		return rec, errors.New("persistence: unsupported format version")
	}

	data := make([]byte, header.DataLen)
	if _, err := io.ReadFull(buf, data); err != nil {
		return rec, err
	}
	if crc32.ChecksumIEEE(data) != header.Checksum {
		return rec, errors.New("persistence: checksum mismatch")
	}

	if header.Flags&FlagCompressed != 0 {
		decompressed, err := c.decompressData(data)
		if err != nil {
			return rec, err
		}
		data = decompressed
	}

	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (c *Codec) compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.compLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) decompressData(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Snapshot is a lightweight view of a persisted checkpoint: its id,
// step, generation and losses. BestMember/TopMembers rank the Store's
// in-memory index directly and do not use it.
type Snapshot struct {
	ID         int                            `msgpack:"id"`
	Step       int                            `msgpack:"step"`
	Generation int                             `msgpack:"generation"`
	Loss       map[string]map[string]float64  `msgpack:"loss"`
}

// EncodeSnapshot serializes a snapshot list with msgpack.
func EncodeSnapshot(snapshots []Snapshot) ([]byte, error) {
	return msgpack.Marshal(snapshots)
}

// DecodeSnapshot deserializes a snapshot list written by EncodeSnapshot.
func DecodeSnapshot(data []byte) ([]Snapshot, error) {
	var snaps []Snapshot
	err := msgpack.Unmarshal(data, &snaps)
	return snaps, err
}
