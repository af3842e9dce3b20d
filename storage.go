package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// RecordingMeta is the fixed-shape metadata record emitted with every
// finished capture.
type RecordingMeta struct {
	Datatype        string    `json:"datatype"` // e.g. cf32_le
	SampleRate      float64   `json:"sample_rate"`
	Device          string    `json:"device"`
	CaptureStart    time.Time `json:"capture_start"`
	CenterFrequency float64   `json:"center_frequency"`
	Author          string    `json:"author,omitempty"`
}

// Handoff reports where the storage collaborator placed the artifacts.
type Handoff struct {
	DataLocation string `json:"data_location"`
	MetaLocation string `json:"meta_location"`
}

// Store is the storage collaborator contract: accept the metadata record
// and the flat interleaved sample blob under a key, return retrievable
// locations, or fail.
type Store interface {
	PutRecording(key string, meta RecordingMeta, samples []float32) (*Handoff, error)
}

// RecordingKey builds the canonical object key for a session capture.
func RecordingKey(userID, sessionID string) string {
	return userID + "/recordings/" + sessionID
}

// StorageHandoffError wraps a failed handoff. The recording accumulator
// is retained so the flush can be retried.
type StorageHandoffError struct {
	Key string
	Err error
}

func (e *StorageHandoffError) Error() string {
	return fmt.Sprintf("storage handoff for %s failed: %v", e.Key, e.Err)
}

func (e *StorageHandoffError) Unwrap() error { return e.Err }

// bytesPerSample maps a capture datatype to its per-complex-sample width.
var bytesPerSample = map[string]int64{
	"cf32_le": 8,
	"ci16_le": 4,
	"cu16_le": 4,
	"ci8":     2,
	"cu8":     2,
}

// BytesPerSample returns the byte width of one complex sample for a
// known datatype.
func BytesPerSample(datatype string) (int64, error) {
	bps, ok := bytesPerSample[datatype]
	if !ok {
		return 0, fmt.Errorf("unknown datatype %q", datatype)
	}
	return bps, nil
}

// ByteRange is an inclusive byte interval within a stored capture.
type ByteRange struct {
	Start int64
	End   int64
}

// SampleRangeError reports a sample-addressed request that does not fit
// inside the stored blob.
type SampleRangeError struct {
	Offset    int64
	Count     int64
	TotalSize int64
}

func (e *SampleRangeError) Error() string {
	return fmt.Sprintf("sample range offset=%d count=%d does not fit in %d bytes", e.Offset, e.Count, e.TotalSize)
}

// SampleByteRange converts a sample offset/count to the inclusive byte
// range [offset*bps, (offset+count)*bps - 1]. The range is invalid when
// negative, inverted, or extending past the known total size.
func SampleByteRange(datatype string, offset, count, totalSize int64) (ByteRange, error) {
	bps, err := BytesPerSample(datatype)
	if err != nil {
		return ByteRange{}, err
	}
	if offset < 0 || count <= 0 {
		return ByteRange{}, &SampleRangeError{Offset: offset, Count: count, TotalSize: totalSize}
	}
	r := ByteRange{Start: offset * bps, End: (offset+count)*bps - 1}
	if r.End >= totalSize {
		return ByteRange{}, &SampleRangeError{Offset: offset, Count: count, TotalSize: totalSize}
	}
	return r, nil
}

// FileStore is the default file-backed storage collaborator. Each capture
// lands as three artifacts under the key path: metadata JSON, a flat
// cf32_le blob (optionally zstd compressed), and a parquet archive
// carrying the metadata as key/value parquet metadata.
type FileStore struct {
	root     string
	compress bool
}

func NewFileStore(root string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root, compress: compress}, nil
}

func (fs *FileStore) PutRecording(key string, meta RecordingMeta, samples []float32) (*Handoff, error) {
	base := filepath.Join(fs.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return nil, &StorageHandoffError{Key: key, Err: err}
	}

	metaPath := base + ".json"
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, &StorageHandoffError{Key: key, Err: err}
	}
	if err := os.WriteFile(metaPath, metaBytes, 0644); err != nil {
		return nil, &StorageHandoffError{Key: key, Err: err}
	}

	dataPath, err := fs.writeBlob(base, samples)
	if err != nil {
		return nil, &StorageHandoffError{Key: key, Err: err}
	}

	if err := fs.writeParquet(base+".parquet", meta, samples); err != nil {
		return nil, &StorageHandoffError{Key: key, Err: err}
	}

	return &Handoff{DataLocation: dataPath, MetaLocation: metaPath}, nil
}

func (fs *FileStore) writeBlob(base string, samples []float32) (string, error) {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}

	if !fs.compress {
		path := base + ".cf32"
		return path, os.WriteFile(path, raw, 0644)
	}

	path := base + ".cf32.zst"
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return "", err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		f.Close()
		return "", err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (fs *FileStore) writeParquet(path string, meta RecordingMeta, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := NewCaptureWriter(f, meta)
	if _, err := WriteIQRows(writer, samples); err != nil {
		writer.Close()
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadRange serves a sample-addressed byte range from an uncompressed
// stored blob. Compressed stores do not support ranged reads.
func (fs *FileStore) ReadRange(key, datatype string, offset, count int64) ([]byte, error) {
	if fs.compress {
		return nil, fmt.Errorf("ranged reads require an uncompressed store")
	}

	path := filepath.Join(fs.root, filepath.FromSlash(key)) + ".cf32"
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r, err := SampleByteRange(datatype, offset, count, info.Size())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, r.End-r.Start+1)
	if _, err := f.ReadAt(buf, r.Start); err != nil {
		return nil, err
	}
	return buf, nil
}
