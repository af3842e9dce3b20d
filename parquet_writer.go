package main

import (
	"encoding/json"
	"io"

	"github.com/segmentio/parquet-go"
)

// IQRow is one complex sample in the parquet capture archive.
type IQRow struct {
	I float32 `parquet:"i"`
	Q float32 `parquet:"q"`
}

// NewCaptureWriter creates a parquet writer for I/Q rows with the
// recording metadata attached as key/value file metadata.
func NewCaptureWriter(w io.Writer, meta RecordingMeta) *parquet.GenericWriter[IQRow] {
	metaStr := "{}"
	if b, err := json.Marshal(meta); err == nil {
		metaStr = string(b)
	}
	return parquet.NewGenericWriter[IQRow](w,
		parquet.KeyValueMetadata("recording", metaStr),
	)
}

// WriteIQRows converts an interleaved sample buffer to rows and writes
// them. A trailing unpaired value is dropped. Returns the number of rows
// written.
func WriteIQRows(writer *parquet.GenericWriter[IQRow], samples []float32) (int, error) {
	n := len(samples) / 2
	if n == 0 {
		return 0, nil
	}
	rows := make([]IQRow, n)
	for i := 0; i < n; i++ {
		rows[i] = IQRow{I: samples[2*i], Q: samples[2*i+1]}
	}
	_, err := writer.Write(rows)
	return n, err
}
