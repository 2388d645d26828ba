package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the snapshot file format written by WriteSnapshot.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed snapshot payload (1GB).
const MaxDecompressedSize = 1 << 30

// ErrChecksumMismatch is returned when a snapshot payload does not match
// the checksum in its header.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// SnapshotHeader is the plain-text first line of a snapshot file. It can be
// read without touching the compressed payload.
type SnapshotHeader struct {
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	Checksum        string            `json:"checksum"`
	RunID           string            `json:"run_id,omitempty"`
	Generation      int               `json:"generation"`
	Final           bool              `json:"final"`
	NodeCount       int               `json:"node_count"`
	EdgeCount       int               `json:"edge_count"`
	IndividualCount int               `json:"individual_count"`
	Compressed      bool              `json:"compressed"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// WriteSnapshot writes snap as a header line followed by its gzip-compressed
// JSON payload. The file is written to a temporary name and renamed into
// place, so readers never see a partial snapshot.
func WriteSnapshot(path string, snap *Snapshot) (*SnapshotHeader, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &SnapshotHeader{
		Version:         FormatVersion,
		CreatedAt:       snap.CreatedAt,
		Checksum:        checksum(compressed.Bytes()),
		RunID:           snap.RunID,
		Generation:      snap.Generation,
		Final:           snap.Final,
		NodeCount:       len(snap.Nodes),
		EdgeCount:       len(snap.Edges),
		IndividualCount: len(snap.Individuals),
		Compressed:      true,
		Metadata:        snap.Metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return nil, fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("renaming snapshot: %w", err)
	}
	return header, nil
}

// ReadSnapshot reads a snapshot file, verifies the checksum, and decompresses the payload.
func ReadSnapshot(path string) (*Snapshot, error) {
	header, compressedData, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if err := verify(header, compressedData); err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	limitedReader := io.LimitReader(gzr, MaxDecompressedSize+1)
	decompressed, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var snap Snapshot
	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot data: %w", err)
	}
	return &snap, nil
}

// ReadHeader reads only the header line from a snapshot file without decompressing.
func ReadHeader(path string) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// VerifyChecksum checks the integrity of a snapshot file without decompressing it.
func VerifyChecksum(path string) error {
	header, compressedData, err := readRaw(path)
	if err != nil {
		return err
	}
	return verify(header, compressedData)
}

func readHeader(reader *bufio.Reader) (*SnapshotHeader, error) {
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header SnapshotHeader
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	return &header, nil
}

func readRaw(path string) (*SnapshotHeader, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, compressedData, nil
}

func verify(header *SnapshotHeader, compressedData []byte) error {
	if actual := checksum(compressedData); actual != header.Checksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, header.Checksum, actual)
	}
	return nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
