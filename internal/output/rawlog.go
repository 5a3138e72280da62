package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const rawLogMagic = "SNAPRAW1"

// RawLogWriter appends catalog responses to a length-prefixed log:
// the magic, then per record an 8-byte unix-nano timestamp, a 4-byte
// payload length and the payload, all little endian.
type RawLogWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		path: filename,
		f:    f,
		w:    w,
	}, nil
}

func (r *RawLogWriter) Path() string { return r.path }

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

var ErrBadRawLog = errors.New("not a raw log")

type RawRecord struct {
	Time    time.Time
	Payload []byte
}

type RawLogReader struct {
	r      *bufio.Reader
	closer io.Closer
}

func OpenRawLog(path string) (*RawLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader, err := NewRawLogReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	reader.closer = f
	return reader, nil
}

// NewRawLogReader checks the magic and positions r on the first record.
func NewRawLogReader(r io.Reader) (*RawLogReader, error) {
	br := bufio.NewReaderSize(r, 1024*1024)
	header := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRawLog, err)
	}
	if string(header) != rawLogMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadRawLog, string(header))
	}
	return &RawLogReader{r: br}, nil
}

// Next returns the next record, io.EOF after the last complete one.
func (r *RawLogReader) Next() (RawRecord, error) {
	var meta [12]byte
	if _, err := io.ReadFull(r.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(meta[:8]))
	size := binary.LittleEndian.Uint32(meta[8:12])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	return RawRecord{Time: time.Unix(0, ts), Payload: payload}, nil
}

func (r *RawLogReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
