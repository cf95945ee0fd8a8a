package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// auditEncMode encodes audit records with nanosecond timestamps.
var auditEncMode cbor.EncMode

// auditDecMode decodes audit records.
var auditDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	auditEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create audit CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	auditDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create audit CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes an Event to CBOR bytes.
func EncodeEvent(event Event) ([]byte, error) {
	return auditEncMode.Marshal(event)
}

// DecodeEvent decodes CBOR bytes into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := auditDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// FileLogger appends security events to an audit file as a sequence of
// CBOR records. It is safe for concurrent use from multiple goroutines.
//
// Log never fails towards the caller. A record that cannot be written,
// including one logged after Close, is counted and reported by Dropped so
// that a gap in the audit trail is detectable.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool

	written uint64
	dropped uint64
	lastErr error
}

// NewFileLogger opens path for appending, creating it with permissions
// 0600 if it doesn't exist.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:    f,
		encoder: auditEncMode.NewEncoder(f),
	}, nil
}

// Log appends an event to the audit file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.dropped++
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.dropped++
		l.lastErr = err
		return
	}
	l.written++
}

// Written returns the number of records appended since the file was opened.
func (l *FileLogger) Written() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Dropped returns the number of records that were not written, and the
// last write error if any.
func (l *FileLogger) Dropped() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped, l.lastErr
}

// Close syncs and closes the audit file. It is safe to call Close multiple
// times; later Log calls are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	syncErr := l.file.Sync()
	if err := l.file.Close(); err != nil {
		return err
	}
	return syncErr
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)

// Filter selects audit events. Zero-valued fields match everything.
type Filter struct {
	Category *Category
	Outcome  *Outcome

	// Operation filters by exact operation name.
	Operation string

	// JoinerID filters by exact joiner ID.
	JoinerID string
}

func (f *Filter) matches(event Event) bool {
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.Outcome != nil && event.Outcome != *f.Outcome {
		return false
	}
	if f.Operation != "" && event.Operation != f.Operation {
		return false
	}
	if f.JoinerID != "" && event.JoinerID != f.JoinerID {
		return false
	}
	return true
}

// Reader streams events from an audit file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens an audit file and returns the events matching filter.
func NewReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: auditDecMode.NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(event) {
			return event, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
