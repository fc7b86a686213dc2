// Package logtail reads a growing log file incrementally.
//
// A Tail remembers how far into the file it has read and returns only the
// lines appended since the previous read. The read itself is a pure
// function of a Request so it can run away from the goroutine that owns
// the Tail; the result is then applied with Tail.Apply.
package logtail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxLines bounds the number of buffered lines
	DefaultMaxLines = 10000
	// DefaultChunkSize bounds the bytes read by one increment
	DefaultChunkSize = 4 << 20
	// maxPartial is the longest unterminated line held back before it is
	// emitted as a line of its own
	maxPartial = 1 << 20
)

// ErrStale is returned by Apply for a result whose request no longer
// matches the tail's position
var ErrStale = errors.New("stale log read")

// Increment is the outcome of one incremental read
type Increment struct {
	// Lines are the lines completed by this read, oldest first
	Lines []string
	// Available is false while the file does not exist
	Available bool
	// Reset is set when the file shrank or was replaced and the buffer was
	// cleared before Lines were added
	Reset bool
	// More is set when unread bytes remain past this read's chunk
	More bool
}

// Request captures the state a read starts from
type Request struct {
	Path   string
	Offset int64
	Info   os.FileInfo // file read last time, nil before the first read
	Limit  int64
}

// Result is the raw outcome of Read
type Result struct {
	Request
	Exists bool
	Info   os.FileInfo
	Size   int64
	Reset  bool
	Data   []byte
	Err    error
}

// Tail is the read state for one log file. It is not safe for concurrent
// use.
type Tail struct {
	path     string
	maxLines int
	chunk    int64

	offset    int64
	info      os.FileInfo
	size      int64
	partial   []byte
	lines     []string
	dropped   int
	available bool
}

// New returns a tail for path keeping at most maxLines lines.
// maxLines <= 0 selects DefaultMaxLines.
func New(path string, maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Tail{
		path:     path,
		maxLines: maxLines,
		chunk:    DefaultChunkSize,
	}
}

// SetChunkSize changes the number of bytes read per increment
func (t *Tail) SetChunkSize(n int64) {
	if n > 0 {
		t.chunk = n
	}
}

// Path returns the file being tailed
func (t *Tail) Path() string { return t.path }

// Offset returns the number of bytes consumed so far
func (t *Tail) Offset() int64 { return t.offset }

// Size returns the file size seen by the last successful read
func (t *Tail) Size() int64 { return t.size }

// Available reports whether the file existed at the last read
func (t *Tail) Available() bool { return t.available }

// Lines returns the buffered lines. The caller must not modify the slice.
func (t *Tail) Lines() []string { return t.lines }

// Partial returns the trailing unterminated line, if any
func (t *Tail) Partial() string { return decode(t.partial) }

// Dropped returns how many old lines were discarded to stay within the
// line limit
func (t *Tail) Dropped() int { return t.dropped }

// ReadIncrement reads whatever was appended since the previous call
func (t *Tail) ReadIncrement() (Increment, error) {
	return t.Apply(Read(t.Request()))
}

// Request returns the parameters for the next read
func (t *Tail) Request() Request {
	return Request{
		Path:   t.path,
		Offset: t.offset,
		Info:   t.info,
		Limit:  t.chunk,
	}
}

// Read performs the file I/O for one increment. It does not touch any Tail.
func Read(req Request) Result {
	res := Result{Request: req}
	if req.Path == "" {
		return res
	}

	f, err := os.Open(req.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res
		}
		res.Err = fmt.Errorf("open log: %w", err)
		return res
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		res.Err = fmt.Errorf("stat log: %w", err)
		return res
	}
	res.Exists = true
	res.Info = info
	res.Size = info.Size()

	start := req.Offset
	if res.Size < start || (req.Info != nil && !os.SameFile(req.Info, info)) {
		res.Reset = true
		start = 0
	}

	n := res.Size - start
	if req.Limit > 0 && n > req.Limit {
		n = req.Limit
	}
	if n <= 0 {
		return res
	}

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		res.Err = fmt.Errorf("read log: %w", err)
		return res
	}
	res.Data = buf[:read]
	return res
}

// Apply folds a read result into the tail. A failed read leaves the buffer
// and offset unchanged.
func (t *Tail) Apply(res Result) (Increment, error) {
	if res.Path != t.path || res.Offset != t.offset {
		return Increment{Available: t.available}, ErrStale
	}
	if res.Err != nil {
		return Increment{Available: t.available}, res.Err
	}
	if !res.Exists {
		// keep what was read; a replacement file is detected by identity
		t.available = false
		return Increment{}, nil
	}

	inc := Increment{Available: true}
	if res.Reset {
		t.offset = 0
		t.partial = nil
		t.lines = nil
		t.dropped = 0
		inc.Reset = true
	}
	t.available = true
	t.info = res.Info
	t.size = res.Size

	t.offset += int64(len(res.Data))
	inc.More = t.offset < res.Size
	inc.Lines = t.split(res.Data)
	t.appendLines(inc.Lines)
	return inc, nil
}

func (t *Tail) split(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(t.partial)+len(data))
	buf = append(buf, t.partial...)
	buf = append(buf, data...)

	var lines []string
	last := bytes.LastIndexByte(buf, '\n')
	if last >= 0 {
		for _, raw := range bytes.Split(buf[:last], []byte{'\n'}) {
			lines = append(lines, decode(overstrike(raw)))
		}
		buf = buf[last+1:]
	}

	// progress bars rewrite the same line with \r; only the latest matters
	if i := bytes.LastIndexByte(buf, '\r'); i >= 0 && i < len(buf)-1 {
		buf = buf[i+1:]
	}
	for len(buf) > maxPartial {
		cut := runeBoundary(buf, maxPartial)
		lines = append(lines, decode(buf[:cut]))
		buf = buf[cut:]
	}
	t.partial = append([]byte(nil), buf...)
	return lines
}

func (t *Tail) appendLines(lines []string) {
	t.lines = append(t.lines, lines...)
	if over := len(t.lines) - t.maxLines; over > 0 {
		t.lines = t.lines[over:]
		t.dropped += over
	}
}

// runeBoundary moves n back to the start of the rune it falls in
func runeBoundary(b []byte, n int) int {
	for i := n; i > 0 && i > n-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}

// overstrike strips a CRLF ending and keeps the text after the last \r
func overstrike(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if i := bytes.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return line
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
