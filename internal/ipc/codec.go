package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// maxLine bounds one record; final reports carry a histogram snapshot.
const maxLine = 16 << 20

// Writer encodes messages, one per line. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Send(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(m); err != nil {
		return fmt.Errorf("send %s message: %w", m.Cmd, err)
	}
	return nil
}

// DecodeError is a record that could not be parsed. Reading may continue.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", truncate(e.Line, 80), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next message. It returns io.EOF at the end of the stream
// and a *DecodeError for a malformed record, after which Next may be called
// again.
func (r *Reader) Next() (Message, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, &DecodeError{Line: string(line), Err: err}
		}
		return m, nil
	}
	if err := r.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ReportFD is the descriptor on which a worker process inherits its report
// pipe from the coordinator.
const ReportFD = 3

// OpenReportPipe returns the inherited report pipe of a worker process.
func OpenReportPipe() (*os.File, error) {
	f := os.NewFile(ReportFD, "reports")
	if f == nil {
		return nil, fmt.Errorf("report pipe: fd %d is not valid", ReportFD)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("report pipe: %w", err)
	}
	return f, nil
}
