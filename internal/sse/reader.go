// Package sse reads text/event-stream bodies.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one dispatched server-sent event. Multi-line data fields are
// joined with "\n".
type Event struct {
	Type string
	Data []byte
}

// Reader parses events from a stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF once the stream ends and no
// buffered data remains. Comment, id and retry lines are ignored.
func (s *Reader) Next() (Event, error) {
	var ev Event
	var data [][]byte

	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			if err == io.EOF && len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			return Event{}, err
		}
		atEOF := err == io.EOF

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Type = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[len("data:"):]
			v = bytes.TrimPrefix(v, []byte(" "))
			data = append(data, v)
		}

		if atEOF {
			if len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}
