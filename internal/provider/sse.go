package provider

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/kaptinlin/jsonrepair"
)

// DoneSentinel terminates OpenAI-style event streams.
const DoneSentinel = "[DONE]"

const maxSSELine = 1 << 20

// SSEReader yields the data payloads of a text/event-stream body.
type SSEReader struct {
	r *bufio.Reader
}

// NewSSEReader wraps r.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event's data. Multiple data lines of one event are
// joined with "\n"; comments and other fields are skipped. It returns
// io.EOF once the body is exhausted.
func (s *SSEReader) Next() ([]byte, error) {
	var dataLines [][]byte
	size := 0
	for {
		line, err := s.r.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				dataLines = appendDataLine(dataLines, bytes.TrimRight(line, "\r\n"))
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		size += len(line)
		if size > maxSSELine {
			return nil, bufio.ErrTooLong
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				size = 0
				continue
			}
			return bytes.Join(dataLines, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		dataLines = appendDataLine(dataLines, line)
	}
}

func appendDataLine(dst [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dst
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return append(dst, append([]byte(nil), val...))
}

// IsDone reports whether data is the OpenAI-style terminal sentinel.
func IsDone(data []byte) bool {
	return string(bytes.TrimSpace(data)) == DoneSentinel
}

// DecodeChunk unmarshals one incremental payload. Slightly malformed JSON is
// repaired before giving up; callers skip chunks that still fail.
func DecodeChunk(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(data))
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), target)
}
