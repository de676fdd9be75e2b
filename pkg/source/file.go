package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"k8s.io/apimachinery/pkg/util/json"
)

// FileSource reads documents from a file holding either a single JSON array
// or newline-delimited JSON objects. Decoding preserves integer values.
// NDJSON files are consumed line by line; array files are decoded up front.
type FileSource struct {
	name    string
	file    *os.File
	scanner *bufio.Scanner
	docs    []map[string]any
	pos     int
	ndjson  bool
}

// NewFileSource opens a JSON or NDJSON document file. The format is detected
// from the first non-whitespace byte: '[' selects JSON-array mode.
func NewFileSource(name, path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, NewSourceError(name, err)
	}

	reader := bufio.NewReader(file)
	first, err := peekNonSpace(reader)
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, NewSourceError(name, fmt.Errorf("cannot detect file format: %w", err))
	}

	s := &FileSource{name: name, file: file}
	if first == '[' {
		raw, err := io.ReadAll(reader)
		if err != nil {
			file.Close() //nolint:errcheck
			return nil, NewSourceError(name, err)
		}
		if err := json.Unmarshal(raw, &s.docs); err != nil {
			file.Close() //nolint:errcheck
			return nil, NewSourceError(name, fmt.Errorf("invalid JSON array: %w", err))
		}
	} else {
		s.ndjson = true
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
		s.scanner = scanner
	}

	return s, nil
}

func peekNonSpace(reader *bufio.Reader) (byte, error) {
	for {
		bs, err := reader.Peek(1)
		if err != nil {
			return 0, err
		}
		switch bs[0] {
		case ' ', '\t', '\n', '\r':
			if _, err := reader.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return bs[0], nil
		}
	}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Next(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewSourceError(s.name, err)
	}

	if s.ndjson {
		return s.nextLine()
	}

	if s.pos >= len(s.docs) {
		return nil, ErrStop
	}
	doc := s.docs[s.pos]
	s.pos++

	return doc, nil
}

func (s *FileSource) nextLine() (map[string]any, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		doc := map[string]any{}
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, NewSourceError(s.name, fmt.Errorf("invalid document: %w", err))
		}
		return doc, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, NewSourceError(s.name, err)
	}

	return nil, ErrStop
}

func (s *FileSource) Close() error { return s.file.Close() }
