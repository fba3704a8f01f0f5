package request

import (
	"bytes"
	"strconv"

	"github.com/advdv/webserv"
)

type chunkPhase uint8

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataEnd
	chunkTrailer
	chunkDone
)

// maxChunkLine bounds a chunk-size line or a trailer field.
const maxChunkLine = 4096

// chunkReader decodes the chunked transfer coding across arbitrary read boundaries.
type chunkReader struct {
	phase chunkPhase
	line  []byte
	left  int64
}

func (c *chunkReader) done() bool { return c.phase == chunkDone }

// feed decodes p and hands chunk data to emit. Bytes after the final chunk are discarded.
func (c *chunkReader) feed(p []byte, emit func([]byte) error) error {
	for len(p) > 0 && c.phase != chunkDone {
		if c.phase == chunkData {
			n := min(int64(len(p)), c.left)
			if err := emit(p[:n]); err != nil {
				return err
			}
			c.left -= n
			p = p[n:]
			if c.left == 0 {
				c.phase = chunkDataEnd
			}
			continue
		}

		line, rest, ok, err := c.readLine(p)
		if err != nil {
			return err
		}
		p = rest
		if !ok {
			continue
		}

		switch c.phase {
		case chunkSize:
			n, err := parseChunkSize(line)
			if err != nil {
				return err
			}
			if n == 0 {
				c.phase = chunkTrailer
			} else {
				c.left, c.phase = n, chunkData
			}
		case chunkDataEnd:
			if len(line) != 0 {
				return webserv.Errorf(webserv.CodeBadRequest, "chunk data not followed by CRLF")
			}
			c.phase = chunkSize
		case chunkTrailer:
			if len(line) == 0 {
				c.phase = chunkDone
			}
		}
	}
	return nil
}

// readLine collects bytes up to and including LF. The returned line excludes the CRLF and is only valid until the
// next call.
func (c *chunkReader) readLine(p []byte) (line, rest []byte, ok bool, err error) {
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		c.line = append(c.line, p...)
		if len(c.line) > maxChunkLine {
			return nil, nil, false, webserv.Errorf(webserv.CodeBadRequest, "chunk line exceeds %d bytes", maxChunkLine)
		}
		return nil, nil, false, nil
	}

	c.line = append(c.line, p[:i+1]...)
	line, c.line = c.line, c.line[:0]
	if len(line) > maxChunkLine+2 {
		return nil, nil, false, webserv.Errorf(webserv.CodeBadRequest, "chunk line exceeds %d bytes", maxChunkLine)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, nil, false, webserv.Errorf(webserv.CodeBadRequest, "chunk line not terminated by CRLF")
	}
	return line[:len(line)-2], p[i+1:], true, nil
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 || len(line) > 16 {
		return 0, webserv.Errorf(webserv.CodeBadRequest, "invalid chunk size %q", line)
	}
	n, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || n < 0 {
		return 0, webserv.Errorf(webserv.CodeBadRequest, "invalid chunk size %q", line)
	}
	return n, nil
}
