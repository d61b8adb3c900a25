package ringbuf

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ErrMalformedRecord is returned by ParseRecord for lines that do not follow the record format
var ErrMalformedRecord = errors.New("malformed record")

// EncodeRecord writes the record for seq and msg into dst and returns the number of
// content bytes (prefix, message and the trailing newline). The rest of dst is zeroed.
//
// The message is cut at the first NUL byte and truncated so that at least one zero byte
// remains at the end of dst. Carriage returns and newlines inside the message are replaced
// by spaces, one record is always one line. Truncation never splits a UTF-8 sequence.
// dst must be at least MinSlotSize bytes long, otherwise nothing is written and 0 is returned.
func EncodeRecord(dst []byte, seq uint64, msg string) int {
	clear(dst)
	if len(dst) < MinSlotSize {
		return 0
	}

	// all appends stay within cap(dst), so b aliases dst
	b := append(dst[:0], '[')
	b = strconv.AppendUint(b, seq, 10)
	b = append(b, ']', ' ')
	prefix := len(b)

	// room for the newline and at least one zero byte
	limit := len(dst) - 2

	i := 0
	for ; i < len(msg) && len(b) < limit; i++ {
		c := msg[i]
		if c == 0 {
			break
		}
		if c == '\n' || c == '\r' {
			c = ' '
		}
		b = append(b, c)
	}

	// truncated in the middle of a multibyte rune -> drop the partial rune
	if i < len(msg) && msg[i] != 0 && !utf8.RuneStart(msg[i]) {
		for i > 0 && len(b) > prefix && !utf8.RuneStart(msg[i]) {
			i--
			b = b[:len(b)-1]
		}
	}

	b = append(b, '\n')

	// clear the bytes dropped while backing off a partial rune
	clear(dst[len(b):])
	return len(b)
}

// ContentLen returns the number of non-padding bytes of an encoded slot,
// i.e. the length up to the first zero byte.
func ContentLen(slot []byte) int {
	if n := bytes.IndexByte(slot, 0); n >= 0 {
		return n
	}
	return len(slot)
}

// ParseRecord parses a record line (with or without the trailing newline and padding)
// and returns its sequence number and message.
func ParseRecord(line []byte) (seq uint64, msg []byte, err error) {
	line = line[:ContentLen(line)]
	line = bytes.TrimSuffix(line, []byte{'\n'})

	if len(line) < 4 || line[0] != '[' {
		return 0, nil, fmt.Errorf("%w: missing sequence prefix", ErrMalformedRecord)
	}

	end := bytes.IndexByte(line, ']')
	if end < 2 || end+1 >= len(line) || line[end+1] != ' ' {
		return 0, nil, fmt.Errorf("%w: missing sequence terminator", ErrMalformedRecord)
	}

	seq, err = strconv.ParseUint(string(line[1:end]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: invalid sequence number: %v", ErrMalformedRecord, err)
	}

	return seq, line[end+2:], nil
}
