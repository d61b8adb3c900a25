package ringbuf

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

// TestEncodeRecord checks the slot layout of encoded records
func TestEncodeRecord(t *testing.T) {
	tests := []struct {
		name string
		seq  uint64
		msg  string
		want string
	}{
		{"simple", 1, "hello", "[1] hello\n"},
		{"empty message", 7, "", "[7] \n"},
		{"embedded nul", 2, "abc\x00def", "[2] abc\n"},
		{"newlines", 3, "line1\nline2\r\n", "[3] line1 line2  \n"},
		{"large sequence", 18446744073709551615, "x", "[18446744073709551615] x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := bytes.Repeat([]byte{0xff}, 64)
			n := EncodeRecord(slot, tt.seq, tt.msg)

			if got := string(slot[:n]); got != tt.want {
				t.Fatalf("Expected %q, got %q", tt.want, got)
			}
			if ContentLen(slot) != n {
				t.Fatalf("ContentLen %d does not match encoded length %d", ContentLen(slot), n)
			}
			for i, b := range slot[n:] {
				if b != 0 {
					t.Fatalf("Padding byte %d is %#x", n+i, b)
				}
			}

			seq, msg, err := ParseRecord(slot)
			if err != nil {
				t.Fatalf("ParseRecord failed: %v", err)
			}
			if seq != tt.seq {
				t.Errorf("Expected sequence %d, got %d", tt.seq, seq)
			}
			wantMsg := tt.want[strings.Index(tt.want, "] ")+2 : len(tt.want)-1]
			if string(msg) != wantMsg {
				t.Errorf("Expected message %q, got %q", wantMsg, msg)
			}
		})
	}
}

// TestEncodeRecordTruncation checks that long messages keep a trailing zero byte
func TestEncodeRecordTruncation(t *testing.T) {
	const slotSize = 32
	slot := make([]byte, slotSize)
	msg := strings.Repeat("a", 100)

	n := EncodeRecord(slot, 42, msg)
	if n != slotSize-1 {
		t.Fatalf("Expected %d content bytes, got %d", slotSize-1, n)
	}
	if slot[n-1] != '\n' {
		t.Fatalf("Record must end with a newline, got %q", slot[n-1])
	}
	if slot[slotSize-1] != 0 {
		t.Fatal("Last byte of a slot must be zero")
	}

	_, parsed, err := ParseRecord(slot)
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if !strings.HasPrefix(msg, string(parsed)) {
		t.Fatalf("Truncated message %q is not a prefix of the original", parsed)
	}
	if want := slotSize - len("[42] ") - 2; len(parsed) != want {
		t.Errorf("Expected %d message bytes, got %d", want, len(parsed))
	}
}

// TestEncodeRecordUTF8 checks that truncation never splits a multibyte rune
func TestEncodeRecordUTF8(t *testing.T) {
	// every possible cut position relative to a 4 byte rune
	for pad := 0; pad < 4; pad++ {
		slot := make([]byte, 32)
		msg := strings.Repeat("x", 22+pad) + strings.Repeat("🙂", 4)

		n := EncodeRecord(slot, 1, msg)
		if slot[n-1] != '\n' {
			t.Fatalf("pad %d: record must end with a newline", pad)
		}
		if !utf8.Valid(slot[:n]) {
			t.Fatalf("pad %d: encoded record %q is not valid UTF-8", pad, slot[:n])
		}
		for _, b := range slot[n:] {
			if b != 0 {
				t.Fatalf("pad %d: padding not zeroed", pad)
			}
		}
	}
}

// TestEncodeRecordShortSlot checks that undersized destinations are left empty
func TestEncodeRecordShortSlot(t *testing.T) {
	slot := []byte("garbage")
	if n := EncodeRecord(slot, 1, "msg"); n != 0 {
		t.Fatalf("Expected 0, got %d", n)
	}
	if !bytes.Equal(slot, make([]byte, len(slot))) {
		t.Fatal("Short slot should be cleared")
	}
}

// TestParseRecordMalformed checks the rejection of lines without a valid prefix
func TestParseRecordMalformed(t *testing.T) {
	lines := []string{
		"",
		"no prefix\n",
		"[] empty\n",
		"[12 missing bracket\n",
		"[12]missing space\n",
		"[abc] not a number\n",
		"\x00\x00\x00",
	}

	for _, line := range lines {
		if _, _, err := ParseRecord([]byte(line)); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("ParseRecord(%q): expected ErrMalformedRecord, got %v", line, err)
		}
	}
}
