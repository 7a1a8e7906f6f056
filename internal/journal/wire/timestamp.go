package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dtsEpoch is the zero point of the host's 8-byte system time stamp.
var dtsEpoch = time.Date(1928, time.August, 23, 12, 3, 6, 314752000, time.UTC)

// dtsShift drops the uniqueness bits below one microsecond.
const dtsShift = 12

// DecodeTimestamp converts an 8-byte system time stamp to UTC.
func DecodeTimestamp(b []byte) time.Time {
	v := binary.BigEndian.Uint64(b)
	if v == 0 {
		return time.Time{}
	}
	return dtsEpoch.Add(time.Duration(v>>dtsShift) * time.Microsecond)
}

// EncodeTimestamp converts t to an 8-byte system time stamp.
func EncodeTimestamp(t time.Time) []byte {
	b := make([]byte, 8)
	if t.IsZero() {
		return b
	}
	micros := uint64(t.Sub(dtsEpoch) / time.Microsecond)
	binary.BigEndian.PutUint64(b, micros<<dtsShift)
	return b
}

// ParseDateTime parses a CYYMMDDHHMMSS host date, where C is the century
// offset from 1900. Blank or all-zero values yield the zero time.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Trim(s, "0") == "" {
		return time.Time{}, nil
	}
	if len(s) != 13 {
		return time.Time{}, fmt.Errorf("%w: host date %q", ErrMalformed, s)
	}

	var parts [7]int
	fields := []string{s[0:1], s[1:3], s[3:5], s[5:7], s[7:9], s[9:11], s[11:13]}
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: host date %q", ErrMalformed, s)
		}
		parts[i] = v
	}

	year := 1900 + parts[0]*100 + parts[1]
	return time.Date(year, time.Month(parts[2]), parts[3], parts[4], parts[5], parts[6], 0, time.UTC), nil
}

// FormatDateTime formats t as a CYYMMDDHHMMSS host date.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return strings.Repeat("0", 13)
	}
	t = t.UTC()
	century := (t.Year() - 1900) / 100
	return fmt.Sprintf("%d%02d%02d%02d%02d%02d%02d",
		century, t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}
