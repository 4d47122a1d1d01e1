package http11

// parseContentLength parses a Content-Length header value as a
// non-negative decimal integer, per RFC 9110 §8.6 (no signs, no
// leading/trailing junk, overflow rejected).
func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidContentLength
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrInvalidContentLength
		}
		d := int64(c - '0')
		if n > (1<<63-1-d)/10 {
			return 0, ErrInvalidContentLength
		}
		n = n*10 + d
	}
	return n, nil
}

// trimLeadingSpace trims leading SP/HTAB (RFC 9110 optional whitespace).
func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}

// trimTrailingSpace trims trailing SP/HTAB.
func trimTrailingSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
