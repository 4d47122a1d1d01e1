package http11

import "bytes"

// validateHost checks that exactly one Host header was present (tracked
// by the caller while scanning headers) and that its value is a lexically
// valid uri-host [":" port]. RFC 7230 §5.4: HTTP/1.1 requests missing Host,
// or carrying more than one, MUST be rejected.
func validateHost(value []byte, seen int) error {
	if seen != 1 {
		return ErrMissingHost
	}
	if len(value) == 0 {
		return ErrMissingHost
	}

	host := value
	if idx := bytes.LastIndexByte(value, ':'); idx != -1 {
		port := value[idx+1:]
		if len(port) > 0 {
			for _, c := range port {
				if c < '0' || c > '9' {
					return ErrMissingHost
				}
			}
		}
		host = value[:idx]
	}
	if len(host) == 0 {
		return ErrMissingHost
	}
	for _, c := range host {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_' || c == ':' || c == '[' || c == ']':
		default:
			return ErrMissingHost
		}
	}
	return nil
}

// connectionTokens splits a Connection header value into its
// case-insensitive, comma-separated tokens, trimming OWS around each.
func connectionTokens(value []byte) [][]byte {
	var tokens [][]byte
	for len(value) > 0 {
		idx := bytes.IndexByte(value, ',')
		var tok []byte
		if idx == -1 {
			tok = value
			value = nil
		} else {
			tok = value[:idx]
			value = value[idx+1:]
		}
		tok = trimLeadingSpace(tok)
		tok = trimTrailingSpace(tok)
		if len(tok) > 0 {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// connectionWantsClose reports whether a Connection header's token list
// contains "close".
func connectionWantsClose(value []byte) bool {
	for _, tok := range connectionTokens(value) {
		if bytesEqualCaseInsensitive(tok, headerClose) {
			return true
		}
	}
	return false
}

// connectionWantsKeepAlive reports whether a Connection header's token
// list contains "keep-alive" (meaningful only for HTTP/1.0 requests).
func connectionWantsKeepAlive(value []byte) bool {
	for _, tok := range connectionTokens(value) {
		if bytesEqualCaseInsensitive(tok, headerKeepAlive) {
			return true
		}
	}
	return false
}

// validateExpect checks an Expect header value; only "100-continue" is
// honored. Any other expectation is unsatisfiable per §4.2.
func validateExpect(value []byte) (wants100Continue bool, err error) {
	if bytesEqualCaseInsensitive(value, header100Continue) {
		return true, nil
	}
	return false, ErrBadExpect
}

// A request-carried Date header (rare) is never validated here: per
// §4.2, a malformed value is ignored rather than rejected, so there is
// no gate to apply — the header simply isn't one this parser reads.
