package http11

import "bytes"

// methodStrings and methodBytesTable are indexed directly by method ID
// (MethodGET..MethodTRACE are contiguous 1..9), making MethodString and
// MethodBytes true O(1) lookups rather than a linear switch.
var methodStrings = [...]string{
	MethodUnknown: "",
	MethodGET:     methodGETString,
	MethodPOST:    methodPOSTString,
	MethodPUT:     methodPUTString,
	MethodDELETE:  methodDELETEString,
	MethodPATCH:   methodPATCHString,
	MethodHEAD:    methodHEADString,
	MethodOPTIONS: methodOPTIONSString,
	MethodCONNECT: methodCONNECTString,
	MethodTRACE:   methodTRACEString,
}

var methodBytesTable = [...][]byte{
	MethodUnknown: nil,
	MethodGET:     methodGETBytes,
	MethodPOST:    methodPOSTBytes,
	MethodPUT:     methodPUTBytes,
	MethodDELETE:  methodDELETEBytes,
	MethodPATCH:   methodPATCHBytes,
	MethodHEAD:    methodHEADBytes,
	MethodOPTIONS: methodOPTIONSBytes,
	MethodCONNECT: methodCONNECTBytes,
	MethodTRACE:   methodTRACEBytes,
}

// ParseMethodID converts an HTTP method token to its numeric ID,
// returning MethodUnknown for anything it doesn't recognize. Methods
// are grouped by length first so a mismatched request never pays for
// more than one bytes.Equal per candidate.
func ParseMethodID(method []byte) uint8 {
	switch len(method) {
	case 3:
		switch {
		case bytes.Equal(method, methodGETBytes):
			return MethodGET
		case bytes.Equal(method, methodPUTBytes):
			return MethodPUT
		}
	case 4:
		switch {
		case bytes.Equal(method, methodPOSTBytes):
			return MethodPOST
		case bytes.Equal(method, methodHEADBytes):
			return MethodHEAD
		}
	case 5:
		switch {
		case bytes.Equal(method, methodPATCHBytes):
			return MethodPATCH
		case bytes.Equal(method, methodTRACEBytes):
			return MethodTRACE
		}
	case 6:
		if bytes.Equal(method, methodDELETEBytes) {
			return MethodDELETE
		}
	case 7:
		switch {
		case bytes.Equal(method, methodOPTIONSBytes):
			return MethodOPTIONS
		case bytes.Equal(method, methodCONNECTBytes):
			return MethodCONNECT
		}
	}
	return MethodUnknown
}

// MethodString returns the canonical string for a method ID, or "" for
// MethodUnknown or an out-of-range ID.
func MethodString(id uint8) string {
	if int(id) >= len(methodStrings) {
		return ""
	}
	return methodStrings[id]
}

// MethodBytes returns the canonical byte-slice form for a method ID,
// or nil for MethodUnknown or an out-of-range ID.
func MethodBytes(id uint8) []byte {
	if int(id) >= len(methodBytesTable) {
		return nil
	}
	return methodBytesTable[id]
}

// IsValidMethodID reports whether id is one of the known method IDs.
func IsValidMethodID(id uint8) bool {
	return id >= MethodGET && id <= MethodTRACE
}
