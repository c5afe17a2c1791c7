package wire

import "bytes"

// StatusSize is the length of every status reply.
const StatusSize = 3

var (
	statusOK     = [StatusSize]byte{'O', 'K', 0}
	statusFailed = [StatusSize]byte{'F', 'A', 0}
)

// EncodeStatus returns the reply frame for a completed hand-off.
func EncodeStatus(ok bool) []byte {
	if ok {
		b := statusOK
		return b[:]
	}
	b := statusFailed
	return b[:]
}

// DecodeStatus parses a reply frame.
func DecodeStatus(b []byte) (ok bool, err error) {
	switch {
	case bytes.Equal(b, statusOK[:]):
		return true, nil
	case bytes.Equal(b, statusFailed[:]):
		return false, nil
	}
	return false, ErrBadStatus
}
