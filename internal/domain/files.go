package domain

// CheckFileSize reports whether a file of size bytes fits under
// maxBytes. A maxBytes of 0 means no maximum. Negative sizes are
// rejected.
func CheckFileSize(size, maxBytes int64) bool {
	if size < 0 {
		return false
	}
	if maxBytes == 0 {
		return true
	}
	return size <= maxBytes
}
