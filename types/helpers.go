package types

// StringPtr returns a pointer to a copy of s
func StringPtr(s string) *string {
	return &s
}
