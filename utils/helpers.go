package utils

import "regexp"

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// IsValidFieldName reports whether name can be used as a metadata
// segmentation field.
func IsValidFieldName(name string) bool {
	return fieldNamePattern.MatchString(name)
}
