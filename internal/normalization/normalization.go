package normalization

import (
  "strings"
)

// ParseInputString trims surrounding whitespace and collapses internal runs
// of whitespace down to single spaces.
func ParseInputString(s string) string {
  return strings.Join(strings.Fields(s), " ")
}

// ParseInputStringPtr is ParseInputString for optional fields. Nil stays nil.
func ParseInputStringPtr(s *string) *string {
  if s == nil {
    return nil
  }
  out := ParseInputString(*s)
  return &out
}
