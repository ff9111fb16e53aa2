package services

import (
  "testing"

  "github.com/stretchr/testify/assert"
)

func TestComputeInitials(t *testing.T) {
  cases := []struct {
    name        string
    displayName string
    want        string
  }{
    {"first and last", "Jordan Lee", "JL"},
    {"middle names skipped", "Maria del Carmen Ortiz", "MO"},
    {"single name", "Cher", "C"},
    {"single letter", "x", "X"},
    {"empty", "", "??"},
    {"whitespace only", "   ", "??"},
    {"lowercase input", "sam smith", "SS"},
  }
  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      assert.Equal(t, tc.want, computeInitials(tc.displayName))
    })
  }
}
