package domain

import (
	"fmt"
	"strings"
)

// MaxNumberingAttempts bounds the retries when a concurrent insert takes the
// sequence number this one allocated.
const MaxNumberingAttempts = 5

// FormatCaseNumber builds "MJ" + the customer number digits + a 4-digit
// per-client sequence, e.g. MJ0001 and 1 give MJ00010001.
func FormatCaseNumber(customerNumber string, sequence int) string {
	return fmt.Sprintf("MJ%s%04d", strings.TrimPrefix(customerNumber, "MJ"), sequence)
}
