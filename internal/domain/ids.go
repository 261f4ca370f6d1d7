package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewRecordID returns prefix + "_" + 8 upper-case hex characters.
func NewRecordID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + strings.ToUpper(hex[:8])
}

// SagaIDPrefix starts every saga id. Reference ids may not carry it, so a
// path segment is unambiguously one or the other.
const SagaIDPrefix = "money-transfer-"

func SagaIDFor(referenceID string) string {
	return SagaIDPrefix + referenceID
}
