package seg

import (
	"math/big"

	"github.com/google/uuid"
)

// NewUID returns a globally unique DICOM UID in the 2.25 (UUID derived) root.
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
