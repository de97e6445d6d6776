package bm25

import (
	"fmt"

	"github.com/kbserve/retrieval-core/internal/model"
)

// ErrCorruptIndex is wrapped into every structural decode failure in
// persist.go; the manager treats it as a signal to rebuild from source
// chunks rather than a fatal error. It wraps model.ErrIndexCorrupt.
var ErrCorruptIndex = fmt.Errorf("bm25: index file corrupt: %w", model.ErrIndexCorrupt)
