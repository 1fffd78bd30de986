package labels

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/FluidXR/droidtail/internal/adb"
)

// DefaultEntryPoint is the main class of the label helper.
const DefaultEntryPoint = "AppLabels"

// LoadHelper reads a compiled helper dex from path. The remote file name
// carries a hash of the content, so a changed helper is pushed again.
func LoadHelper(path, entryPoint string) (adb.Helper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return adb.Helper{}, fmt.Errorf("read helper: %w", err)
	}
	return NewHelper(data, entryPoint), nil
}

// NewHelper wraps helper bytes that are already in memory.
func NewHelper(data []byte, entryPoint string) adb.Helper {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	return adb.Helper{
		EntryPoint: entryPoint,
		Hash:       contentHash(data),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func contentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
