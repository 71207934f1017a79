package detector

import (
	"os"
	"sync/atomic"

	"github.com/arclight-data/frame.capture/internal/monitoring"
)

// debugEnabled toggles lightweight per-packet and per-pixel-run logging.
// Enabled at startup with FRAME_CAPTURE_DEBUG=1 or via SetDebug.
var debugEnabled atomic.Bool

func init() {
	if os.Getenv("FRAME_CAPTURE_DEBUG") == "1" {
		debugEnabled.Store(true)
	}
}

// SetDebug enables or disables debug logging for the detector package.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

func debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		monitoring.Logf(format, v...)
	}
}
