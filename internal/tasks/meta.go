package tasks

import (
	"fmt"

	"calibkit/internal/rawimage"
)

// describeFrame formats the shape of a frame as "WxH bitpix=N".
func describeFrame(rec *rawimage.Record) string {
	if rec == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d bitpix=%d", rec.Width(), rec.Height(), rec.Bitpix)
}
