package util

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar returns a progress bar on stderr, or nil when stderr is not
// a terminal or output is quiet. total < 0 renders an indeterminate bar.
func NewProgressBar(total int64, description, itsString string) *progressbar.ProgressBar {
	if !IsTerminal(os.Stderr.Fd()) || IsQuiet() {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(itsString),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
