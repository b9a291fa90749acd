package telemetry

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1 << 20

// newRotatingWriter returns a size-rotated log file writer. The file is
// opened on first write and reopened after any failed open or rotation, so
// a transient error never silences the log for the rest of the process.
//
// maxSizeBytes is rounded up to whole megabytes; zero keeps lumberjack's
// default. backups of zero keeps every rotated file.
func newRotatingWriter(path string, maxSizeBytes int64, backups int) *lumberjack.Logger {
	maxSize := 0
	if maxSizeBytes > 0 {
		maxSize = int((maxSizeBytes + megabyte - 1) / megabyte)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: backups,
		LocalTime:  true,
	}
}
