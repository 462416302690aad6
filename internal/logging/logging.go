package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// RunPaths are the files one run writes under the logs directory.
type RunPaths struct {
	Log          string
	Status       string
	InfluxBackup string
}

// NewRunPaths names the files for a run of appName started at start.
func NewRunPaths(logsDir, appName string, start time.Time) RunPaths {
	stamp := start.Format("20060102_150405")
	return RunPaths{
		Log:          filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", appName, stamp)),
		Status:       filepath.Join(logsDir, "status.txt"),
		InfluxBackup: filepath.Join(logsDir, fmt.Sprintf("%s_influx_backup.%s.log.gz", appName, stamp)),
	}
}
