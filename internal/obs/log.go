package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON-line logger. Every subsystem writes
// through it so log aggregation sees a single stream of one-object-per-line
// entries.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest serializes entry as a single JSON line. Entries that cannot be
// marshaled (non-serializable values smuggled into the map) are replaced with
// a minimal error line rather than dropped silently.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"log marshal failed","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(data))
}
