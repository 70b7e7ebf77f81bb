package qlog

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/qdispatch/qdispatch/internal/utils"
	"github.com/qdispatch/qdispatch/logging"
)

// Dir contains the value of the QDISPATCH_QLOGDIR environment variable.
// If empty, DefaultTracer returns nil and the dispatcher logs nothing
// beyond its ordinary operational log.
var Dir string

func init() {
	Dir = os.Getenv("QDISPATCH_QLOGDIR")
	if Dir != "" {
		if _, err := os.Stat(Dir); os.IsNotExist(err) {
			if err := os.MkdirAll(Dir, 0o755); err != nil {
				log.Fatalf("qlog: failed to create dir %s: %v", Dir, err)
			}
		}
	}
}

// DefaultTracer creates a single qlog file, "dispatcher.qlog", in the
// directory named by QDISPATCH_QLOGDIR. Returns nil if that variable is
// unset, in which case callers should fall back to logging.NullTracer.
func DefaultTracer() logging.Tracer {
	if Dir == "" {
		return nil
	}
	path := fmt.Sprintf("%s/dispatcher.qlog", strings.TrimRight(Dir, "/"))
	f, err := os.Create(path)
	if err != nil {
		log.Printf("qlog: failed to create %s: %s", path, err)
		return nil
	}
	return NewTracer(utils.NewBufferedWriteCloser(bufio.NewWriter(f), f))
}
