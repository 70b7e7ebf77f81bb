package dispatcher

// BlockedWriter is anything the dispatcher's single UDP socket can tell to
// retry once the socket accepts writes again (spec.md §5, §6). A Session
// implementation that gets a would-block error back from its own sends
// registers itself via Dispatcher.OnWriteBlocked; the dispatcher owns the
// socket, so it is the only thing that learns when it's writable again.
type BlockedWriter interface {
	OnCanWrite()
}

// writeBlockedList implements spec.md §5's write_blocked_list_: consumers
// waiting for the socket to become writable, drained by OnCanWrite in
// arrival order with each consumer given at most one retry per call. A
// writer that blocks again during its own OnCanWrite re-registers itself
// through the same Dispatcher.OnWriteBlocked path and waits for the next
// call, rather than being retried within this one.
type writeBlockedList struct {
	writers []BlockedWriter
}

func (l *writeBlockedList) add(w BlockedWriter) {
	l.writers = append(l.writers, w)
}

// drain detaches the current queue and returns it for the caller to run
// one OnCanWrite per entry, so a writer re-blocking mid-drain joins a
// fresh queue instead of the one being drained.
func (l *writeBlockedList) drain() []BlockedWriter {
	pending := l.writers
	l.writers = nil
	return pending
}

func (l *writeBlockedList) len() int {
	return len(l.writers)
}
