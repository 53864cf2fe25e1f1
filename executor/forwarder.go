package executor

import (
	"io"
	"os"
	"sync"
	"time"
)

// forwarder streams a growing file to a writer in the background, so
// scheduler-side output appears on the driver's console while the job
// runs. It tolerates the file not existing yet.
type forwarder struct {
	path   string
	dst    io.Writer
	offset int64
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

const forwardInterval = 500 * time.Millisecond

func newForwarder(path string, dst io.Writer) *forwarder {
	f := &forwarder{
		path: path,
		dst:  dst,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *forwarder) run() {
	defer close(f.done)
	ticker := time.NewTicker(forwardInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			// Drain whatever arrived since the last tick.
			f.copyNew()
			if fw, ok := f.dst.(*filterWriter); ok {
				fw.Flush()
			}
			return
		case <-ticker.C:
			f.copyNew()
		}
	}
}

func (f *forwarder) copyNew() {
	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer file.Close()
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return
	}
	n, _ := io.Copy(f.dst, file)
	f.offset += n
}

// Close stops the forwarder after a final drain. Idempotent.
func (f *forwarder) Close() {
	f.once.Do(func() { close(f.stop) })
	<-f.done
}
