package splitlog

import (
	"bytes"
	"io"
	"os"
)

// SpillFilePattern is the os.CreateTemp pattern of unclaimed-output spill files.
const SpillFilePattern = "cascade-unclaimed-*.log"

// unclaimed holds output written while no side sink is installed. It keeps up
// to threshold bytes in memory and moves everything to a temp file past that.
// Not safe for concurrent use; SplitLog guards it.
type unclaimed struct {
	threshold int
	dir       string
	mem       bytes.Buffer
	file      *os.File
	size      int64
}

func newUnclaimed(threshold int, dir string) *unclaimed {
	return &unclaimed{threshold: threshold, dir: dir}
}

// Len is the number of buffered bytes.
func (u *unclaimed) Len() int64 {
	if u.file != nil {
		return u.size
	}
	return int64(u.mem.Len())
}

// Spilled reports whether the buffer lives on disk.
func (u *unclaimed) Spilled() bool { return u.file != nil }

// Write buffers p and returns how many bytes were written to disk.
func (u *unclaimed) Write(p []byte) (int, error) {
	if u.file == nil && u.mem.Len()+len(p) <= u.threshold {
		u.mem.Write(p)
		return 0, nil
	}
	spilled := 0
	if u.file == nil {
		f, err := os.CreateTemp(u.dir, SpillFilePattern)
		if err != nil {
			return 0, ErrSpillFailed.WithCause(err)
		}
		u.file = f
		n, err := f.Write(u.mem.Bytes())
		u.size += int64(n)
		spilled += n
		if err != nil {
			return spilled, ErrSpillFailed.WithCause(err).WithContext("path", f.Name())
		}
		u.mem.Reset()
	}
	n, err := u.file.Write(p)
	u.size += int64(n)
	spilled += n
	if err != nil {
		return spilled, ErrSpillFailed.WithCause(err).WithContext("path", u.file.Name())
	}
	return spilled, nil
}

// DrainTo copies every buffered byte to w in write order and empties the buffer.
func (u *unclaimed) DrainTo(w io.Writer) error {
	if u.file == nil {
		if u.mem.Len() == 0 {
			return nil
		}
		_, err := w.Write(u.mem.Bytes())
		u.mem.Reset()
		if err != nil {
			return ErrDrainFailed.WithCause(err)
		}
		return nil
	}

	f := u.file
	defer u.discard()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ErrDrainFailed.WithCause(err).WithContext("path", f.Name())
	}
	if _, err := io.Copy(w, f); err != nil {
		return ErrDrainFailed.WithCause(err).WithContext("path", f.Name())
	}
	return nil
}

// discard drops the buffer and removes the spill file.
func (u *unclaimed) discard() {
	u.mem.Reset()
	if u.file != nil {
		name := u.file.Name()
		_ = u.file.Close()
		_ = os.Remove(name)
		u.file = nil
		u.size = 0
	}
}
