package splitlog

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// LogDir lays out build logs as <root>/<project>/<number>/console.log, with
// module segments under <root>/<project>/<number>/modules/.
type LogDir struct {
	root     string
	compress bool
}

// NewLogDir returns a LogDir rooted at root. compress selects zstd segments.
func NewLogDir(root string, compress bool) *LogDir {
	return &LogDir{root: root, compress: compress}
}

// Root returns the directory build logs live under.
func (d *LogDir) Root() string { return d.root }

// BuildDir returns the directory of one build.
func (d *LogDir) BuildDir(project string, number int) string {
	return filepath.Join(d.root, project, strconv.Itoa(number))
}

// ConsolePath returns the console log file of a build.
func (d *LogDir) ConsolePath(project string, number int) string {
	return filepath.Join(d.BuildDir(project, number), "console.log")
}

// SegmentPath returns the log segment of module within a module set build.
func (d *LogDir) SegmentPath(project string, number int, module string) string {
	name := module + ".log"
	if d.compress {
		name += ".zst"
	}
	return filepath.Join(d.BuildDir(project, number), "modules", name)
}

// OpenConsole opens the console log of b for appending. Consoles are reopened
// after a build finishes to note trigger decisions.
func (d *LogDir) OpenConsole(b *model.Build) (io.WriteCloser, error) {
	return openAppendSink(d.ConsolePath(b.Project, b.Number))
}

// OpenSegment creates the segment of module inside build b of its module set.
func (d *LogDir) OpenSegment(b *model.Build, module string) (*FileSink, error) {
	return OpenFileSink(d.SegmentPath(b.Project, b.Number, module), d.compress)
}

// Prune removes all but the newest keep build directories of every project
// and returns how many were removed.
func (d *LogDir) Prune(keep int) (int, error) {
	projects, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		builds, err := os.ReadDir(filepath.Join(d.root, p.Name()))
		if err != nil {
			return removed, err
		}
		var numbers []int
		for _, b := range builds {
			if n, err := strconv.Atoi(b.Name()); err == nil && b.IsDir() {
				numbers = append(numbers, n)
			}
		}
		if len(numbers) <= keep {
			continue
		}
		slices.Sort(numbers)
		for _, n := range numbers[:len(numbers)-keep] {
			if err := os.RemoveAll(d.BuildDir(p.Name(), n)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
