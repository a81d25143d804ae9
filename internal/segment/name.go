package segment

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseName is the file name, without extension, reused for every
// committed segment unless unique naming is enabled.
const DefaultBaseName = "buffer"

// Namer produces the path each committed segment is encoded to.
type Namer struct {
	dir    string
	base   string
	ext    string
	unique bool
	now    func() time.Time
}

// NewNamer creates a Namer for files under dir. With unique set every call
// to Next returns a fresh path; otherwise the same path is reused.
func NewNamer(dir, base, ext string, unique bool) *Namer {
	if base == "" {
		base = DefaultBaseName
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Namer{dir: dir, base: base, ext: ext, unique: unique, now: time.Now}
}

// Next returns the path for the next segment.
// Unique format: <base>-<unix>-<8 hex chars><ext>
func (n *Namer) Next() string {
	if !n.unique {
		return filepath.Join(n.dir, n.base+n.ext)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return filepath.Join(n.dir, fmt.Sprintf("%s-%d-%s%s", n.base, n.now().Unix(), suffix, n.ext))
}
