package filterrules

import (
	"io"
	"io/fs"
	"path"
)

// FSLoader resolves merge directives against an fs.FS, relative to a
// base directory (typically the directory containing the top-level
// rule file passed to --filter).
type FSLoader struct {
	FS   fs.FS
	Base string
}

func (l FSLoader) Open(name string) (io.ReadCloser, error) {
	p := name
	if !path.IsAbs(p) {
		p = path.Join(l.Base, name)
	}
	f, err := l.FS.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}
