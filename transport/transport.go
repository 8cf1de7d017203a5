package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned by Stat and Fetch when the remote file does not exist.
var ErrNotFound = errors.New("remote file not found")

// ErrSessionLost is returned when the underlying session can no longer be used.
var ErrSessionLost = errors.New("session lost")

// Transport is an open session against a single remote directory. Names are
// relative to that directory.
type Transport interface {
	List(ctx context.Context) ([]DirEntry, error)
	Stat(ctx context.Context, name string) (DirEntry, error)
	Fetch(ctx context.Context, name string, dst io.Writer) (int64, error)
	Close() error
}

type DirEntry struct {
	IsDir   bool
	Name    string
	Mode    os.FileMode
	Size    int64
	ModTime time.Time
}
