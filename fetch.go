package pollsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/b1naryth1ef/pollsync/transport"
	"github.com/spf13/afero"
)

type TransferStatus uint8

const (
	TransferOK TransferStatus = iota
	// TransferNotFound means the remote file vanished between listing and
	// fetch. It is an expected outcome, not a failure.
	TransferNotFound
	TransferFailed
)

type TransferResult struct {
	Status   TransferStatus
	Bytes    int64
	Duration time.Duration
	Err      error
}

func probeLocal(fsys afero.Fs, path string) (LocalState, error) {
	info, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LocalState{}, nil
	} else if err != nil {
		return LocalState{}, err
	}
	if info.IsDir() {
		return LocalState{}, fmt.Errorf("%s is a directory", path)
	}
	return LocalState{Exists: true, ModTime: info.ModTime()}, nil
}

// transfer fetches name into the local directory through a temporary file so
// that a failed copy never leaves a partial file behind. The local copy takes
// the remote modification time.
func (c *Client) transfer(ctx context.Context, name string, remoteModTime time.Time) TransferResult {
	start := c.clock.Now()
	localPath := filepath.Join(c.cfg.LocalDirectory, name)

	if c.cfg.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TransferTimeout)
		defer cancel()
	}

	tmp, err := afero.TempFile(c.fs, c.cfg.LocalDirectory, "."+name+".tmp-*")
	if err != nil {
		return TransferResult{Status: TransferFailed, Err: err}
	}
	tmpPath := tmp.Name()

	n, err := c.tp.Fetch(ctx, name, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.fs.Remove(tmpPath)
		if errors.Is(err, transport.ErrNotFound) {
			return TransferResult{Status: TransferNotFound, Bytes: n, Err: err}
		}
		return TransferResult{Status: TransferFailed, Bytes: n, Err: err}
	}

	if !remoteModTime.IsZero() {
		if err := c.fs.Chtimes(tmpPath, c.clock.Now(), remoteModTime); err != nil {
			c.fs.Remove(tmpPath)
			return TransferResult{Status: TransferFailed, Bytes: n, Err: err}
		}
	}
	if err := c.fs.Rename(tmpPath, localPath); err != nil {
		c.fs.Remove(tmpPath)
		return TransferResult{Status: TransferFailed, Bytes: n, Err: err}
	}

	return TransferResult{Status: TransferOK, Bytes: n, Duration: c.clock.Since(start)}
}
