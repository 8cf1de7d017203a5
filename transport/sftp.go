package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/pkg/sftp"
)

// SFTPTransport serves a single remote directory over an established SFTP
// client. Closing the transport closes the client and then the closer passed
// at construction, usually the SSH connection carrying it.
type SFTPTransport struct {
	client    *sftp.Client
	directory string
	closer    io.Closer
}

func NewSFTPTransport(client *sftp.Client, directory string, closer io.Closer) *SFTPTransport {
	return &SFTPTransport{client: client, directory: directory, closer: closer}
}

func (s *SFTPTransport) remotePath(name string) string {
	return path.Join(s.directory, name)
}

func (s *SFTPTransport) List(ctx context.Context) ([]DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.client.ReadDir(s.directory)
	if err != nil {
		return nil, classify(fmt.Errorf("list %s: %w", s.directory, err))
	}

	entries := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, toDirEntry(info))
	}
	return entries, nil
}

func (s *SFTPTransport) Stat(ctx context.Context, name string) (DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return DirEntry{}, err
	}

	info, err := s.client.Stat(s.remotePath(name))
	if err != nil {
		return DirEntry{}, classify(fmt.Errorf("stat %s: %w", name, err))
	}
	return toDirEntry(info), nil
}

// Fetch copies a remote file into dst. Reads on an *sftp.File hold the file's
// lock until the server answers, so a stalled read can only be interrupted by
// tearing down the connection. When ctx ends mid-copy the session is closed and
// the error carries both ErrSessionLost and the context error.
func (s *SFTPTransport) Fetch(ctx context.Context, name string, dst io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	src, err := s.client.Open(s.remotePath(name))
	if err != nil {
		return 0, classify(fmt.Errorf("open %s: %w", name, err))
	}
	defer src.Close()

	n, aborted, err := copyContext(ctx, dst, src, s.abort)
	if aborted {
		return n, fmt.Errorf("%w: fetch %s interrupted: %w", ErrSessionLost, name, err)
	}
	if err != nil {
		return n, classify(fmt.Errorf("fetch %s: %w", name, err))
	}
	return n, nil
}

// abort closes the carrier first so the client's receive loop ends even when
// the server never answers.
func (s *SFTPTransport) abort() {
	if s.closer != nil {
		s.closer.Close()
	}
	s.client.Close()
}

func (s *SFTPTransport) Close() error {
	err := s.client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// classify maps SFTP failures onto the transport error sentinels while keeping
// the original error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %w", ErrSessionLost, err)
	}
	return err
}

func toDirEntry(info fs.FileInfo) DirEntry {
	return DirEntry{
		IsDir:   info.IsDir(),
		Name:    info.Name(),
		Mode:    info.Mode(),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}
}
