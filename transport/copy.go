package transport

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// copyContext copies src into dst until EOF or until ctx ends. When ctx ends
// first, abort is called to unblock the copy; it must make any pending read on
// src fail. Reports whether abort ran.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader, abort func()) (int64, bool, error) {
	copyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var n int64
	var aborted bool
	wg, groupCtx := errgroup.WithContext(copyCtx)
	wg.Go(func() error {
		defer cancel()
		var err error
		n, err = io.Copy(dst, src)
		return err
	})
	wg.Go(func() error {
		<-groupCtx.Done()
		if ctx.Err() != nil {
			aborted = true
			abort()
			return ctx.Err()
		}
		return nil
	})

	err := wg.Wait()
	if ctx.Err() != nil {
		return n, aborted, ctx.Err()
	}
	return n, aborted, err
}
