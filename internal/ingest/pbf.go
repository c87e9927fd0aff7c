package ingest

import (
	"context"
	"errors"
	"io"
	"runtime"

	"github.com/qedus/osmpbf"
)

// ctxReader fails reads once ctx is done, which stops the decoder's reader
// goroutine at the next blob.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func decodePBF(ctx context.Context, r io.Reader, c *collector) error {
	workers := c.opts.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(-1)
	}
	d := osmpbf.NewDecoder(ctxReader{ctx: ctx, r: r})
	if err := d.Start(workers); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			drain(d)
			return err
		}
		v, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		switch obj := v.(type) {
		case *osmpbf.Node:
			c.addNode(obj.ID, obj.Lon, obj.Lat)
		case *osmpbf.Way:
			c.addWay(obj.ID, obj.NodeIDs, obj.Tags)
		}
	}
}

// drain consumes what the decoder already produced so its goroutines can
// exit. The first error, or EOF, closes the decoder's output.
func drain(d *osmpbf.Decoder) {
	for {
		if _, err := d.Decode(); err != nil {
			return
		}
	}
}
