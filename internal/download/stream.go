package download

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/blobstore"
)

const readChunkSize = 256 * 1024

// pendingUpload tracks the single in-flight part upload the
// double-buffered scheme allows at any moment.
type pendingUpload struct {
	partNumber int
	done       chan error
	etagCh     chan string
}

// stream consumes body in chunks, maintaining the byte counter, stall
// watchdog, and progress throttle from spec.md §4.D, and drives the
// double-buffered multipart upload: buffered chunks accumulate until
// there is enough for a full part, which either uploads synchronously
// (if two parts' worth is already buffered) or is handed to the single
// pending upload slot while reading continues.
func (e *Engine) stream(ctx context.Context, body io.ReadCloser, declaredLength int64, upload blobstore.UploadHandle, sink ProgressSink) error {
	var (
		buffer       []byte
		downloaded   int64
		partNumber   = 1
		completed    []blobstore.CompletedPart
		pending      *pendingUpload
		lastProgress time.Time
		startedAt    = time.Now()
	)

	flushPending := func() error {
		if pending == nil {
			return nil
		}
		if err := <-pending.done; err != nil {
			return err
		}
		etag := <-pending.etagCh
		completed = append(completed, blobstore.CompletedPart{PartNumber: pending.partNumber, ETag: etag})
		pending = nil
		return nil
	}

	uploadPartSync := func(data []byte, num int) error {
		etag, err := upload.UploadPart(ctx, num, data)
		if err != nil {
			return apperr.UpstreamError(err, "upload part %d", num)
		}
		completed = append(completed, blobstore.CompletedPart{PartNumber: num, ETag: etag})
		return nil
	}

	uploadPartAsync := func(data []byte, num int) *pendingUpload {
		p := &pendingUpload{partNumber: num, done: make(chan error, 1), etagCh: make(chan string, 1)}
		go func() {
			etag, err := upload.UploadPart(ctx, num, data)
			p.etagCh <- etag
			p.done <- err
		}()
		return p
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := readWithStall(body, buf, stallTimeout)
		if n > 0 {
			downloaded += int64(n)
			if downloaded > maxArtifactBytes {
				return apperr.TooLarge("downloaded %d bytes exceeds %d byte limit", downloaded, maxArtifactBytes)
			}
			buffer = append(buffer, buf[:n]...)

			if sink != nil && time.Since(lastProgress) >= progressInterval {
				sink(Progress{Downloaded: downloaded, Total: declaredLength, Speed: formatSpeed(downloaded, time.Since(startedAt))})
				lastProgress = time.Now()
			}

			// Two full parts buffered: flush the oldest synchronously so
			// at most one pending upload is ever outstanding.
			for len(buffer) >= 2*partSize {
				if err := flushPending(); err != nil {
					return err
				}
				if err := uploadPartSync(buffer[:partSize], partNumber); err != nil {
					return err
				}
				partNumber++
				buffer = buffer[partSize:]
			}

			// One full part buffered and no pending upload: fire it off
			// asynchronously and keep reading.
			if pending == nil && len(buffer) >= partSize {
				if err := flushPending(); err != nil {
					return err
				}
				pending = uploadPartAsync(append([]byte(nil), buffer[:partSize]...), partNumber)
				partNumber++
				buffer = buffer[partSize:]
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperr.UpstreamError(readErr, "read response body")
		}
	}

	if err := flushPending(); err != nil {
		return err
	}

	for len(buffer) >= partSize {
		if err := uploadPartSync(buffer[:partSize], partNumber); err != nil {
			return err
		}
		partNumber++
		buffer = buffer[partSize:]
	}

	if len(buffer) > 0 {
		if err := uploadPartSync(buffer, partNumber); err != nil {
			return err
		}
	}

	if err := upload.Complete(ctx, completed); err != nil {
		return apperr.UpstreamError(err, "complete multipart upload")
	}
	return nil
}

// readWithStall reads into buf, failing with CdnStall if no data
// arrives within window. The read is run in a goroutine so the timeout
// can fire even though io.Reader.Read has no deadline of its own; on
// stall the body is closed to unblock the stuck read.
func readWithStall(body io.ReadCloser, buf []byte, window time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		n, err := body.Read(buf)
		resultCh <- result{n, err}
	}()

	select {
	case res := <-resultCh:
		return res.n, res.err
	case <-time.After(window):
		body.Close()
		return 0, apperr.UpstreamError(nil, "CdnStall: no data received within %s", window)
	}
}

func formatSpeed(downloaded int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	bytesPerSec := float64(downloaded) / elapsed.Seconds()
	switch {
	case bytesPerSec >= 1024*1024:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	case bytesPerSec >= 1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	}
}
