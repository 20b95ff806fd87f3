package inject

import (
	"context"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/ziptail"
)

// writeSwappedArchive writes the rewritten archive (original prefix +
// suffix.Tail) to tempKey via multipart upload, per spec.md §4.E step 7:
// the prefix is copied by range-reading the original in 50 MiB chunks
// and uploading them as parts, with the final prefix chunk concatenated
// with Tail so every non-final part shares the same size.
func writeSwappedArchive(ctx context.Context, store blobstore.Store, originalKey, tempKey string, suffix *ziptail.Suffix) error {
	upload, err := store.Multipart(ctx, tempKey)
	if err != nil {
		return apperr.UpstreamError(err, "begin multipart upload for %q", tempKey)
	}

	if err := copyPrefixAndTail(ctx, store, originalKey, upload, suffix); err != nil {
		upload.Abort(ctx)
		return err
	}
	return nil
}

func copyPrefixAndTail(ctx context.Context, store blobstore.Store, originalKey string, upload blobstore.UploadHandle, suffix *ziptail.Suffix) error {
	var parts []blobstore.CompletedPart
	partNumber := 1

	remaining := suffix.SplitOffset
	offset := int64(0)

	if remaining == 0 {
		etag, err := upload.UploadPart(ctx, partNumber, suffix.Tail)
		if err != nil {
			return apperr.UpstreamError(err, "upload tail-only part")
		}
		parts = append(parts, blobstore.CompletedPart{PartNumber: partNumber, ETag: etag})
		return upload.Complete(ctx, parts)
	}

	for remaining > 0 {
		chunkLen := int64(copyChunkSize)
		isLast := false
		if chunkLen >= remaining {
			chunkLen = remaining
			isLast = true
		}

		data, err := readFull(ctx, store, originalKey, offset, chunkLen)
		if err != nil {
			return err
		}
		offset += chunkLen
		remaining -= chunkLen

		var body []byte
		if isLast {
			body = append(data, suffix.Tail...)
		} else {
			body = data
		}

		etag, err := upload.UploadPart(ctx, partNumber, body)
		if err != nil {
			return apperr.UpstreamError(err, "upload part %d", partNumber)
		}
		parts = append(parts, blobstore.CompletedPart{PartNumber: partNumber, ETag: etag})
		partNumber++
	}

	return upload.Complete(ctx, parts)
}

// swapArtifact performs the atomic-enough swap from spec.md §4.E step 8:
// read the temp object back and put it under the original key, then
// delete the temp key. Compare-and-set is not required because the key
// is not served until the task transitions to completed.
func swapArtifact(ctx context.Context, store blobstore.Store, originalKey, tempKey string) error {
	info, err := store.Head(ctx, tempKey)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "head temp artifact", err)
	}

	rc, err := store.GetRange(ctx, tempKey, 0, info.Size)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "read temp artifact", err)
	}
	defer rc.Close()

	if err := store.Put(ctx, originalKey, rc, info.Size); err != nil {
		return apperr.UpstreamError(err, "swap artifact into %q", originalKey)
	}

	// Best-effort cleanup; the janitor reaps any stragglers left behind
	// by a failed delete (spec.md §4.E, §4.G phase 3).
	store.Delete(ctx, []string{tempKey})
	return nil
}
