// Package inject implements the no-full-archive-read IPA injection step:
// locating the .app bundle, finding the SINF manifest or falling back to
// a single SINF by executable name, and appending the signature files
// (and an optional iTunesMetadata.plist) via internal/ziptail.
package inject

import (
	"context"
	"encoding/base64"
	"io"
	"regexp"
	"strings"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/model"
	"github.com/lhbill/assppweb/internal/ziptail"
)

const (
	eocdWindow    = 65558
	copyChunkSize = 50 * 1024 * 1024
)

var payloadAppPattern = regexp.MustCompile(`^Payload/([^/]+)\.app/`)

// FindBundleName returns the .app bundle name from the first central
// directory entry matching Payload/<name>.app/ whose path does not
// contain /Watch/. It fails with MissingBundle (apperr.NotFound) if no
// such entry exists.
func FindBundleName(entries []ziptail.CDEntry) (string, error) {
	for _, e := range entries {
		if strings.Contains(e.Name, "/Watch/") {
			continue
		}
		if m := payloadAppPattern.FindStringSubmatch(e.Name); m != nil {
			return m[1], nil
		}
	}
	return "", apperr.NotFound("no Payload/<name>.app bundle found in archive")
}

// Plan is the set of files to append to the archive for one injection.
type Plan struct {
	Files []ziptail.NewFile
}

// entryByName finds the CD entry with an exact name match, or nil.
func entryByName(entries []ziptail.CDEntry, name string) *ziptail.CDEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

// BuildPlan resolves the SINF manifest (or the Info.plist fallback),
// pairs SINF blobs with destination paths, and appends an
// iTunesMetadata.plist entry when the task carries one.
func BuildPlan(bundle string, entries []ziptail.CDEntry, readRange ziptail.ReadRange, task *model.Task) (*Plan, error) {
	var files []ziptail.NewFile

	sinfPaths, err := resolveSinfPaths(bundle, entries, readRange)
	if err != nil {
		return nil, err
	}

	n := len(sinfPaths)
	if len(task.SINFs) < n {
		n = len(task.SINFs)
	}
	for i := 0; i < n; i++ {
		data, err := base64.StdEncoding.DecodeString(task.SINFs[i].Data)
		if err != nil {
			return nil, apperr.FormatError(err, "decode sinf %d", task.SINFs[i].ID)
		}
		files = append(files, ziptail.NewFile{
			Name: "Payload/" + bundle + ".app/" + sinfPaths[i],
			Data: data,
		})
	}

	if task.ITunesMetadata != "" {
		metadata, err := base64.StdEncoding.DecodeString(task.ITunesMetadata)
		if err != nil {
			return nil, apperr.FormatError(err, "decode iTunesMetadata")
		}
		// Best-effort XML→binary plist conversion; fall back to the
		// original XML bytes on any failure rather than failing the
		// task (spec.md §4.E step 5).
		converted, convErr := ConvertXMLToBinaryPlist(metadata)
		if convErr != nil {
			converted = metadata
		}
		files = append(files, ziptail.NewFile{Name: "iTunesMetadata.plist", Data: converted})
	}

	return &Plan{Files: files}, nil
}

// resolveSinfPaths implements spec.md §4.E step 4: prefer the manifest's
// SinfPaths array; fall back to a single path built from
// CFBundleExecutable when the manifest or its SinfPaths array is absent.
func resolveSinfPaths(bundle string, entries []ziptail.CDEntry, readRange ziptail.ReadRange) ([]string, error) {
	manifestEntry := entryByName(entries, "Payload/"+bundle+".app/SC_Info/Manifest.plist")
	if manifestEntry != nil {
		data, err := ziptail.ReadEntryData(*manifestEntry, readRange)
		if err == nil {
			if paths, ok := ParseManifestSinfPaths(data); ok && len(paths) > 0 {
				return paths, nil
			}
		}
	}

	infoEntry := entryByName(entries, "Payload/"+bundle+".app/Info.plist")
	if infoEntry == nil {
		return nil, apperr.NotFound("no Info.plist found for bundle %q", bundle)
	}
	data, err := ziptail.ReadEntryData(*infoEntry, readRange)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "read Info.plist", err)
	}
	executable, ok := ParseInfoPlistExecutable(data)
	if !ok {
		return nil, apperr.FormatError(nil, "Info.plist missing CFBundleExecutable")
	}
	return []string{"SC_Info/" + executable + ".sinf"}, nil
}

// Apply performs the full injection procedure: head the artifact, read
// its EOCD and central directory, build the append plan, compute the
// suffix, and write the swapped-in result via the temp key, per
// spec.md §4.E.
func Apply(ctx context.Context, store blobstore.Store, key string, task *model.Task) error {
	info, err := store.Head(ctx, key)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "head artifact", err)
	}

	tailLen := int64(eocdWindow)
	if tailLen > info.Size {
		tailLen = info.Size
	}
	tail, err := readFull(ctx, store, key, info.Size-tailLen, tailLen)
	if err != nil {
		return err
	}

	eocd, err := ziptail.FindEOCD(tail, info.Size)
	if err != nil {
		return err
	}

	cd, err := readFull(ctx, store, key, eocd.CDOffset, eocd.CDSize)
	if err != nil {
		return err
	}
	entries, err := ziptail.ParseCentralDirectory(cd)
	if err != nil {
		return err
	}

	bundle, err := FindBundleName(entries)
	if err != nil {
		return err
	}

	readRange := func(offset, length int64) ([]byte, error) {
		return readFull(ctx, store, key, offset, length)
	}

	plan, err := BuildPlan(bundle, entries, readRange, task)
	if err != nil {
		return err
	}

	suffix, err := ziptail.AppendSuffix(info.Size, entries, eocd, plan.Files)
	if err != nil {
		return err
	}

	tempKey := model.TempArtifactKey(task.AccountHash, task.Software.BundleID, task.TaskID)
	if err := writeSwappedArchive(ctx, store, key, tempKey, suffix); err != nil {
		return err
	}

	return swapArtifact(ctx, store, key, tempKey)
}

func readFull(ctx context.Context, store blobstore.Store, key string, offset, length int64) ([]byte, error) {
	rc, err := store.GetRange(ctx, key, offset, length)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "range read", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "read range body", err)
	}
	return data, nil
}
