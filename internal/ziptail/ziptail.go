// Package ziptail implements append-only ZIP surgery: locating the
// end-of-central-directory record, walking the central directory, and
// appending new stored entries without reading the whole archive.
//
// It operates on byte windows the caller supplies (the last bytes of an
// archive, and the central directory range) rather than a full archive
// reader, so callers can drive it against a ranged blob store.
package ziptail

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/lhbill/assppweb/internal/apperr"
)

const (
	eocdSignature      = 0x06054b50
	cdEntrySignature   = 0x02014b50
	localHeaderSignature = 0x04034b50

	eocdBaseSize  = 22
	maxEocdWindow = 65557 // comment field is at most 65535 bytes

	methodStored  = 0
	methodDeflate = 8

	zip64Marker = 0xFFFFFFFF
)

// EOCD is the parsed end-of-central-directory record.
type EOCD struct {
	EocdOffset int64 // offset of the EOCD signature within the archive
	EntryCount int
	CDSize     int64
	CDOffset   int64
}

// FindEOCD scans tail (the last bytes of the archive) backwards for the
// EOCD signature. archiveSize is the total archive length, used to turn
// the in-tail offset into an absolute archive offset.
func FindEOCD(tail []byte, archiveSize int64) (*EOCD, error) {
	window := tail
	if len(window) > maxEocdWindow+eocdBaseSize {
		window = window[len(window)-(maxEocdWindow+eocdBaseSize):]
	}

	idx := -1
	for i := len(window) - eocdBaseSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(window[i:i+4]) == eocdSignature {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, apperr.FormatError(nil, "no end-of-central-directory signature found")
	}

	rec := window[idx:]
	if len(rec) < eocdBaseSize {
		return nil, apperr.FormatError(nil, "truncated end-of-central-directory record")
	}

	diskNumber := binary.LittleEndian.Uint16(rec[4:6])
	cdDiskNumber := binary.LittleEndian.Uint16(rec[6:8])
	entriesOnDisk := binary.LittleEndian.Uint16(rec[8:10])
	totalEntries := binary.LittleEndian.Uint16(rec[10:12])
	cdSize := binary.LittleEndian.Uint32(rec[12:16])
	cdOffset := binary.LittleEndian.Uint32(rec[16:20])

	if diskNumber != 0 || cdDiskNumber != 0 || entriesOnDisk != totalEntries {
		return nil, apperr.FormatError(nil, "multi-disk archives are not supported")
	}
	if cdSize == zip64Marker || cdOffset == zip64Marker || totalEntries == 0xFFFF {
		return nil, apperr.FormatError(nil, "ZIP64 archives are not supported")
	}

	// Absolute offset of the signature byte within the archive: the tail
	// window's last byte corresponds to archiveSize-1.
	eocdOffsetInArchive := archiveSize - int64(len(window)) + int64(idx)

	return &EOCD{
		EocdOffset: eocdOffsetInArchive,
		EntryCount: int(totalEntries),
		CDSize:     int64(cdSize),
		CDOffset:   int64(cdOffset),
	}, nil
}

// CDEntry is one parsed central directory entry.
type CDEntry struct {
	Name             string
	Method           uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	LocalHeaderOffset uint32
	Raw              []byte // the exact CD entry bytes, for verbatim reuse
}

// ParseCentralDirectory walks cd (the raw central directory bytes) and
// returns one CDEntry per record.
func ParseCentralDirectory(cd []byte) ([]CDEntry, error) {
	var entries []CDEntry
	off := 0
	for off < len(cd) {
		if off+46 > len(cd) {
			return nil, apperr.FormatError(nil, "truncated central directory entry header")
		}
		if binary.LittleEndian.Uint32(cd[off:off+4]) != cdEntrySignature {
			return nil, apperr.FormatError(nil, "bad central directory entry signature")
		}

		method := binary.LittleEndian.Uint16(cd[off+10 : off+12])
		crc := binary.LittleEndian.Uint32(cd[off+16 : off+20])
		compSize := binary.LittleEndian.Uint32(cd[off+20 : off+24])
		uncompSize := binary.LittleEndian.Uint32(cd[off+24 : off+28])
		nameLen := int(binary.LittleEndian.Uint16(cd[off+28 : off+30]))
		extraLen := int(binary.LittleEndian.Uint16(cd[off+30 : off+32]))
		commentLen := int(binary.LittleEndian.Uint16(cd[off+32 : off+34]))
		localOffset := binary.LittleEndian.Uint32(cd[off+42 : off+46])

		total := 46 + nameLen + extraLen + commentLen
		if off+total > len(cd) {
			return nil, apperr.FormatError(nil, "truncated central directory entry body")
		}

		name := string(cd[off+46 : off+46+nameLen])

		entries = append(entries, CDEntry{
			Name:              name,
			Method:            method,
			CRC32:             crc,
			CompressedSize:    compSize,
			UncompressedSize:  uncompSize,
			LocalHeaderOffset: localOffset,
			Raw:               append([]byte(nil), cd[off:off+total]...),
		})

		off += total
	}
	return entries, nil
}

// ReadRange fetches archive bytes in [offset, offset+length) from
// whatever backs the archive (a blob store, a file, etc).
type ReadRange func(offset int64, length int64) ([]byte, error)

// ReadEntryData resolves entry's local header via readRange, then
// returns the (decompressed, if needed) file data.
func ReadEntryData(entry CDEntry, readRange ReadRange) ([]byte, error) {
	// 30-byte fixed local header, then variable name + extra, then data.
	header, err := readRange(int64(entry.LocalHeaderOffset), 30)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "read local header", err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != localHeaderSignature {
		return nil, apperr.FormatError(nil, "bad local file header signature")
	}
	nameLen := int(binary.LittleEndian.Uint16(header[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(header[28:30]))

	dataOffset := int64(entry.LocalHeaderOffset) + 30 + int64(nameLen) + int64(extraLen)
	compSize := int64(entry.CompressedSize)

	raw, err := readRange(dataOffset, compSize)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "read entry data", err)
	}

	switch entry.Method {
	case methodStored:
		return raw, nil
	case methodDeflate:
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		if err != nil {
			return nil, apperr.FormatError(err, "inflate entry %q", entry.Name)
		}
		return out, nil
	default:
		return nil, apperr.FormatError(nil, "unsupported compression method %d for %q", entry.Method, entry.Name)
	}
}

// NewFile is one file to append via AppendSuffix.
type NewFile struct {
	Name string
	Data []byte
}

// Suffix is the result of AppendSuffix: bytes to place after splitOffset
// in the rewritten archive.
type Suffix struct {
	SplitOffset int64
	Tail        []byte
}

// AppendSuffix builds stored local entries for files, reuses the
// existing central directory entries verbatim, and emits a fresh EOCD.
// The rewritten archive is originalBytes[:SplitOffset] followed by Tail.
func AppendSuffix(archiveSize int64, entries []CDEntry, eocd *EOCD, files []NewFile) (*Suffix, error) {
	var localBlocks bytes.Buffer
	var newCDEntries bytes.Buffer

	localOffset := uint32(eocd.CDOffset)
	for _, f := range files {
		crc := crc32.ChecksumIEEE(f.Data)
		nameBytes := []byte(f.Name)

		local := make([]byte, 30+len(nameBytes))
		binary.LittleEndian.PutUint32(local[0:4], localHeaderSignature)
		binary.LittleEndian.PutUint16(local[4:6], 20) // version needed
		binary.LittleEndian.PutUint16(local[6:8], 0)  // flags
		binary.LittleEndian.PutUint16(local[8:10], methodStored)
		binary.LittleEndian.PutUint16(local[10:12], 0) // mod time
		binary.LittleEndian.PutUint16(local[12:14], 0) // mod date
		binary.LittleEndian.PutUint32(local[14:18], crc)
		binary.LittleEndian.PutUint32(local[18:22], uint32(len(f.Data)))
		binary.LittleEndian.PutUint32(local[22:26], uint32(len(f.Data)))
		binary.LittleEndian.PutUint16(local[26:28], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint16(local[28:30], 0) // extra len
		copy(local[30:], nameBytes)

		localBlocks.Write(local)
		localBlocks.Write(f.Data)

		cdEntry := make([]byte, 46+len(nameBytes))
		binary.LittleEndian.PutUint32(cdEntry[0:4], cdEntrySignature)
		binary.LittleEndian.PutUint16(cdEntry[4:6], 20) // version made by
		binary.LittleEndian.PutUint16(cdEntry[6:8], 20) // version needed
		binary.LittleEndian.PutUint16(cdEntry[8:10], 0) // flags
		binary.LittleEndian.PutUint16(cdEntry[10:12], methodStored)
		binary.LittleEndian.PutUint16(cdEntry[12:14], 0) // mod time
		binary.LittleEndian.PutUint16(cdEntry[14:16], 0) // mod date
		binary.LittleEndian.PutUint32(cdEntry[16:20], crc)
		binary.LittleEndian.PutUint32(cdEntry[20:24], uint32(len(f.Data)))
		binary.LittleEndian.PutUint32(cdEntry[24:28], uint32(len(f.Data)))
		binary.LittleEndian.PutUint16(cdEntry[28:30], uint16(len(nameBytes)))
		binary.LittleEndian.PutUint16(cdEntry[30:32], 0) // extra len
		binary.LittleEndian.PutUint16(cdEntry[32:34], 0) // comment len
		binary.LittleEndian.PutUint16(cdEntry[34:36], 0) // disk number start
		binary.LittleEndian.PutUint16(cdEntry[36:38], 0) // internal attrs
		binary.LittleEndian.PutUint32(cdEntry[38:42], 0) // external attrs
		binary.LittleEndian.PutUint32(cdEntry[42:46], localOffset)
		copy(cdEntry[46:], nameBytes)

		newCDEntries.Write(cdEntry)
		localOffset += uint32(len(local) + len(f.Data))
	}

	var tail bytes.Buffer
	tail.Write(localBlocks.Bytes())

	newCDOffset := eocd.CDOffset + int64(localBlocks.Len())
	cdTotalSize := int64(0)
	for _, e := range entries {
		tail.Write(e.Raw)
		cdTotalSize += int64(len(e.Raw))
	}
	tail.Write(newCDEntries.Bytes())
	cdTotalSize += int64(newCDEntries.Len())

	totalEntries := eocd.EntryCount + len(files)

	newEocd := make([]byte, eocdBaseSize)
	binary.LittleEndian.PutUint32(newEocd[0:4], eocdSignature)
	binary.LittleEndian.PutUint16(newEocd[4:6], 0)
	binary.LittleEndian.PutUint16(newEocd[6:8], 0)
	binary.LittleEndian.PutUint16(newEocd[8:10], uint16(totalEntries))
	binary.LittleEndian.PutUint16(newEocd[10:12], uint16(totalEntries))
	binary.LittleEndian.PutUint32(newEocd[12:16], uint32(cdTotalSize))
	binary.LittleEndian.PutUint32(newEocd[16:20], uint32(newCDOffset))
	binary.LittleEndian.PutUint16(newEocd[20:22], 0) // comment len

	tail.Write(newEocd)

	return &Suffix{SplitOffset: eocd.CDOffset, Tail: tail.Bytes()}, nil
}
