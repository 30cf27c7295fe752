package cache

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Packed blob layout. The 24-byte header is little-endian:
//
//	[0:4]   magic
//	[4:6]   format version
//	[6]     body compression
//	[7]     reserved
//	[8:12]  section count
//	[12:16] raw body length
//	[16:20] CRC32 of the raw body
//	[20:24] stored body length
//
// The raw body is a run of sections, each
//
//	uvarint typeLen | type | uvarint shard | uvarint entryCount | entries
//
// and each entry is
//
//	uvarint keyLen | key | 16-byte language tag | uvarint listLen | list
//
// Entries within a section are sorted by key, then tag.
const (
	BlobMagic      uint32 = 0x47454f43
	BlobVersion    uint16 = 1
	BlobHeaderSize        = 24
)

type blobEntry struct {
	key  string
	lang LanguageSet
	list []byte
}

func compareEntries(a, b blobEntry) int {
	if c := strings.Compare(a.key, b.key); c != 0 {
		return c
	}
	return a.lang.compare(b.lang)
}

type blobSection struct {
	typ     string
	shard   uint32
	entries []blobEntry
}

func writeBlob(sections []blobSection, c Compression) ([]byte, error) {
	var body []byte
	for _, s := range sections {
		body = binary.AppendUvarint(body, uint64(len(s.typ)))
		body = append(body, s.typ...)
		body = binary.AppendUvarint(body, uint64(s.shard))
		body = binary.AppendUvarint(body, uint64(len(s.entries)))
		for _, e := range s.entries {
			body = binary.AppendUvarint(body, uint64(len(e.key)))
			body = append(body, e.key...)
			tag := e.lang.tag()
			body = append(body, tag[:]...)
			body = binary.AppendUvarint(body, uint64(len(e.list)))
			body = append(body, e.list...)
		}
	}
	if uint64(len(body)) > 1<<32-1 {
		return nil, fmt.Errorf("%w: packed body of %d bytes", apperrors.ErrOutOfRange, len(body))
	}
	stored, used, err := compressBody(body, c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, BlobHeaderSize, BlobHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:4], BlobMagic)
	binary.LittleEndian.PutUint16(out[4:6], BlobVersion)
	out[6] = byte(used)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(sections)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[16:20], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(stored)))
	return append(out, stored...), nil
}

// ValidateBlob parses data and reports ErrCorruptRecord if it is not a
// well-formed blob.
func ValidateBlob(data []byte) error {
	_, _, err := readBlob(data)
	return err
}

// readBlob parses a blob into sections whose entries reference the
// decompressed body; posting lists stay encoded.
func readBlob(data []byte) ([]blobSection, Compression, error) {
	if len(data) < BlobHeaderSize {
		return nil, 0, fmt.Errorf("%w: blob of %d bytes is shorter than its header", apperrors.ErrCorruptRecord, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != BlobMagic {
		return nil, 0, fmt.Errorf("%w: bad blob magic %#x", apperrors.ErrCorruptRecord, magic)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != BlobVersion {
		return nil, 0, fmt.Errorf("%w: unsupported blob version %d", apperrors.ErrCorruptRecord, v)
	}
	comp := Compression(data[6])
	sectionCount := binary.LittleEndian.Uint32(data[8:12])
	rawLen := binary.LittleEndian.Uint32(data[12:16])
	checksum := binary.LittleEndian.Uint32(data[16:20])
	storedLen := binary.LittleEndian.Uint32(data[20:24])
	if uint64(len(data)-BlobHeaderSize) != uint64(storedLen) {
		return nil, 0, fmt.Errorf("%w: blob body is %d bytes, header says %d", apperrors.ErrCorruptRecord, len(data)-BlobHeaderSize, storedLen)
	}
	body, err := decompressBody(data[BlobHeaderSize:], comp, int(rawLen))
	if err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, 0, fmt.Errorf("%w: blob checksum mismatch", apperrors.ErrCorruptRecord)
	}

	r := blobReader{buf: body}
	sections := make([]blobSection, 0, sectionCount)
	for i := uint32(0); i < sectionCount; i++ {
		s := blobSection{}
		s.typ = string(r.bytes())
		s.shard = uint32(r.uvarint())
		n := r.uvarint()
		if r.err == nil && n > uint64(len(body)) {
			r.fail("entry count %d", n)
		}
		if r.err != nil {
			return nil, 0, r.err
		}
		s.entries = make([]blobEntry, 0, n)
		for j := uint64(0); j < n; j++ {
			e := blobEntry{key: string(r.bytes())}
			tag := r.next(languageTagSize)
			e.list = r.bytes()
			if r.err != nil {
				return nil, 0, r.err
			}
			e.lang, _ = languageSetFromTag(tag)
			s.entries = append(s.entries, e)
		}
		sections = append(sections, s)
	}
	if r.off != len(body) {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes in blob body", apperrors.ErrCorruptRecord, len(body)-r.off)
	}
	return sections, comp, nil
}

type blobReader struct {
	buf []byte
	off int
	err error
}

func (r *blobReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: blob body: %s", apperrors.ErrCorruptRecord, fmt.Sprintf(format, args...))
	}
}

func (r *blobReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail("bad varint at offset %d", r.off)
		return 0
	}
	r.off += n
	return v
}

func (r *blobReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail("%d bytes wanted at offset %d of %d", n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *blobReader) bytes() []byte {
	n := r.uvarint()
	if n > uint64(len(r.buf)) {
		r.fail("length %d at offset %d", n, r.off)
		return nil
	}
	return r.next(int(n))
}

// pickSection selects the section a load should read: the only one, or the
// one matching typ and shard.
func pickSection(sections []blobSection, typ string, shard uint32) (blobSection, bool) {
	if len(sections) == 1 {
		return sections[0], true
	}
	for _, s := range sections {
		if s.typ == typ && s.shard == shard {
			return s, true
		}
	}
	return blobSection{}, false
}

// WriteFileAtomic writes data to a temp file beside path and renames it in,
// creating the parent directory as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
