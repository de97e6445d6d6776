package bm25

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// magic identifies the custom BM25 index file format; version lets the
// manager detect incompatible layouts before attempting to decode one.
const (
	magic         uint32 = 0x424d3235 // "BM25"
	formatVersion uint32 = 1
)

// header is the fixed-size record at the start of every persisted index
// file. tokenizerVersion lets the manager decide whether the on-disk
// postings must be rebuilt from source chunks rather than trusted as-is.
type header struct {
	Magic            uint32
	FormatVersion    uint32
	TokenizerVersion uint32
	N                uint64
	TotalLen         uint64
}

// Save writes the index to w in the stable binary record format: a fixed
// header, then one record per term (term string, df, then its postings).
func (idx *Index) Save(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bw := bufio.NewWriter(w)
	hdr := header{
		Magic:            magic,
		FormatVersion:    formatVersion,
		TokenizerVersion: idx.TokenizerVersion,
		N:                uint64(len(idx.docLens)),
		TotalLen:         uint64(idx.totalLen),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("bm25: write header: %w", err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(idx.postings))); err != nil {
		return fmt.Errorf("bm25: write term count: %w", err)
	}
	for term, plist := range idx.postings {
		if err := writeString(bw, term); err != nil {
			return fmt.Errorf("bm25: write term %q: %w", term, err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(plist))); err != nil {
			return fmt.Errorf("bm25: write posting count for %q: %w", term, err)
		}
		for _, p := range plist {
			if err := writeString(bw, p.chunkID); err != nil {
				return fmt.Errorf("bm25: write posting chunk id: %w", err)
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(p.tf)); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(p.docLen)); err != nil {
				return err
			}
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, uint64(len(idx.docLens))); err != nil {
		return fmt.Errorf("bm25: write doc length table: %w", err)
	}
	for chunkID, docLen := range idx.docLens {
		if err := writeString(bw, chunkID); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(docLen)); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load decodes an index previously written by Save. It returns
// model.ErrIndexCorrupt-wrapping errors (via the sentinel defined in this
// package) on any structural inconsistency so the manager can fall back to
// a rebuild instead of serving a partially-decoded index.
func Load(r io.Reader, kbID string) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr header
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCorruptIndex, err)
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorruptIndex, hdr.Magic)
	}
	if hdr.FormatVersion != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, hdr.FormatVersion)
	}

	idx := &Index{
		KBID:             kbID,
		TokenizerVersion: hdr.TokenizerVersion,
		postings:         make(map[string][]posting),
		docLens:          make(map[string]int),
		totalLen:         int64(hdr.TotalLen),
	}

	var termCount uint64
	if err := binary.Read(br, binary.LittleEndian, &termCount); err != nil {
		return nil, fmt.Errorf("%w: read term count: %v", ErrCorruptIndex, err)
	}
	for i := uint64(0); i < termCount; i++ {
		term, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("%w: read term: %v", ErrCorruptIndex, err)
		}
		var postingCount uint64
		if err := binary.Read(br, binary.LittleEndian, &postingCount); err != nil {
			return nil, fmt.Errorf("%w: read posting count: %v", ErrCorruptIndex, err)
		}
		plist := make([]posting, 0, postingCount)
		for j := uint64(0); j < postingCount; j++ {
			chunkID, err := readString(br)
			if err != nil {
				return nil, fmt.Errorf("%w: read posting chunk id: %v", ErrCorruptIndex, err)
			}
			var tf, docLen uint32
			if err := binary.Read(br, binary.LittleEndian, &tf); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
			}
			if err := binary.Read(br, binary.LittleEndian, &docLen); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
			}
			plist = append(plist, posting{chunkID: chunkID, tf: int(tf), docLen: int(docLen)})
		}
		idx.postings[term] = plist
	}

	var docCount uint64
	if err := binary.Read(br, binary.LittleEndian, &docCount); err != nil {
		return nil, fmt.Errorf("%w: read doc length table: %v", ErrCorruptIndex, err)
	}
	for i := uint64(0); i < docCount; i++ {
		chunkID, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		var docLen uint32
		if err := binary.Read(br, binary.LittleEndian, &docLen); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		idx.docLens[chunkID] = int(docLen)
	}

	if uint64(len(idx.docLens)) != hdr.N {
		return nil, fmt.Errorf("%w: doc count mismatch: header says %d, decoded %d", ErrCorruptIndex, hdr.N, len(idx.docLens))
	}

	return idx, nil
}

// LoadFile and SaveFile are convenience wrappers used by the manager; the
// manager itself is responsible for the gofrs/flock file lock around these
// calls so concurrent processes never interleave a read with a write.
func LoadFile(path, kbID string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, kbID)
}

func SaveFile(path string, idx *Index) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := idx.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
