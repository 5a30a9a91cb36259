// Package index implements the staging area (specification component
// C5): an in-memory sorted path → entry map, the "DIRC" binary on-disk
// format (versions 2 and 3), and opaque preservation of any extension
// blocks this module doesn't understand. See specification §4.3.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"

	gkhash "github.com/grahambrooks/gitkit/hash"
)

// Stage identifies which side of a conflict an entry represents.
// Stage 0 means "merged, no conflict"; it never coexists with 1/2/3 for
// the same path.
type Stage int

const (
	StageMerged Stage = 0
	StageBase   Stage = 1
	StageOurs   Stage = 2
	StageTheirs Stage = 3
)

// Mode is the entry's file mode, restricted to the small set git's
// index actually stores.
type Mode uint32

const (
	ModeDir        Mode = 0o040000
	ModeRegular    Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeGitlink    Mode = 0o160000
)

// Stat is the cached filesystem metadata used to cheaply detect that a
// worktree file has NOT changed, without rehashing its content.
type Stat struct {
	CTime, MTime time.Time
	Dev, Ino     uint32
	UID, GID     uint32
	Size         uint32
}

// Entry is one staged path at one stage.
type Entry struct {
	Path  string
	Stage Stage
	Mode  Mode
	OID   gkhash.OID
	Stat  Stat
	// AssumeValid mirrors the index's "assume unchanged" bit.
	AssumeValid bool
	// SkipWorktree mirrors the sparse-checkout "skip-worktree" bit.
	SkipWorktree bool
}

type key struct {
	path  string
	stage Stage
}

func compareKeys(a, b interface{}) int {
	ka, kb := a.(key), b.(key)
	if ka.path != kb.path {
		if ka.path < kb.path {
			return -1
		}
		return 1
	}
	return int(ka.stage) - int(kb.stage)
}

// Extension is an opaque, unrecognized index extension block, kept
// byte-exact between load and save per invariant 5 ("unknown extensions
// survive unchanged").
type Extension struct {
	Signature [4]byte
	Data      []byte
}

// Index is the in-memory staging area. The backing structure is a
// red-black tree keyed by (path, stage) so insert/remove/iterate during
// a large merge (many stage 1/2/3 writes) stay O(log n) rather than the
// O(n) a plain sorted-slice shift would cost.
type Index struct {
	format     gkhash.Format
	version    uint32
	tree       *redblacktree.Tree
	extensions []Extension
}

// New constructs an empty Index for the given repository hash format,
// defaulting to on-disk version 2 (no extended flags).
func New(format gkhash.Format) *Index {
	return &Index{format: format, version: 2, tree: redblacktree.NewWith(compareKeys)}
}

// Insert adds or replaces the entry at (e.Path, e.Stage).
func (ix *Index) Insert(e Entry) {
	ix.tree.Put(key{path: e.Path, stage: e.Stage}, e)
}

// Remove deletes every stage of path (the common "rm" case) and returns
// whether anything was present.
func (ix *Index) Remove(path string) bool {
	removed := false
	for _, s := range []Stage{StageMerged, StageBase, StageOurs, StageTheirs} {
		if _, ok := ix.tree.Get(key{path: path, stage: s}); ok {
			ix.tree.Remove(key{path: path, stage: s})
			removed = true
		}
	}
	return removed
}

// RemoveStage deletes a single (path, stage) entry.
func (ix *Index) RemoveStage(path string, stage Stage) {
	ix.tree.Remove(key{path: path, stage: stage})
}

// Get returns the stage-0 (merged) entry at path, if present.
func (ix *Index) Get(path string) (Entry, bool) {
	v, ok := ix.tree.Get(key{path: path, stage: StageMerged})
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Stages returns every stage present for path, keyed by Stage. An
// empty map means path is entirely absent. A path with a stage-0 entry
// never also has 1/2/3 entries, per invariant (§3: "never mixed").
func (ix *Index) Stages(path string) map[Stage]Entry {
	out := make(map[Stage]Entry)
	for _, s := range []Stage{StageMerged, StageBase, StageOurs, StageTheirs} {
		if v, ok := ix.tree.Get(key{path: path, stage: s}); ok {
			out[s] = v.(Entry)
		}
	}
	return out
}

// Iter returns every entry whose path has the given prefix, in sorted
// (path, stage) order.
func (ix *Index) Iter(prefix string) []Entry {
	var out []Entry
	it := ix.tree.Iterator()
	for it.Next() {
		k := it.Key().(key)
		if len(prefix) > 0 && !hasPrefix(k.path, prefix) {
			continue
		}
		out = append(out, it.Value().(Entry))
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Len reports the total entry count across all stages.
func (ix *Index) Len() int { return ix.tree.Size() }

// HasConflicts reports whether any path currently has stage 1/2/3 entries.
func (ix *Index) HasConflicts() bool {
	it := ix.tree.Iterator()
	for it.Next() {
		if it.Key().(key).stage != StageMerged {
			return true
		}
	}
	return false
}

const (
	dircMagic      = "DIRC"
	entryHeaderLen = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 // ctime, mtime (2x u32 each), dev, ino, mode, uid, gid, size
	extendedFlag   = 0x4000
	nameMask       = 0x0fff
	stageMask      = 0x3000
)

// Decode parses a serialized index (any trailing checksum is not
// re-validated here by design; callers that need integrity checking
// should hash the input themselves before calling Decode, since the
// hash format itself isn't recorded inside the index file).
func Decode(format gkhash.Format, data []byte) (*Index, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("index: truncated header")
	}
	if string(data[0:4]) != dircMagic {
		return nil, fmt.Errorf("index: bad magic")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("index: unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(data[8:12])

	ix := New(format)
	ix.version = version

	oidSize := gkhash.Size(format)
	pos := 12
	for i := uint32(0); i < count; i++ {
		start := pos
		if pos+entryHeaderLen+oidSize+2 > len(data) {
			return nil, fmt.Errorf("index: truncated entry %d", i)
		}
		ctimeSec := binary.BigEndian.Uint32(data[pos:])
		ctimeNsec := binary.BigEndian.Uint32(data[pos+4:])
		mtimeSec := binary.BigEndian.Uint32(data[pos+8:])
		mtimeNsec := binary.BigEndian.Uint32(data[pos+12:])
		dev := binary.BigEndian.Uint32(data[pos+16:])
		ino := binary.BigEndian.Uint32(data[pos+20:])
		mode := binary.BigEndian.Uint32(data[pos+24:])
		uid := binary.BigEndian.Uint32(data[pos+28:])
		gid := binary.BigEndian.Uint32(data[pos+32:])
		size := binary.BigEndian.Uint32(data[pos+36:])
		pos += entryHeaderLen

		oidBytes := data[pos : pos+oidSize]
		pos += oidSize
		oid, ok := gkhash.FromBytes(format, oidBytes)
		if !ok {
			return nil, fmt.Errorf("index: malformed oid in entry %d", i)
		}

		flags := binary.BigEndian.Uint16(data[pos:])
		pos += 2
		stage := Stage((flags & stageMask) >> 12)
		assumeValid := flags&0x8000 != 0
		nameLen := int(flags & nameMask)

		skipWorktree := false
		if version == 3 && flags&extendedFlag != 0 {
			if pos+2 > len(data) {
				return nil, fmt.Errorf("index: truncated extended flags in entry %d", i)
			}
			extFlags := binary.BigEndian.Uint16(data[pos:])
			pos += 2
			skipWorktree = extFlags&0x4000 != 0
		}

		var name string
		if nameLen < nameMask {
			if pos+nameLen > len(data) {
				return nil, fmt.Errorf("index: truncated name in entry %d", i)
			}
			name = string(data[pos : pos+nameLen])
			pos += nameLen
		} else {
			nulAt := bytes.IndexByte(data[pos:], 0)
			if nulAt < 0 {
				return nil, fmt.Errorf("index: unterminated long name in entry %d", i)
			}
			name = string(data[pos : pos+nulAt])
			pos += nulAt
		}

		entryLen := pos - start + 1 // + the mandatory NUL terminator
		padded := (entryLen + 7) &^ 7
		pos = start + padded

		ix.Insert(Entry{
			Path:  name,
			Stage: stage,
			Mode:  Mode(mode),
			OID:   oid,
			Stat: Stat{
				CTime: time.Unix(int64(ctimeSec), int64(ctimeNsec)).UTC(),
				MTime: time.Unix(int64(mtimeSec), int64(mtimeNsec)).UTC(),
				Dev:   dev, Ino: ino, UID: uid, GID: gid, Size: size,
			},
			AssumeValid:  assumeValid,
			SkipWorktree: skipWorktree,
		})
	}

	for pos+8 <= len(data)-oidSize {
		var sig [4]byte
		copy(sig[:], data[pos:pos+4])
		size := binary.BigEndian.Uint32(data[pos+4 : pos+8])
		pos += 8
		if pos+int(size) > len(data)-oidSize {
			return nil, fmt.Errorf("index: truncated extension %q", sig)
		}
		ix.extensions = append(ix.extensions, Extension{Signature: sig, Data: append([]byte(nil), data[pos:pos+int(size)]...)})
		pos += int(size)
	}

	return ix, nil
}

// Encode serializes the index to the DIRC binary format, appending a
// trailing digest of everything written in the given hash format.
func Encode(ix *Index, format gkhash.Format) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(dircMagic)
	writeU32(&buf, ix.version)
	writeU32(&buf, uint32(ix.Len()))

	entries := ix.Iter("")
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Stage < entries[j].Stage
	})

	for _, e := range entries {
		start := buf.Len()
		writeU32(&buf, uint32(e.Stat.CTime.Unix()))
		writeU32(&buf, uint32(e.Stat.CTime.Nanosecond()))
		writeU32(&buf, uint32(e.Stat.MTime.Unix()))
		writeU32(&buf, uint32(e.Stat.MTime.Nanosecond()))
		writeU32(&buf, e.Stat.Dev)
		writeU32(&buf, e.Stat.Ino)
		writeU32(&buf, uint32(e.Mode))
		writeU32(&buf, e.Stat.UID)
		writeU32(&buf, e.Stat.GID)
		writeU32(&buf, e.Stat.Size)
		buf.Write(e.OID.Bytes())

		nameLen := len(e.Path)
		flagLen := nameLen
		if flagLen > nameMask {
			flagLen = nameMask
		}
		flags := uint16(flagLen) | uint16(e.Stage)<<12
		if e.AssumeValid {
			flags |= 0x8000
		}
		if ix.version == 3 && e.SkipWorktree {
			flags |= extendedFlag
		}
		writeU16(&buf, flags)
		if ix.version == 3 && e.SkipWorktree {
			writeU16(&buf, 0x4000)
		}
		buf.WriteString(e.Path)
		buf.WriteByte(0)

		written := buf.Len() - start
		for written%8 != 0 {
			buf.WriteByte(0)
			written++
		}
	}

	for _, ext := range ix.extensions {
		buf.Write(ext.Signature[:])
		writeU32(&buf, uint32(len(ext.Data)))
		buf.Write(ext.Data)
	}

	h, err := gkhash.New(format)
	if err != nil {
		return nil, err
	}
	h.Write(buf.Bytes())
	buf.Write(h.Sum(nil))

	return buf.Bytes(), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
