// Package object implements the four git object variants (component
// C6): Blob, Tree, Commit, and AnnotatedTag, plus byte-exact
// parse/serialize round-tripping of author/committer/tagger envelopes
// and the optional gpgsig block. See specification §3 and §4.6-era
// note: signature verification is a supplemented feature layered on
// top using github.com/ProtonMail/go-crypto/openpgp.
package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/objfile"
)

// Kind names the four object variants.
type Kind int

const (
	KindBlob Kind = iota
	KindTree
	KindCommit
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// FileMode is a tree entry's mode. Only the values git itself emits
// are accepted; anything else is a parse error.
type FileMode uint32

const (
	ModeDir        FileMode = 0o040000
	ModeRegular    FileMode = 0o100644
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeGitlink    FileMode = 0o160000
)

func (m FileMode) IsDir() bool { return m == ModeDir }

// Signature is an author/committer/tagger envelope: name, email, and
// timestamp expressed as Unix seconds plus a signed-minutes timezone
// offset, matching git's wire format exactly (we don't collapse this
// into time.Time+Location because git's offset isn't a real IANA zone).
type Signature struct {
	Name        string
	Email       string
	When        time.Time
	TZOffsetMin int
}

// String renders the signature in git's wire format: "Name <email> secs +hhmm".
func (s Signature) String() string {
	sign := "+"
	off := s.TZOffsetMin
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("%s <%s> %d %s%02d%02d", s.Name, s.Email, s.When.Unix(), sign, off/60, off%60)
}

// ParseSignature parses a signature line in git's wire format.
func ParseSignature(line string) (Signature, error) {
	lt := strings.LastIndex(line, "<")
	gt := strings.LastIndex(line, ">")
	if lt < 0 || gt < 0 || gt < lt {
		return Signature{}, fmt.Errorf("object: malformed signature %q", line)
	}
	name := strings.TrimSpace(line[:lt])
	email := line[lt+1 : gt]
	rest := strings.TrimSpace(line[gt+1:])
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return Signature{}, fmt.Errorf("object: malformed signature timestamp %q", line)
	}
	secs, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("object: malformed signature seconds: %w", err)
	}
	tz := fields[1]
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return Signature{}, fmt.Errorf("object: malformed signature tz %q", tz)
	}
	hh, err1 := strconv.Atoi(tz[1:3])
	mm, err2 := strconv.Atoi(tz[3:5])
	if err1 != nil || err2 != nil {
		return Signature{}, fmt.Errorf("object: malformed signature tz %q", tz)
	}
	offset := hh*60 + mm
	if tz[0] == '-' {
		offset = -offset
	}
	return Signature{Name: name, Email: email, When: time.Unix(secs, 0).UTC(), TZOffsetMin: offset}, nil
}

// Blob is opaque content with no further structure.
type Blob struct {
	Data []byte
}

func (b *Blob) Kind() Kind     { return KindBlob }
func (b *Blob) Encode() []byte { return b.Data }

func DecodeBlob(data []byte) *Blob { return &Blob{Data: data} }

// TreeEntry is one (mode, name, oid) entry of a Tree.
type TreeEntry struct {
	Mode FileMode
	Name string
	OID  hash.OID
}

// sortName is the name used for byte-sort comparisons: directories get
// a trailing "/" so "foo" (a file) sorts before "foo/" (the directory)
// contents, matching git's tree-sort order exactly.
func (e TreeEntry) sortName() string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// Tree is a sorted sequence of entries.
type Tree struct {
	Entries []TreeEntry
}

// Sort orders entries per the tree invariant (byte-sorted, directories
// suffixed with "/" for comparison purposes only).
func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return t.Entries[i].sortName() < t.Entries[j].sortName()
	})
}

// Find looks up a single named entry in the tree's top level.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Encode serializes a tree to its canonical byte form: repeated
// "<octal-mode> <name>\0<raw-oid-bytes>" records, entries pre-sorted.
func (t *Tree) Encode(format hash.Format) []byte {
	sorted := make([]TreeEntry, len(t.Entries))
	copy(sorted, t.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].sortName() < sorted[j].sortName()
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.OID.Bytes())
	}
	return buf.Bytes()
}

// DecodeTree parses the canonical byte form of a tree.
func DecodeTree(format hash.Format, data []byte) (*Tree, error) {
	oidSize := hash.Size(format)
	var t Tree
	pos := 0
	for pos < len(data) {
		sp := bytes.IndexByte(data[pos:], ' ')
		if sp < 0 {
			return nil, fmt.Errorf("object: malformed tree entry at offset %d", pos)
		}
		modeStr := string(data[pos : pos+sp])
		modeVal, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("object: malformed tree mode %q: %w", modeStr, err)
		}
		switch FileMode(modeVal) {
		case ModeDir, ModeRegular, ModeExecutable, ModeSymlink, ModeGitlink:
		default:
			return nil, fmt.Errorf("object: unsupported tree mode %q", modeStr)
		}
		pos += sp + 1

		nul := bytes.IndexByte(data[pos:], 0)
		if nul < 0 {
			return nil, fmt.Errorf("object: unterminated tree entry name at offset %d", pos)
		}
		name := string(data[pos : pos+nul])
		pos += nul + 1

		if pos+oidSize > len(data) {
			return nil, fmt.Errorf("object: truncated tree entry oid at offset %d", pos)
		}
		oid, ok := hash.FromBytes(format, data[pos:pos+oidSize])
		if !ok {
			return nil, fmt.Errorf("object: malformed tree entry oid at offset %d", pos)
		}
		pos += oidSize

		t.Entries = append(t.Entries, TreeEntry{Mode: FileMode(modeVal), Name: name, OID: oid})
	}
	return &t, nil
}

// Commit is a commit object.
type Commit struct {
	TreeOID   hash.OID
	Parents   []hash.OID
	Author    Signature
	Committer Signature
	// GPGSig carries the PGP signature block verbatim, including the
	// "-----BEGIN PGP SIGNATURE-----" armor, or is empty if unsigned.
	GPGSig  string
	Message string
}

// Encode serializes a commit to its canonical byte form. The gpgsig
// header value is emitted with continuation lines indented by a single
// space, matching git's own multi-line header convention, and the
// message is appended verbatim (including any trailing newline) after
// the blank separator line.
func (c *Commit) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeOID.String())
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p.String())
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.String())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.String())
	if c.GPGSig != "" {
		fmt.Fprintf(&buf, "gpgsig %s\n", indentContinuation(c.GPGSig))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func indentContinuation(block string) string {
	lines := strings.Split(block, "\n")
	return strings.Join(lines, "\n ")
}

func unindentContinuation(block string) string {
	lines := strings.Split(block, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = strings.TrimPrefix(lines[i], " ")
	}
	return strings.Join(lines, "\n")
}

// DecodeCommit parses the canonical byte form of a commit, preserving
// the message (and gpgsig, if present) byte-exact.
func DecodeCommit(format hash.Format, data []byte) (*Commit, error) {
	sep := bytes.Index(data, []byte("\n\n"))
	if sep < 0 {
		return nil, fmt.Errorf("object: commit has no header/message separator")
	}
	header := string(data[:sep])
	message := string(data[sep+2:])

	c := &Commit{Message: message}
	lines := strings.Split(header, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "tree "):
			oid, ok := hash.FromHex(strings.TrimPrefix(line, "tree "))
			if !ok {
				return nil, fmt.Errorf("object: malformed commit tree oid")
			}
			c.TreeOID = oid
		case strings.HasPrefix(line, "parent "):
			oid, ok := hash.FromHex(strings.TrimPrefix(line, "parent "))
			if !ok {
				return nil, fmt.Errorf("object: malformed commit parent oid")
			}
			c.Parents = append(c.Parents, oid)
		case strings.HasPrefix(line, "author "):
			sig, err := ParseSignature(strings.TrimPrefix(line, "author "))
			if err != nil {
				return nil, err
			}
			c.Author = sig
		case strings.HasPrefix(line, "committer "):
			sig, err := ParseSignature(strings.TrimPrefix(line, "committer "))
			if err != nil {
				return nil, err
			}
			c.Committer = sig
		case strings.HasPrefix(line, "gpgsig "):
			block := []string{strings.TrimPrefix(line, "gpgsig ")}
			for i+1 < len(lines) && strings.HasPrefix(lines[i+1], " ") {
				i++
				block = append(block, lines[i])
			}
			c.GPGSig = unindentContinuation(strings.Join(block, "\n"))
		}
	}
	return c, nil
}

// AnnotatedTag is a signed or unsigned annotated tag object.
type AnnotatedTag struct {
	TargetOID  hash.OID
	TargetKind Kind
	Name       string
	Tagger     Signature
	GPGSig     string
	Message    string
}

// Encode serializes an annotated tag to its canonical byte form.
func (t *AnnotatedTag) Encode() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.TargetOID.String())
	fmt.Fprintf(&buf, "type %s\n", t.TargetKind.String())
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", t.Tagger.String())
	if t.GPGSig != "" {
		fmt.Fprintf(&buf, "gpgsig %s\n", indentContinuation(t.GPGSig))
	}
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// DecodeAnnotatedTag parses the canonical byte form of an annotated tag.
func DecodeAnnotatedTag(format hash.Format, data []byte) (*AnnotatedTag, error) {
	sep := bytes.Index(data, []byte("\n\n"))
	if sep < 0 {
		return nil, fmt.Errorf("object: tag has no header/message separator")
	}
	header := string(data[:sep])
	message := string(data[sep+2:])

	tag := &AnnotatedTag{Message: message}
	lines := strings.Split(header, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "object "):
			oid, ok := hash.FromHex(strings.TrimPrefix(line, "object "))
			if !ok {
				return nil, fmt.Errorf("object: malformed tag target oid")
			}
			tag.TargetOID = oid
		case strings.HasPrefix(line, "type "):
			switch strings.TrimPrefix(line, "type ") {
			case "blob":
				tag.TargetKind = KindBlob
			case "tree":
				tag.TargetKind = KindTree
			case "commit":
				tag.TargetKind = KindCommit
			case "tag":
				tag.TargetKind = KindTag
			default:
				return nil, fmt.Errorf("object: unknown tag target type")
			}
		case strings.HasPrefix(line, "tag "):
			tag.Name = strings.TrimPrefix(line, "tag ")
		case strings.HasPrefix(line, "tagger "):
			sig, err := ParseSignature(strings.TrimPrefix(line, "tagger "))
			if err != nil {
				return nil, err
			}
			tag.Tagger = sig
		case strings.HasPrefix(line, "gpgsig "):
			block := []string{strings.TrimPrefix(line, "gpgsig ")}
			for i+1 < len(lines) && strings.HasPrefix(lines[i+1], " ") {
				i++
				block = append(block, lines[i])
			}
			tag.GPGSig = unindentContinuation(strings.Join(block, "\n"))
		}
	}
	return tag, nil
}

// ObjfileType maps a Kind to the objfile.Type used by the loose-object
// wire wrapper.
func ObjfileType(k Kind) objfile.Type {
	switch k {
	case KindBlob:
		return objfile.TypeBlob
	case KindTree:
		return objfile.TypeTree
	case KindCommit:
		return objfile.TypeCommit
	case KindTag:
		return objfile.TypeTag
	default:
		return objfile.TypeBlob
	}
}
