// Package refstore implements the reference store (specification
// component C4): loose refs, the packed-refs table, symbolic
// resolution, HEAD, reflog, and compare-and-swap updates guarded by a
// "<name>.lock" sentinel file. See specification §4.2.
package refstore

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grahambrooks/gitkit/backend"
	gkhash "github.com/grahambrooks/gitkit/hash"
)

// DefaultMaxSymbolicDepth bounds symbolic ref chains per §3's
// "symbolic chain length is bounded (implementation chooses ≤5)".
const DefaultMaxSymbolicDepth = 5

// ErrNotFound means the named ref does not exist, loose or packed.
var ErrNotFound = errors.New("refstore: not found")

// ErrCircularRef means a symbolic chain exceeded its depth bound.
var ErrCircularRef = errors.New("refstore: circular or too-deep symbolic reference")

// ErrLockConflict means a compare-and-swap update's old value did not
// match the current value, or another writer held the lock file.
var ErrLockConflict = errors.New("refstore: lock conflict")

// ErrInvalidName means name fails git's ref-name validation rules.
var ErrInvalidName = errors.New("refstore: invalid ref name")

// Value is a ref's current value: either a direct OID or a symbolic
// target ref name (mutually exclusive).
type Value struct {
	OID      gkhash.OID
	Symbolic string
}

func (v Value) IsSymbolic() bool { return v.Symbolic != "" }

// LogEntry is one reflog record.
type LogEntry struct {
	Old, New  gkhash.OID
	Name      string
	Email     string
	When      time.Time
	Message   string
}

// Store is the ref store facade bound to a gitdir-rooted backend.
type Store struct {
	fs     backend.Interface
	format gkhash.Format

	mu sync.Mutex // serializes packed-refs rewrites and per-name locks within this process
}

// New constructs a Store rooted at a gitdir (the directory containing
// HEAD, refs/, and packed-refs).
func New(fs backend.Interface, format gkhash.Format) *Store {
	return &Store{fs: fs, format: format}
}

// ValidateName applies git's published ref-name rules: no "..", no
// trailing ".lock", no ASCII control bytes, none of " ~^:?*[\\", and at
// least one "/" unless name is one of the one-level exceptions (HEAD
// and the other pseudo-refs).
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: contains \"..\": %s", ErrInvalidName, name)
	}
	if strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: ends in \".lock\": %s", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control byte: %s", ErrInvalidName, name)
		}
	}
	const forbidden = " ~^:?*[\\"
	if strings.ContainsAny(name, forbidden) {
		return fmt.Errorf("%w: forbidden character: %s", ErrInvalidName, name)
	}
	if !strings.Contains(name, "/") && !isOneLevelException(name) {
		return fmt.Errorf("%w: must contain \"/\": %s", ErrInvalidName, name)
	}
	return nil
}

func isOneLevelException(name string) bool {
	switch name {
	case "HEAD", "FETCH_HEAD", "ORIG_HEAD", "MERGE_HEAD", "CHERRY_PICK_HEAD":
		return true
	default:
		return false
	}
}

func loosePath(name string) string { return name }

// readLoose returns the parsed Value of the loose ref file at name, or
// ok=false if no such file exists.
func (s *Store) readLoose(name string) (Value, bool, error) {
	exists, err := s.fs.Exists(loosePath(name))
	if err != nil {
		return Value{}, false, err
	}
	if !exists {
		return Value{}, false, nil
	}
	data, err := backend.ReadFile(s.fs, loosePath(name))
	if err != nil {
		return Value{}, false, err
	}
	v, err := parseRefContent(s.format, data)
	if err != nil {
		return Value{}, false, fmt.Errorf("refstore: parsing %s: %w", name, err)
	}
	return v, true, nil
}

// readPacked returns the parsed Value from packed-refs, or ok=false.
func (s *Store) readPacked(name string) (Value, bool, error) {
	pr, err := s.loadPackedRefs()
	if err != nil {
		return Value{}, false, err
	}
	for _, e := range pr.entries {
		if e.name == name {
			oid, ok := gkhash.FromHex(e.hex)
			if !ok {
				return Value{}, false, fmt.Errorf("refstore: malformed packed-refs entry for %s", name)
			}
			return Value{OID: oid}, true, nil
		}
	}
	return Value{}, false, nil
}

// read returns a ref's raw value, preferring loose over packed per §3
// ("Loose wins on read if both exist").
func (s *Store) read(name string) (Value, error) {
	if v, ok, err := s.readLoose(name); err != nil {
		return Value{}, err
	} else if ok {
		return v, nil
	}
	if v, ok, err := s.readPacked(name); err != nil {
		return Value{}, err
	} else if ok {
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ReadSymbolic returns the target of name if it is a symbolic ref.
func (s *Store) ReadSymbolic(name string) (target string, ok bool, err error) {
	v, err := s.read(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if v.IsSymbolic() {
		return v.Symbolic, true, nil
	}
	return "", false, nil
}

// Resolve follows symbolic refs (up to maxDepth, 0 meaning
// DefaultMaxSymbolicDepth) to a final OID.
func (s *Store) Resolve(name string, maxDepth int) (gkhash.OID, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSymbolicDepth
	}
	cur := name
	for i := 0; i < maxDepth; i++ {
		v, err := s.read(cur)
		if err != nil {
			return gkhash.OID{}, err
		}
		if !v.IsSymbolic() {
			return v.OID, nil
		}
		cur = v.Symbolic
	}
	return gkhash.OID{}, fmt.Errorf("%w: %s exceeded depth %d", ErrCircularRef, name, maxDepth)
}

// WriteOptions configures a ref update.
type WriteOptions struct {
	// OldOID, if non-nil, makes the write a compare-and-swap: it fails
	// with ErrLockConflict unless the current value equals *OldOID. A
	// zero *OldOID matches a ref that does not exist yet.
	OldOID *gkhash.OID
	// ReflogMessage, if non-empty, is appended as this update's reflog entry.
	ReflogMessage string
	// Committer attributes the reflog entry; zero value uses a generic identity.
	Committer LogEntry
}

// Write sets name to a direct OID, subject to CAS per opts.OldOID.
func (s *Store) Write(name string, newOID gkhash.OID, opts WriteOptions) error {
	return s.writeValue(name, Value{OID: newOID}, opts)
}

// WriteSymbolic sets name to point at another ref name, subject to CAS.
func (s *Store) WriteSymbolic(name, target string, opts WriteOptions) error {
	return s.writeValue(name, Value{Symbolic: target}, opts)
}

func (s *Store) writeValue(name string, v Value, opts WriteOptions) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := name + ".lock"
	exists, err := s.fs.Exists(lockPath)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s is already locked", ErrLockConflict, name)
	}

	var old Value
	hadOld := false
	if got, err := s.read(name); err == nil {
		old, hadOld = got, true
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if opts.OldOID != nil {
		switch {
		case !hadOld:
			if !opts.OldOID.IsZero() {
				return fmt.Errorf("%w: %s has no current value", ErrLockConflict, name)
			}
		case old.IsSymbolic():
			return fmt.Errorf("%w: %s is symbolic, cannot CAS by oid", ErrLockConflict, name)
		case !old.OID.Equal(*opts.OldOID):
			return fmt.Errorf("%w: %s is %s, expected %s", ErrLockConflict, name, old.OID, *opts.OldOID)
		}
	}

	content := renderRefContent(v)
	if err := s.fs.WriteAtomic(lockPath, content, 0644); err != nil {
		return err
	}

	if opts.ReflogMessage != "" && !v.IsSymbolic() {
		if err := s.appendReflog(name, old.OID, v.OID, opts.Committer, opts.ReflogMessage); err != nil {
			// Best-effort per spec.md §9's preserved ambiguity on reflog
			// failures: the ref update itself must not be blocked by it.
			_ = err
		}
	}

	if err := s.fs.Rename(lockPath, name); err != nil {
		_ = s.fs.Remove(lockPath)
		return err
	}
	return nil
}

// Delete removes name, subject to CAS per opts.OldOID.
func (s *Store) Delete(name string, opts WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.read(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if opts.OldOID != nil {
		if old.IsSymbolic() || !old.OID.Equal(*opts.OldOID) {
			return fmt.Errorf("%w: %s changed", ErrLockConflict, name)
		}
	}

	if exists, err := s.fs.Exists(loosePath(name)); err != nil {
		return err
	} else if exists {
		if err := s.fs.Remove(loosePath(name)); err != nil {
			return err
		}
	}

	if err := s.removeFromPackedRefs(name); err != nil {
		return err
	}

	if opts.ReflogMessage != "" {
		// Reflog deletion on tag/ref removal is best-effort per spec.md §9.
		_ = s.appendReflog(name, old.OID, gkhash.ZeroOID(s.format), opts.Committer, opts.ReflogMessage)
	}
	return nil
}

// List returns every ref (loose and packed, deduplicated, loose wins)
// whose name has the given prefix, sorted.
func (s *Store) List(prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string

	err := s.walkLoose("refs", func(name string) {
		if strings.HasPrefix(name, prefix) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	pr, err := s.loadPackedRefs()
	if err != nil {
		return nil, err
	}
	for _, e := range pr.entries {
		if strings.HasPrefix(e.name, prefix) {
			if _, ok := seen[e.name]; !ok {
				seen[e.name] = struct{}{}
				names = append(names, e.name)
			}
		}
	}

	sort.Strings(names)
	return names, nil
}

func (s *Store) walkLoose(dir string, fn func(name string)) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		child := dir + "/" + e.Name
		if e.IsDir {
			if err := s.walkLoose(child, fn); err != nil {
				return err
			}
			continue
		}
		fn(child)
	}
	return nil
}

func parseRefContent(format gkhash.Format, data []byte) (Value, error) {
	line := strings.TrimRight(string(data), "\n")
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		return Value{Symbolic: strings.TrimSpace(target)}, nil
	}
	oid, ok := gkhash.FromHex(strings.TrimSpace(line))
	if !ok {
		return Value{}, fmt.Errorf("malformed ref value %q", line)
	}
	return Value{OID: oid}, nil
}

func renderRefContent(v Value) []byte {
	if v.IsSymbolic() {
		return []byte("ref: " + v.Symbolic + "\n")
	}
	return []byte(v.OID.String() + "\n")
}

func (s *Store) appendReflog(name string, oldOID, newOID gkhash.OID, who LogEntry, message string) error {
	path := "logs/" + name
	if err := s.fs.MkdirAll(dirOf(path)); err != nil {
		return err
	}
	if who.When.IsZero() {
		who.When = time.Unix(0, 0).UTC()
	}
	if who.Name == "" {
		who.Name = "gitkit"
	}
	if who.Email == "" {
		who.Email = "gitkit@localhost"
	}
	line := fmt.Sprintf("%s %s %s <%s> %d +0000\t%s\n",
		oldOID.String(), newOID.String(), who.Name, who.Email, who.When.Unix(), message)

	existing, err := backend.ReadFile(s.fs, path)
	if err != nil && !errors.Is(err, backend.ErrNotExist) {
		return err
	}
	combined := append(existing, []byte(line)...)
	return s.fs.WriteAtomic(path, combined, 0644)
}

func dirOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "."
	}
	return p[:i]
}

// packedRefs is the parsed, in-memory form of the packed-refs file.
type packedRefs struct {
	entries []packedEntry
}

type packedEntry struct {
	hex    string
	name   string
	peeled string // non-empty for an annotated tag's "^<oid>" peel line
}

func (s *Store) loadPackedRefs() (*packedRefs, error) {
	exists, err := s.fs.Exists("packed-refs")
	if err != nil {
		return nil, err
	}
	if !exists {
		return &packedRefs{}, nil
	}
	data, err := backend.ReadFile(s.fs, "packed-refs")
	if err != nil {
		return nil, err
	}
	return parsePackedRefs(data)
}

func parsePackedRefs(data []byte) (*packedRefs, error) {
	pr := &packedRefs{}
	lines := strings.Split(string(data), "\n")
	var last *packedEntry
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "^") {
			if last == nil {
				return nil, fmt.Errorf("refstore: peel line with no preceding ref")
			}
			last.peeled = strings.TrimPrefix(line, "^")
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("refstore: malformed packed-refs line %q", line)
		}
		pr.entries = append(pr.entries, packedEntry{hex: parts[0], name: parts[1]})
		last = &pr.entries[len(pr.entries)-1]
	}
	return pr, nil
}

func (pr *packedRefs) render() []byte {
	var buf bytes.Buffer
	buf.WriteString("# pack-refs with: peeled fully-peeled sorted\n")
	sorted := append([]packedEntry(nil), pr.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for _, e := range sorted {
		buf.WriteString(e.hex)
		buf.WriteByte(' ')
		buf.WriteString(e.name)
		buf.WriteByte('\n')
		if e.peeled != "" {
			buf.WriteByte('^')
			buf.WriteString(e.peeled)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Pack rewrites packed-refs to include every currently-loose ref,
// removing those loose files (git's "pack refs --all" behavior).
// peeledTags supplies the peeled target for any annotated tag names
// present in names, since peeling requires walking the object store,
// which this package does not itself depend on.
func (s *Store) Pack(peeledTags map[string]gkhash.OID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, err := s.loadPackedRefs()
	if err != nil {
		return err
	}
	byName := make(map[string]*packedEntry, len(pr.entries))
	for i := range pr.entries {
		byName[pr.entries[i].name] = &pr.entries[i]
	}

	var looseNames []string
	if err := s.walkLoose("refs", func(name string) { looseNames = append(looseNames, name) }); err != nil {
		return err
	}

	for _, name := range looseNames {
		v, ok, err := s.readLoose(name)
		if err != nil {
			return err
		}
		if !ok || v.IsSymbolic() {
			continue
		}
		entry := packedEntry{hex: v.OID.String(), name: name}
		if target, ok := peeledTags[name]; ok {
			entry.peeled = target.String()
		}
		if existing, ok := byName[name]; ok {
			*existing = entry
		} else {
			pr.entries = append(pr.entries, entry)
			byName[name] = &pr.entries[len(pr.entries)-1]
		}
	}

	if err := s.fs.WriteAtomic("packed-refs", pr.render(), 0644); err != nil {
		return err
	}
	for _, name := range looseNames {
		if v, ok, _ := s.readLoose(name); ok && !v.IsSymbolic() {
			_ = s.fs.Remove(loosePath(name))
		}
	}
	return nil
}

// Unpack writes name as a loose ref (if packed) and removes it from
// packed-refs, the inverse of Pack for a single name.
func (s *Store) Unpack(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := s.readPacked(name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.fs.WriteAtomic(loosePath(name), renderRefContent(v), 0644); err != nil {
		return err
	}
	return s.removeFromPackedRefsLocked(name)
}

func (s *Store) removeFromPackedRefs(name string) error {
	return s.removeFromPackedRefsLocked(name)
}

func (s *Store) removeFromPackedRefsLocked(name string) error {
	pr, err := s.loadPackedRefs()
	if err != nil {
		return err
	}
	out := pr.entries[:0]
	changed := false
	for _, e := range pr.entries {
		if e.name == name {
			changed = true
			continue
		}
		out = append(out, e)
	}
	if !changed {
		return nil
	}
	pr.entries = out
	return s.fs.WriteAtomic("packed-refs", pr.render(), 0644)
}
