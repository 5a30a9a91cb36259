package object

import "golang.org/x/text/unicode/norm"

// NormalizeMessage applies Unicode NFC normalization to a commit or
// tag message. Some platforms (notably macOS's HFS+/APFS) decompose
// UTF-8 filenames and, by extension, text a user typed in an editor
// backed by that filesystem; two otherwise-identical messages can
// differ byte-for-byte in their accented characters' encoding. Callers
// that need stable message comparison (deduplication, search) should
// normalize before comparing; Encode/DecodeCommit never normalize
// implicitly, since doing so silently would break byte-exact
// round-tripping (invariant: "message preserved verbatim").
func NormalizeMessage(message string) string {
	return norm.NFC.String(message)
}
