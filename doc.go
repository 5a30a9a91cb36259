// Package gitkit is a portable, embeddable reimplementation of the Git
// object and transport layers. It operates against any pluggable storage
// backend (see backend.Interface) rather than shelling out to a native
// git binary, and is organized as a set of small packages that mirror
// the layering of the format itself:
//
//	hash        object id primitives (hex codec, SHA-1/SHA-256 digesters)
//	pktline     pkt-line frame codec and side-band multiplexing
//	backend     the storage capability interface used by everything above it
//	objfile     loose object wrap/unwrap codec
//	packfile    packfile reader/writer and delta resolution
//	idx         pack .idx and multi-pack-index formats
//	cache       bounded caches shared by the object store
//	objstore    the content-addressed object store
//	refstore    the reference/HEAD graph and reflog
//	index       the binary staging index (dircache)
//	object      commit/tree/tag/blob parsing and serialization
//	treewalk    unified N-tree walker over commits/index/worktree
//	merge       three-way merge of trees and blobs
//	worktree    checkout / worktree materialization
//	transport   pkt-line protocol v1/v2 state machine
//	repository  the facade binding all of the above together
package gitkit
