package hash

// Sum hashes b under format f and returns the resulting OID. Callers
// hash the canonical "<type> <size>\0<payload>" wrapped form, never the
// raw payload, so that the id matches git's own object naming.
func Sum(f Format, b []byte) (OID, error) {
	h, err := New(f)
	if err != nil {
		return OID{}, err
	}
	h.Write(b)
	o, ok := FromBytes(f, h.Sum(nil))
	if !ok {
		return OID{}, ErrUnsupportedFormat
	}
	return o, nil
}
