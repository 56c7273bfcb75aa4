package permission

// HeldSet is the authoritative set of codes an actor holds, as reported by
// the identity backend. It cannot be modified after construction; a refresh
// builds a new HeldSet and replaces the old one wholesale.
type HeldSet struct {
	codes Set
}

// NewHeldSet copies codes into a new immutable held set.
func NewHeldSet(codes ...Code) HeldSet {
	return HeldSet{codes: NewSet(codes...)}
}

// HeldFromInt64s builds a held set from stored integer codes.
func HeldFromInt64s(values []int64) HeldSet {
	return HeldSet{codes: FromInt64s(values)}
}

// Has reports whether code is held.
func (h HeldSet) Has(code Code) bool {
	return Has(h.codes, code)
}

// HasAny reports whether any of required is held.
func (h HeldSet) HasAny(required ...Code) bool {
	return HasAny(h.codes, required...)
}

// HasAll reports whether all of required are held.
func (h HeldSet) HasAll(required ...Code) bool {
	return HasAll(h.codes, required...)
}

// Len returns the number of held codes.
func (h HeldSet) Len() int {
	return len(h.codes)
}

// Int64s returns the held codes sorted, as plain integers.
func (h HeldSet) Int64s() []int64 {
	return h.codes.Int64s()
}
