package state

// Merge policies used to fold partial updates into state.
// Every state field is combined with exactly one of these.

// Append returns cur followed by upd. The result never aliases cur's backing
// array, so a caller holding cur observes no change.
func Append[T any](cur, upd []T) []T {
	if len(upd) == 0 {
		return cur
	}
	out := make([]T, 0, len(cur)+len(upd))
	out = append(out, cur...)
	return append(out, upd...)
}

// ReplaceLatest returns *upd when an update is present, otherwise cur.
func ReplaceLatest[T any](cur T, upd *T) T {
	if upd == nil {
		return cur
	}
	return *upd
}

// Replace swaps a whole thread when the update carries one.
// A nil update leaves cur untouched; an empty non-nil update clears it.
func Replace(cur, upd []Message) []Message {
	if upd == nil {
		return cur
	}
	out := make([]Message, len(upd))
	copy(out, upd)
	return out
}

// Ptr returns a pointer to v, for building replace-with-latest updates
func Ptr[T any](v T) *T {
	return &v
}
