package pointbuffer

// writeWrapped copies src into the ring dst starting at slot start and
// continues from slot 0 when it runs off the end. len(src) must not exceed
// len(dst). It returns the lengths of the two segments; second is zero for
// a contiguous write.
//
// Every channel goes through this one helper with the same start so the
// channels can never drift out of index alignment.
func writeWrapped[T any](dst, src []T, start int) (first, second int) {
	first = copy(dst[start:], src)
	second = copy(dst, src[first:])
	return first, second
}

// readWrapped copies count slots of the ring src, starting at slot start,
// into dst in logical order.
func readWrapped[T any](dst, src []T, start, count int) {
	n := copy(dst[:count], src[start:])
	copy(dst[n:count], src)
}
