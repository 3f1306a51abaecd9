package abi

// PackPtrLen packs a guest pointer and a byte length into the combined
// 64-bit entry-point result: pointer in the low half, length in the high
// half. The split order is fixed and shared with UnpackPtrLen.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(length)<<32 | uint64(ptr)
}

// UnpackPtrLen splits a combined 64-bit entry-point result into the guest
// pointer (low half) and byte length (high half).
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed), uint32(packed >> 32)
}
