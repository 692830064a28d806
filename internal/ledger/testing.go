package ledger

// SeedBalance is a test helper that seeds a bucket for an account when using
// the in-memory store.
func SeedBalance(s Store, ref AccountRef, bucket Bucket, amount string) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.setBucketLocked(mem.getOrCreateLocked(ref), bucket, amount)
	}
}
