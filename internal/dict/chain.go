package dict

// rebuildReplace walks head looking for the node matching (hash, key),
// replaces it with make(old) (or unlinks it entirely if make returns nil),
// and clones every node visited before the match so that a reader still
// walking the old head sees a chain that is either entirely old or
// entirely new at each node, never a half-updated one (spec.md §4.1
// "Insert/update policy").
func rebuildReplace(head *entry, hash uint32, key string, make func(old *entry) *entry) *entry {
	if head == nil {
		return nil
	}
	if head.hash == hash && head.key == key {
		replacement := make(head)
		if replacement == nil {
			return head.next.Load()
		}
		replacement.next.Store(head.next.Load())
		return replacement
	}
	rest := rebuildReplace(head.next.Load(), hash, key, make)
	return head.cloneWithNext(rest)
}
