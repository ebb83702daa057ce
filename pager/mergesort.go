package pager

// mergeSortPages implements the 32-bucket bottom-up merge sort the pager
// uses to order dirty/hot-dirty pages by page number before a flush
// (§4.2.4). A bottom-up bucket merge avoids the recursion-depth concerns of
// a naive mergesort on a singly-linked list, matching the shape of the
// original pcache sorting routine.
func mergeSortPages(pages []*Page) []*Page {
	if len(pages) <= 1 {
		return pages
	}
	const nBuckets = 32
	var buckets [nBuckets][]*Page

	for _, p := range pages {
		single := []*Page{p}
		i := 0
		for ; i < nBuckets-1; i++ {
			if buckets[i] == nil {
				buckets[i] = single
				single = nil
				break
			}
			single = mergeTwo(buckets[i], single)
			buckets[i] = nil
		}
		if single != nil {
			buckets[nBuckets-1] = mergeTwo(buckets[nBuckets-1], single)
		}
	}

	var result []*Page
	for i := 0; i < nBuckets; i++ {
		result = mergeTwo(result, buckets[i])
	}
	return result
}

func mergeTwo(a, b []*Page) []*Page {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make([]*Page, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].No <= b[j].No {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
