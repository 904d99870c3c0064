package kernel

func memset(dst []pte_t, c pte_t) {
	for i := range dst {
		dst[i] = c
	}
}
