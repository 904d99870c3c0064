package kernel

// 32-bit two-level translation: 10 bits directory index, 10 bits table
// index, 12 bits page offset.
const (
	PGSIZE  = uint32(4096)
	PGSHIFT = 12
	NPTE    = 1024
)

const (
	PTE_V = 1 << 0 // Valid
	PTE_R = 1 << 1 // Readable
	PTE_W = 1 << 2 // Writable
	PTE_X = 1 << 3 // Executable
)

type pte_t uint32

func PX(level int, va uint32) uint32 { return (va >> (PGSHIFT + uint32(level)*10)) & (NPTE - 1) }
func PTE2PA(pte pte_t) uint32 { return (uint32(pte) >> PGSHIFT) << PGSHIFT }
func PA2PTE(pa uint32) pte_t { return pte_t((pa >> PGSHIFT) << PGSHIFT) }

func PGROUNDDOWN(a uint32) uint32 { return a &^ (PGSIZE - 1) }
func PGOFFSET(a uint32) uint32 { return a & (PGSIZE - 1) }

// VA rebuilds a page-aligned virtual address from its two indices.
func VA(dirIdx, tblIdx uint32) uint32 {
	return dirIdx<<(PGSHIFT+10) | tblIdx<<PGSHIFT
}
