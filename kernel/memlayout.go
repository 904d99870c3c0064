package kernel

import "fmt"

// Platform is the read-only topology table of the chip: the compute tiles
// indexed by their rank, and how many cores each tile carries.
//
// The table is supplied by the platform; the kernel only reads it.
type Platform struct {
	tiles        []uint16
	coresPerTile int
}

func NewPlatform(tiles []uint16, coresPerTile int) *Platform {
	if coresPerTile <= 0 {
		coresPerTile = 1
	}
	ct := make([]uint16, len(tiles))
	copy(ct, tiles)
	return &Platform{tiles: ct, coresPerTile: coresPerTile}
}

// Init checks the topology before the kernel trusts it.
func (p *Platform) Init() error {
	if len(p.tiles) == 0 {
		return fmt.Errorf("platform: empty compute tile list")
	}
	seen := make(map[uint16]bool, len(p.tiles))
	for _, t := range p.tiles {
		if seen[t] {
			return fmt.Errorf("platform: tile %d listed twice", t)
		}
		seen[t] = true
	}
	return nil
}

// NumCT returns the number of compute tiles.
func (p *Platform) NumCT() int { return len(p.tiles) }

func (p *Platform) NumCores() int { return len(p.tiles) * p.coresPerTile }

// TileRank returns the rank of the tile, or -1 if it is not a compute tile.
func (p *Platform) TileRank(tile uint16) int {
	for i := 0; i < len(p.tiles); i++ {
		if p.tiles[i] == tile {
			return i
		}
	}
	return -1
}

// RankTile returns the tile at rank. Callers must validate the rank.
func (p *Platform) RankTile(rank int) uint16 {
	return p.tiles[rank]
}

// CoreTile returns the tile hosting the core with the given rank.
func (p *Platform) CoreTile(core int) uint16 {
	return p.tiles[core/p.coresPerTile]
}

// CTRank is the compute tile rank of the tile hosting core.
func (p *Platform) CTRank(core int) int {
	return p.TileRank(p.CoreTile(core))
}
