package kernel

import "testing"

func TestTileRank(t *testing.T) {
	t.Parallel()
	p := NewPlatform([]uint16{4, 9, 2, 7}, 2)

	if p.NumCT() != 4 || p.NumCores() != 8 {
		t.Fatalf("NumCT = %d, NumCores = %d", p.NumCT(), p.NumCores())
	}
	for rank, tile := range []uint16{4, 9, 2, 7} {
		if got := p.TileRank(tile); got != rank {
			t.Errorf("TileRank(%d) = %d, want %d", tile, got, rank)
		}
		if got := p.RankTile(rank); got != tile {
			t.Errorf("RankTile(%d) = %d, want %d", rank, got, tile)
		}
	}
	if got := p.TileRank(3); got != -1 {
		t.Errorf("TileRank of a memory tile = %d, want -1", got)
	}
	if p.CoreTile(5) != 2 || p.CTRank(5) != 2 {
		t.Errorf("core 5 on tile %d rank %d, want tile 2 rank 2", p.CoreTile(5), p.CTRank(5))
	}
}

func TestPlatformInit(t *testing.T) {
	t.Parallel()
	if err := NewPlatform(nil, 1).Init(); err == nil {
		t.Error("empty tile list accepted")
	}
	if err := NewPlatform([]uint16{1, 1}, 1).Init(); err == nil {
		t.Error("duplicate tile accepted")
	}
	if err := NewPlatform([]uint16{0, 1}, 0).Init(); err != nil {
		t.Errorf("valid platform rejected: %v", err)
	}
}
