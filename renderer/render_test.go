package renderer

import (
	"testing"

	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/profiler"
	"honnef.co/go/visbuf/vmath"
)

func TestAllVisible(t *testing.T) {
	var enc encoding.Encoding
	tri := [][3]uint32{{0, 1, 2}}
	verts := make([]encoding.Position, 3)
	var mesh encoding.Mesh
	for i := 0; i < 3; i++ {
		m, err := enc.EncodeCluster(verts, tri)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			mesh = m
		}
	}
	mesh.ClusterCount = 3
	enc.EncodeInstance(mesh, vmath.Identity)
	enc.EncodeInstance(mesh, vmath.Translate(1, 0, 0))

	visible := AllVisible(&enc)
	if len(visible) != 6 {
		t.Fatalf("got %d refs, want 6", len(visible))
	}
	want := []VisibleCluster{
		{Instance: 0, Cluster: 0}, {Instance: 0, Cluster: 1}, {Instance: 0, Cluster: 2},
		{Instance: 1, Cluster: 0}, {Instance: 1, Cluster: 1}, {Instance: 1, Cluster: 2},
	}
	for i, ref := range visible {
		if ref != want[i] {
			t.Errorf("ref %d = %+v, want %+v", i, ref, want[i])
		}
	}
}

func recordTestFrame(t *testing.T, strategy Strategy, robust bool) (Recording, VisibilityTargets) {
	t.Helper()
	enc := testEncoding(t)
	arena := mem.NewArena()
	shaders := &FullShaders{ClusterExpand: 1, RasterSetup: 2, RasterFine: 3, VisibilityDraw: 4}
	params := &RenderParams{
		Width:    64,
		Height:   32,
		Camera:   vmath.Identity,
		Strategy: strategy,
	}
	return RenderVisibility(arena, enc, NewResolver(), shaders, AllVisible(enc), params, robust, profiler.Nop)
}

func TestRenderVisibilitySoftware(t *testing.T) {
	recording, targets := recordTestFrame(t, StrategySoftwareAtomic, true)

	if targets.Strategy != StrategySoftwareAtomic {
		t.Errorf("targets carry strategy %v", targets.Strategy)
	}
	if want := uint64(64 * 32 * 8); targets.Words.Size != want {
		t.Errorf("visibility buffer size = %d, want %d", targets.Words.Size, want)
	}

	var (
		dispatches []Dispatch
		indirects  []DispatchIndirect
		draws      int
		downloads  int
		clearedIDs = map[ResourceID]bool{}
	)
	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *Dispatch:
			dispatches = append(dispatches, *cmd)
		case *DispatchIndirect:
			indirects = append(indirects, *cmd)
		case *Draw:
			draws++
		case *Download:
			downloads++
		case *Clear:
			clearedIDs[cmd.Buffer.ID] = true
		}
	}

	if len(dispatches) != 2 {
		t.Fatalf("recorded %d direct dispatches, want 2", len(dispatches))
	}
	expand, setup := dispatches[0], dispatches[1]
	if expand.Shader != 1 {
		t.Errorf("first dispatch runs shader %d, want cluster expansion", expand.Shader)
	}
	// One workgroup per visible cluster reference.
	if want := [3]uint32{2, 1, 1}; expand.WorkgroupSize != want {
		t.Errorf("expansion workgroups = %v, want %v", expand.WorkgroupSize, want)
	}
	if len(expand.Bindings) != 5 {
		t.Errorf("expansion binds %d resources, want 5", len(expand.Bindings))
	}
	if setup.Shader != 2 || setup.WorkgroupSize != [3]uint32{1, 1, 1} {
		t.Errorf("setup dispatch = shader %d %v", setup.Shader, setup.WorkgroupSize)
	}

	if len(indirects) != 1 {
		t.Fatalf("recorded %d indirect dispatches, want 1", len(indirects))
	}
	if indirects[0].Shader != 3 {
		t.Errorf("indirect dispatch runs shader %d, want fine raster", indirects[0].Shader)
	}
	if draws != 0 {
		t.Errorf("software strategy recorded %d draws", draws)
	}
	if !clearedIDs[targets.Words.ID] {
		t.Error("visibility buffer is not cleared before the fine raster")
	}
	if !clearedIDs[targets.Bump.ID] {
		t.Error("bump buffer is not cleared")
	}
	if downloads != 1 {
		t.Errorf("robust frame recorded %d downloads, want 1", downloads)
	}
}

func TestRenderVisibilityHardware(t *testing.T) {
	recording, targets := recordTestFrame(t, StrategyHardwareDepth, false)

	var draw *Draw
	indirects := 0
	downloads := 0
	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *Draw:
			draw = cmd
		case *DispatchIndirect:
			indirects++
		case *Download:
			downloads++
		}
	}
	if draw == nil {
		t.Fatal("hardware strategy recorded no draw")
	}
	if draw.Shader != 4 {
		t.Errorf("draw runs shader %d, want visibility draw", draw.Shader)
	}
	if draw.Target.Format != Rg32Uint {
		t.Errorf("draw target format = %v, want Rg32Uint", draw.Target.Format)
	}
	if draw.Depth.Format != Depth32Float {
		t.Errorf("draw depth format = %v, want Depth32Float", draw.Depth.Format)
	}
	if draw.Target.Width != 64 || draw.Target.Height != 32 {
		t.Errorf("draw target is %dx%d, want 64x32", draw.Target.Width, draw.Target.Height)
	}
	if targets.Image.ID != draw.Target.ID || targets.Depth.ID != draw.Depth.ID {
		t.Error("returned targets do not match the draw's attachments")
	}
	if indirects != 0 {
		t.Errorf("hardware strategy recorded %d indirect dispatches", indirects)
	}
	if downloads != 0 {
		t.Errorf("non-robust frame recorded %d downloads", downloads)
	}
}

func TestRenderVisibilityReadback(t *testing.T) {
	enc := testEncoding(t)
	arena := mem.NewArena()
	shaders := &FullShaders{ClusterExpand: 1, RasterSetup: 2, RasterFine: 3, VisibilityDraw: 4}
	params := &RenderParams{
		Width:    16,
		Height:   16,
		Camera:   vmath.Identity,
		Strategy: StrategySoftwareAtomic,
		Readback: true,
	}

	recording, targets := RenderVisibility(arena, enc, NewResolver(), shaders, AllVisible(enc), params, false, profiler.Nop)
	found := false
	for _, cmd := range recording.Commands {
		if dl, ok := cmd.(*Download); ok {
			if dl.Buffer.ID == targets.Words.ID {
				found = true
			} else {
				t.Errorf("unexpected download of %q", dl.Buffer.Name)
			}
		}
	}
	if !found {
		t.Error("software readback frame does not download the word buffer")
	}

	params.Strategy = StrategyHardwareDepth
	recording, targets = RenderVisibility(arena, enc, NewResolver(), shaders, AllVisible(enc), params, false, profiler.Nop)
	found = false
	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *DownloadImage:
			if cmd.Image.ID == targets.Image.ID {
				found = true
			}
		case *Download:
			t.Error("hardware readback frame downloads a buffer")
		}
	}
	if !found {
		t.Error("hardware readback frame does not download the color target")
	}
}
