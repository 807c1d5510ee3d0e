// Package wgpu_engine executes recorded visibility frames, on a WebGPU
// device or, stage by stage, on the CPU.
package wgpu_engine

import (
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"
	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/engine/wgpu_engine/shaders"
	"honnef.co/go/visbuf/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/wgpu"
)

type RendererOptions struct {
	// UseCPU runs every stage on the host instead of the device. The
	// engine then never touches the device, which may be nil.
	UseCPU bool
	// Logger receives the engine's debug and warning output. Nil
	// discards it.
	Logger *log.Logger
	// TODO threading for shader init
}

var bindTypeMapping = [...]renderer.BindType{
	shaders.Buffer:      {Type: renderer.BindTypeBuffer},
	shaders.BufReadOnly: {Type: renderer.BindTypeBufReadOnly},
	shaders.Uniform:     {Type: renderer.BindTypeUniform},
	shaders.Image:       {Type: renderer.BindTypeImage, ImageFormat: renderer.Rg32Uint},
	shaders.ImageRead:   {Type: renderer.BindTypeImageRead, ImageFormat: renderer.Rg32Uint},
}

// cpuStages maps stage names to their host twins. Every stage has one,
// so UseCPU covers the whole pipeline.
var cpuStages = map[string]func(uint32, []cpu.CPUBinding){
	"cluster_expand":  cpu.ClusterExpand,
	"raster_setup":    cpu.RasterSetup,
	"raster_fine":     cpu.RasterFine,
	"visibility_draw": cpu.VisibilityDraw,
}

func (engine *Engine) newFullShaders() *renderer.FullShaders {
	var out renderer.FullShaders
	outV := reflect.ValueOf(&out).Elem()
	v := reflect.ValueOf(&shaders.Collection)
	for i := range v.Elem().NumField() {
		fieldName := v.Elem().Type().Field(i).Name
		outField := outV.FieldByName(fieldName)
		if !outField.IsValid() {
			continue
		}
		var id renderer.ShaderID
		switch shader := v.Elem().Field(i).Addr().Interface().(type) {
		case *shaders.ComputeShader:
			if len(shader.WGSL.Code) == 0 {
				panic(fmt.Sprintf("shader %q has no code", shader.Name))
			}
			id = engine.addShader(shader.Name, shader.WGSL.Code, mapBindings(shader.Bindings), cpuStages[shader.Name])
		case *shaders.RenderShader:
			if len(shader.WGSL.Code) == 0 {
				panic(fmt.Sprintf("shader %q has no code", shader.Name))
			}
			id = engine.addRenderShader(shader.Name, shader.WGSL.Code, mapBindings(shader.Bindings), cpuStages[shader.Name])
		default:
			panic(fmt.Sprintf("unhandled shader type %T", shader))
		}
		outField.Set(reflect.ValueOf(id))
	}
	return &out
}

func mapBindings(bindings []shaders.BindType) []renderer.BindType {
	out := make([]renderer.BindType, len(bindings))
	for i, b := range bindings {
		out[i] = bindTypeMapping[b]
	}
	return out
}

func imageFormatToWGPU(f renderer.ImageFormat) wgpu.TextureFormat {
	switch f {
	case renderer.Rg32Uint:
		return wgpu.TextureFormatRG32Uint
	case renderer.Depth32Float:
		return wgpu.TextureFormatDepth32Float
	default:
		panic(fmt.Sprintf("unhandled value %d", f))
	}
}

// RenderStats reports what a frame actually did.
type RenderStats struct {
	// SoupTriangles is the number of triangles cluster expansion tried to
	// append. When the soup overflowed it exceeds the capacity and tells
	// the caller what a retry needs.
	SoupTriangles uint32
	// SoupOverflow reports that the soup filled up. The frame then
	// resolved to background everywhere.
	SoupOverflow bool
}

// RenderVisibility renders one frame over the encoded geometry and reads
// the resolved image back. visible selects the clusters to draw; use
// [renderer.AllVisible] to draw everything. Overflow is not an error,
// it is reported through RenderStats next to the image.
func (eng *Engine) RenderVisibility(
	arena *mem.Arena,
	queue *wgpu.Queue,
	enc *encoding.Encoding,
	visible []renderer.VisibleCluster,
	params *renderer.RenderParams,
	pgroup *ProfilerGroup,
) (*renderer.VisibilityImage, RenderStats, error) {
	pgroup = pgroup.Nest("RenderVisibility")
	defer pgroup.End()

	p := *params
	p.Readback = true
	recording, targets := renderer.RenderVisibility(arena, enc, eng.resolver, eng.fullShaders, visible, &p, true, pgroup)
	eng.RunRecording(arena, queue, &recording, nil, "render_visibility", pgroup)

	bump, err := eng.ReadBump(&targets)
	if err != nil {
		return nil, RenderStats{}, err
	}
	stats := RenderStats{
		SoupTriangles: bump.Triangles,
		SoupOverflow:  bump.Failed != 0,
	}
	if stats.SoupOverflow {
		eng.logger.Warn("triangle soup overflowed",
			"triangles", bump.Triangles,
			"capacity", p.SoupCapacity)
	}
	img, err := eng.ReadVisibility(&targets)
	if err != nil {
		return nil, stats, err
	}
	return img, stats, nil
}

// ReadVisibility collects the resolved image of an executed frame. The
// frame must have been recorded with Readback set. The download is
// consumed; reading the same frame twice fails.
func (eng *Engine) ReadVisibility(targets *renderer.VisibilityTargets) (*renderer.VisibilityImage, error) {
	img := renderer.NewVisibilityImage(targets.Width, targets.Height)
	switch targets.Strategy {
	case renderer.StrategySoftwareAtomic:
		d, ok := eng.getDownload(targets.Words.ID)
		if !ok {
			return nil, fmt.Errorf("visibility words of %dx%d frame were not downloaded", targets.Width, targets.Height)
		}
		if eng.UseCPU {
			copy(img.Words, safeish.SliceCast[[]uint64](d.cpuBytes))
		} else {
			size := int(targets.Words.Size)
			if err := <-d.gpuBuf.Map(eng.Device, wgpu.MapModeRead, 0, size); err != nil {
				return nil, fmt.Errorf("mapping visibility words: %w", err)
			}
			copy(img.Words, safeish.SliceCast[[]uint64](d.gpuBuf.ReadOnlyMappedRange(0, size)))
			d.gpuBuf.Unmap()
		}
		eng.freeDownload(targets.Words.ID)

	case renderer.StrategyHardwareDepth:
		d, ok := eng.getDownload(targets.Image.ID)
		if !ok {
			return nil, fmt.Errorf("visibility image of %dx%d frame was not downloaded", targets.Width, targets.Height)
		}
		if eng.UseCPU {
			copy(img.Words, d.cpuImage.Pixels)
		} else {
			// Texel bytes are the word's bytes on little-endian hosts; see
			// renderer.Rg32Uint. Staging rows carry the copy alignment's
			// padding, so copy row by row.
			size := int(d.bytesPerRow) * int(targets.Height)
			if err := <-d.gpuBuf.Map(eng.Device, wgpu.MapModeRead, 0, size); err != nil {
				return nil, fmt.Errorf("mapping visibility image: %w", err)
			}
			data := d.gpuBuf.ReadOnlyMappedRange(0, size)
			width := int(targets.Width)
			for y := range int(targets.Height) {
				row := data[y*int(d.bytesPerRow):]
				copy(img.Words[y*width:(y+1)*width], safeish.SliceCast[[]uint64](row[:width*8]))
			}
			d.gpuBuf.Unmap()
		}
		eng.freeDownload(targets.Image.ID)

	default:
		panic(fmt.Sprintf("unhandled strategy %v", targets.Strategy))
	}
	return img, nil
}

// ReadBump collects the bump allocator state of an executed robust
// frame. Streaming callers use it to check for overflow without reading
// the whole image back.
func (eng *Engine) ReadBump(targets *renderer.VisibilityTargets) (renderer.BumpAllocators, error) {
	d, ok := eng.getDownload(targets.Bump.ID)
	if !ok {
		return renderer.BumpAllocators{}, fmt.Errorf("bump allocators were not downloaded")
	}
	var bump renderer.BumpAllocators
	if eng.UseCPU {
		bump = *safeish.Cast[*renderer.BumpAllocators](&d.cpuBytes[0])
	} else {
		size := int(targets.Bump.Size)
		if err := <-d.gpuBuf.Map(eng.Device, wgpu.MapModeRead, 0, size); err != nil {
			return renderer.BumpAllocators{}, fmt.Errorf("mapping bump allocators: %w", err)
		}
		bump = *safeish.Cast[*renderer.BumpAllocators](&d.gpuBuf.ReadOnlyMappedRange(0, size)[0])
		d.gpuBuf.Unmap()
	}
	eng.freeDownload(targets.Bump.ID)
	return bump, nil
}
