package wgpu_engine

// OPT reuse bind groups

import (
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/charmbracelet/log"
	"honnef.co/go/safeish"
	"honnef.co/go/visbuf/engine/wgpu_engine/shaders/cpu"
	"honnef.co/go/visbuf/mem"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
	"honnef.co/go/wgpu"
)

type uninitializedShader struct {
	Wgsl     []byte
	Label    string
	Entries  []wgpu.BindGroupLayoutEntry
	ShaderID renderer.ShaderID
}

type Engine struct {
	Device              *wgpu.Device
	logger              *log.Logger
	shaders             []shader
	pool                resourcePool
	downloads           map[renderer.ResourceID]download
	shadersToInitialize []uninitializedShader
	UseCPU              bool

	resolver    *renderer.Resolver
	fullShaders *renderer.FullShaders
}

type wgpuShader struct {
	label           string
	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
}

type wgpuRenderShader struct {
	label           string
	pipeline        *wgpu.RenderPipeline
	bindGroupLayout *wgpu.BindGroupLayout
}

type cpuShader struct {
	shader func(uint32, []cpu.CPUBinding)
}

type shader struct {
	Label  string
	WGPU   *wgpuShader
	Render *wgpuRenderShader
	CPU    *cpuShader
}

func (s shader) Select() any {
	if s.CPU != nil {
		return s.CPU
	} else if s.WGPU != nil {
		return s.WGPU
	} else if s.Render != nil {
		return s.Render
	} else {
		panic(fmt.Sprintf("no available shader for %s", s.Label))
	}
}

// A download records where a readback's data lives until the caller
// collects it: a mappable staging buffer on the GPU path, the live
// host memory on the CPU path.
type download struct {
	gpuBuf *wgpu.Buffer
	// bytesPerRow is set for image downloads, whose staging rows are
	// padded to the copy alignment.
	bytesPerRow uint32
	cpuBytes    []byte
	cpuImage    *cpu.CPUTexture
}

type ExternalResource interface {
	// One of ExternalBuffer and ExternalImage
}

type ExternalBuffer struct {
	Proxy  renderer.BufferProxy
	Buffer *wgpu.Buffer
}

type ExternalImage struct {
	Proxy renderer.ImageProxy
	View  *wgpu.TextureView
}

type materializedBuffer interface {
	// One of wgpu.Buffer and []byte
}

type bindMapBuffer struct {
	Buffer materializedBuffer
	Label  string
}

type bindMapImage struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
	cpu     *cpu.CPUTexture
}

type bindMap struct {
	bufMap        mem.BinaryTreeMap[renderer.ResourceID, *bindMapBuffer]
	imageMap      mem.BinaryTreeMap[renderer.ResourceID, *bindMapImage]
	pendingClears mem.BinaryTreeMap[renderer.ResourceID, struct{}]
}

type bufferProperties struct {
	size   uint64
	usages wgpu.BufferUsage
}

type resourcePool struct {
	bufs map[bufferProperties][]*wgpu.Buffer
}

type transientBindMap struct {
	bufs   mem.BinaryTreeMap[renderer.ResourceID, transientBuf]
	images mem.BinaryTreeMap[renderer.ResourceID, *wgpu.TextureView]
}

type transientBufKind int

const (
	transientBufKindBytes transientBufKind = iota + 1
	transientBufKindBuffer
)

type transientBuf struct {
	kind   transientBufKind
	bytes  []byte
	buffer *wgpu.Buffer
}

// New creates an engine on dev. With options.UseCPU the engine never
// touches dev and it may be nil; every stage then runs on the host.
func New(dev *wgpu.Device, options *RendererOptions) *Engine {
	logger := options.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	eng := &Engine{
		Device: dev,
		logger: logger,
		pool: resourcePool{
			bufs: make(map[bufferProperties][]*wgpu.Buffer),
		},
		downloads: make(map[renderer.ResourceID]download),
		UseCPU:    options.UseCPU,

		resolver: renderer.NewResolver(),
	}
	eng.fullShaders = eng.newFullShaders()
	eng.buildShadersIfNeeded(1)
	eng.logger.Debug("engine ready", "cpu", eng.UseCPU, "shaders", len(eng.shaders))
	return eng
}

func (eng *Engine) UseParallelInitialization() {
	if eng.shadersToInitialize != nil {
		return
	}
	eng.shadersToInitialize = []uninitializedShader{}
}

func (eng *Engine) buildShadersIfNeeded(numThreads int) {
	if eng.shadersToInitialize == nil {
		return
	}
	newShaders := eng.shadersToInitialize
	// XXX implement parallelism
	for _, s := range newShaders {
		sh := eng.createComputePipeline(s.Label, s.Wgsl, s.Entries)
		if int(s.ShaderID) >= len(eng.shaders) {
			if cap(eng.shaders) <= int(s.ShaderID) {
				c := make([]shader, s.ShaderID+1)
				copy(c, eng.shaders)
				eng.shaders = c
			} else {
				eng.shaders = eng.shaders[:s.ShaderID+1]
			}
		}
		eng.shaders[s.ShaderID] = shader{WGPU: &sh}
	}
}

func (eng *Engine) appendShader(sh shader) renderer.ShaderID {
	id := len(eng.shaders)
	eng.shaders = append(eng.shaders, sh)
	return renderer.ShaderID(id)
}

func (eng *Engine) addShader(
	label string,
	wgsl []byte,
	layout []renderer.BindType,
	cpuStage func(uint32, []cpu.CPUBinding),
) renderer.ShaderID {
	if eng.UseCPU {
		if cpuStage == nil {
			panic(fmt.Sprintf("no CPU shader for %s", label))
		}
		return eng.appendShader(shader{Label: label, CPU: &cpuShader{shader: cpuStage}})
	}

	entries := bindEntries(layout, wgpu.ShaderStageCompute)
	if eng.shadersToInitialize != nil {
		id := eng.appendShader(shader{Label: label})
		eng.shadersToInitialize = append(eng.shadersToInitialize, uninitializedShader{
			Wgsl:     wgsl,
			Label:    label,
			Entries:  entries,
			ShaderID: id,
		})
		return id
	}

	wgpu := eng.createComputePipeline(label, wgsl, entries)
	return eng.appendShader(shader{
		Label: label,
		WGPU:  &wgpu,
	})
}

// addRenderShader builds the raster pipeline for a vertex/fragment pair.
// Unlike compute shaders it is always built eagerly; there is only one.
func (eng *Engine) addRenderShader(
	label string,
	wgsl []byte,
	layout []renderer.BindType,
	cpuStage func(uint32, []cpu.CPUBinding),
) renderer.ShaderID {
	if eng.UseCPU {
		if cpuStage == nil {
			panic(fmt.Sprintf("no CPU shader for %s", label))
		}
		return eng.appendShader(shader{Label: label, CPU: &cpuShader{shader: cpuStage}})
	}

	entries := bindEntries(layout, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment)
	sh := eng.createRenderPipeline(label, wgsl, entries)
	return eng.appendShader(shader{
		Label:  label,
		Render: &sh,
	})
}

func bindEntries(layout []renderer.BindType, visibility wgpu.ShaderStage) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, len(layout))
	for i, bindType := range layout {
		switch bindType.Type {
		case renderer.BindTypeBuffer, renderer.BindTypeBufReadOnly:
			var typ wgpu.BufferBindingType
			if bindType.Type == renderer.BindTypeBuffer {
				typ = wgpu.BufferBindingTypeStorage
			} else {
				typ = wgpu.BufferBindingTypeReadOnlyStorage
			}
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: visibility,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             typ,
					HasDynamicOffset: false,
					MinBindingSize:   0, // XXX 0 or Undefined?
				},
			}
		case renderer.BindTypeUniform:
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: visibility,
				Buffer: &wgpu.BufferBindingLayout{
					Type:             wgpu.BufferBindingTypeUniform,
					HasDynamicOffset: false,
					MinBindingSize:   0, // XXX 0 or Undefined?
				},
			}

		case renderer.BindTypeImage:
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: visibility,
				StorageTexture: &wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        imageFormatToWGPU(bindType.ImageFormat),
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			}

		case renderer.BindTypeImageRead:
			entries[i] = wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i),
				Visibility: visibility,
				Texture: &wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUint,
					ViewDimension: wgpu.TextureViewDimension2D,
					Multisampled:  false,
				},
			}

		default:
			panic(fmt.Sprintf("invalid bind type %d", bindType.Type))
		}
	}
	return entries
}

func (eng *Engine) RunRecording(
	arena *mem.Arena,
	queue *wgpu.Queue,
	recording *renderer.Recording,
	externalResources []ExternalResource,
	label string,
	pgroup *ProfilerGroup,
) {
	pgroup = pgroup.Nest("RunRecording")
	defer pgroup.End()

	var freeBufs, freeImages mem.BinaryTreeMap[renderer.ResourceID, struct{}]
	transientMap := newTransientBindMap(arena, externalResources)
	// The bind map only lives for one recording. A frame's buffers mostly
	// don't survive it; the ones that do go through the pool.
	bindMap := bindMap{}

	var encoder *wgpu.CommandEncoder
	if !eng.UseCPU {
		encoder = eng.Device.CreateCommandEncoder(mem.Make(arena, wgpu.CommandEncoderDescriptor{Label: label}))
	}

	for _, cmd := range recording.Commands {
		switch cmd := cmd.(type) {
		case *renderer.Upload:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs.Insert(arena, bufProxy.ID, transientBuf{kind: transientBufKindBytes, bytes: bytes})
			if eng.UseCPU {
				continue
			}
			usage := wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst | wgpu.BufferUsageStorage
			buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
			queue.WriteBuffer(buf, 0, bytes)
			bindMap.insertBuf(arena, bufProxy, buf)

		case *renderer.UploadUniform:
			bufProxy := cmd.Buffer
			bytes := cmd.Data
			transientMap.bufs.Insert(arena, bufProxy.ID, transientBuf{kind: transientBufKindBytes, bytes: bytes})
			if eng.UseCPU {
				continue
			}
			usage := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
			buf := eng.pool.getBuf(bufProxy.Size, bufProxy.Name, usage, eng.Device)
			queue.WriteBuffer(buf, 0, bytes)
			bindMap.insertBuf(arena, bufProxy, buf)

		case *renderer.Dispatch:
			shader := eng.shaders[cmd.Shader]
			switch s := shader.Select().(type) {
			case *cpuShader:
				resources := transientMap.createCPUResources(arena, &bindMap, cmd.Bindings)
				s.shader(cmd.WorkgroupSize[0], resources)
			case *wgpuShader:
				bindGroup := transientMap.createBindGroup(
					arena,
					&bindMap,
					&eng.pool,
					eng.Device,
					encoder,
					s.bindGroupLayout,
					cmd.Bindings,
				)

				cpass := encoder.BeginComputePass(mem.Make(arena, wgpu.ComputePassDescriptor{
					Label:           shader.Label,
					TimestampWrites: pgroup.Compute(arena, shader.Label),
				}))

				cpass.SetPipeline(s.pipeline)
				cpass.SetBindGroup(0, bindGroup, nil)
				cpass.DispatchWorkgroups(cmd.WorkgroupSize[0], cmd.WorkgroupSize[1], cmd.WorkgroupSize[2])
				cpass.End()
				bindGroup.Release()
				cpass.Release()
			default:
				panic(fmt.Sprintf("unhandled type %T", s))
			}

		case *renderer.DispatchIndirect:
			shader := eng.shaders[cmd.Shader]
			switch s := shader.Select().(type) {
			case *cpuShader:
				resources := transientMap.createCPUResources(arena, &bindMap, cmd.Bindings)
				count := safeish.Cast[*renderer.IndirectCount](&bindMap.getCPUBuf(cmd.Buffer.ID)[cmd.Offset])
				s.shader(count.X, resources)
			case *wgpuShader:
				bindGroup := transientMap.createBindGroup(
					arena,
					&bindMap,
					&eng.pool,
					eng.Device,
					encoder,
					s.bindGroupLayout,
					cmd.Bindings,
				)

				cpass := encoder.BeginComputePass(mem.Make(arena, wgpu.ComputePassDescriptor{
					Label:           s.label,
					TimestampWrites: pgroup.Compute(arena, shader.Label),
				}))

				cpass.SetPipeline(s.pipeline)
				cpass.SetBindGroup(0, bindGroup, nil)
				buf, ok := bindMap.getGPUBuf(cmd.Buffer.ID)
				if !ok {
					panic("tried using unavailable buffer for indirect dispatch")
				}
				cpass.DispatchWorkgroupsIndirect(buf, cmd.Offset)
				cpass.End()
				bindGroup.Release()
				cpass.Release()
			default:
				panic(fmt.Sprintf("unhandled type %T", s))
			}

		case *renderer.Draw:
			shader := eng.shaders[cmd.Shader]
			switch s := shader.Select().(type) {
			case *cpuShader:
				resources := transientMap.createCPUResources(arena, &bindMap, cmd.Bindings)
				argsBuf := bindMap.getCPUBuf(cmd.Buffer.ID)
				args := safeish.Cast[*renderer.DrawIndirectArgs](&argsBuf[cmd.Offset])
				target := bindMap.getOrCreateCPUImage(arena, cmd.Target)
				// The pass clears its target on load. The word max subsumes
				// the depth test, so cmd.Depth needs no host storage.
				clear(target.Pixels)
				s.shader(args.VertexCount/3, append(resources, *target))
			case *wgpuRenderShader:
				bindGroup := transientMap.createBindGroup(
					arena,
					&bindMap,
					&eng.pool,
					eng.Device,
					encoder,
					s.bindGroupLayout,
					cmd.Bindings,
				)

				_, targetView := bindMap.getOrCreateImage(arena, cmd.Target, eng.Device)
				_, depthView := bindMap.getOrCreateImage(arena, cmd.Depth, eng.Device)
				rpass := encoder.BeginRenderPass(mem.Make(arena, wgpu.RenderPassDescriptor{
					ColorAttachments: mem.MakeSlice(arena, []wgpu.RenderPassColorAttachment{
						{
							View:       targetView,
							LoadOp:     wgpu.LoadOpClear,
							StoreOp:    wgpu.StoreOpStore,
							ClearValue: wgpu.Color{},
						},
					}),
					DepthStencilAttachment: mem.Make(arena, wgpu.RenderPassDepthStencilAttachment{
						View: depthView,
						// The depth code is inverted; 0 is the far plane.
						DepthLoadOp:     wgpu.LoadOpClear,
						DepthStoreOp:    wgpu.StoreOpStore,
						DepthClearValue: 0,
					}),
					TimestampWrites: pgroup.Render(arena, shader.Label),
				}))

				rpass.SetPipeline(s.pipeline)
				rpass.SetBindGroup(0, bindGroup, nil)
				buf, ok := bindMap.getGPUBuf(cmd.Buffer.ID)
				if !ok {
					panic("tried using unavailable buffer for indirect draw")
				}
				rpass.DrawIndirect(buf, cmd.Offset)
				rpass.End()
				bindGroup.Release()
				rpass.Release()
			default:
				panic(fmt.Sprintf("unhandled type %T", s))
			}

		case *renderer.Download:
			proxy := cmd.Buffer
			if eng.UseCPU {
				eng.downloads[proxy.ID] = download{cpuBytes: bindMap.getCPUBuf(proxy.ID)}
				continue
			}
			srcBuf, ok := bindMap.getGPUBuf(proxy.ID)
			if !ok {
				panic("tried using unavailable buffer for download")
			}
			usage := wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
			buf := eng.pool.getBuf(proxy.Size, "download", usage, eng.Device)
			encoder.CopyBufferToBuffer(srcBuf, 0, buf, 0, proxy.Size)
			eng.downloads[proxy.ID] = download{gpuBuf: buf}

		case *renderer.DownloadImage:
			proxy := cmd.Image
			img, ok := bindMap.imageMap.Get(proxy.ID)
			if !ok {
				panic("tried using unavailable image for download")
			}
			if eng.UseCPU {
				eng.downloads[proxy.ID] = download{cpuImage: img.cpu}
				continue
			}
			format := imageFormatToWGPU(proxy.Format)
			blockSize, ok := format.BlockCopySize(wgpu.TextureAspectAll)
			if !ok {
				panic("image format must have a valid block size")
			}
			// Buffer-image copies pad rows to 256 bytes.
			bytesPerRow := vmath.AlignUp32(proxy.Width*blockSize, 256)
			usage := wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst
			buf := eng.pool.getBuf(uint64(bytesPerRow)*uint64(proxy.Height), "download", usage, eng.Device)
			encoder.CopyTextureToBuffer(
				mem.Make(arena, wgpu.ImageCopyTexture{
					Texture:  img.texture,
					MipLevel: 0,
					Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: 0},
					Aspect:   wgpu.TextureAspectAll,
				}),
				mem.Make(arena, wgpu.ImageCopyBuffer{
					Layout: wgpu.TextureDataLayout{
						Offset:       0,
						BytesPerRow:  bytesPerRow,
						RowsPerImage: ^uint32(0), // XXX 0 or Undefined?
					},
					Buffer: buf,
				}),
				mem.Make(arena, wgpu.Extent3D{
					Width:              proxy.Width,
					Height:             proxy.Height,
					DepthOrArrayLayers: 1,
				}),
			)
			eng.downloads[proxy.ID] = download{gpuBuf: buf, bytesPerRow: bytesPerRow}

		case *renderer.Clear:
			proxy := cmd.Buffer
			offset := cmd.Offset
			size := cmd.Size
			if buf, ok := bindMap.getBuf(proxy); ok {
				switch b := buf.Buffer.(type) {
				case *wgpu.Buffer:
					encoder.ClearBuffer(b, offset, uint64(size))
				case []byte:
					slice := b[offset:]
					if size >= 0 {
						slice = slice[:size]
					}
					clear(slice)
				default:
					panic(fmt.Sprintf("unhandled type %T", b))
				}
			} else {
				bindMap.pendingClears.Insert(arena, proxy.ID, struct{}{})
			}

		case *renderer.FreeBuffer:
			freeBufs.Insert(arena, cmd.Buffer.ID, struct{}{})

		case *renderer.FreeImage:
			freeImages.Insert(arena, cmd.Image.ID, struct{}{})

		default:
			panic(fmt.Sprintf("unhandled command %T", cmd))
		}
	}

	if !eng.UseCPU {
		cmd := encoder.Finish(nil)
		encoder.Release()
		queue.Submit(cmd)
		cmd.Release()
	}

	for id := range freeBufs.Keys() {
		buf, ok := bindMap.bufMap.Get(id)
		if ok {
			bindMap.bufMap.Delete(id)
			if gpuBuf, ok := buf.Buffer.(*wgpu.Buffer); ok {
				props := bufferProperties{
					size:   gpuBuf.Size(),
					usages: gpuBuf.Usage(),
				}
				// TODO(dh): add a method to ResourcePool to return buffers
				eng.pool.bufs[props] = append(eng.pool.bufs[props], gpuBuf)
			}
		}
	}
	for id := range freeImages.Keys() {
		tex, ok := bindMap.imageMap.Get(id)
		if ok {
			bindMap.imageMap.Delete(id)
			// TODO: have a pool to avoid needless re-allocation
			if tex.texture != nil {
				tex.texture.Release()
				tex.view.Release()
			}
		}
	}

	eng.logger.Debug("ran recording", "label", label, "commands", len(recording.Commands))
}

func (eng *Engine) getDownload(id renderer.ResourceID) (download, bool) {
	got, ok := eng.downloads[id]
	return got, ok
}

// freeDownload forgets a download and returns its staging buffer, which
// must be unmapped, to the pool.
func (eng *Engine) freeDownload(id renderer.ResourceID) {
	if d, ok := eng.downloads[id]; ok && d.gpuBuf != nil {
		props := bufferProperties{
			size:   d.gpuBuf.Size(),
			usages: d.gpuBuf.Usage(),
		}
		eng.pool.bufs[props] = append(eng.pool.bufs[props], d.gpuBuf)
	}
	delete(eng.downloads, id)
}

func (eng *Engine) createComputePipeline(
	label string,
	wgsl []byte,
	entries []wgpu.BindGroupLayoutEntry,
) wgpuShader {
	// OPT(dh): use SPIR-V instead of WGSL for faster engine creation.
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	bindGroupLayout := eng.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: entries,
	})
	computePipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})
	pipeline := eng.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: computePipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shaderModule,
			EntryPoint: "main",
			// XXX compilation_options
		},
	})
	computePipelineLayout.Release()

	return wgpuShader{
		label:           label,
		pipeline:        pipeline,
		bindGroupLayout: bindGroupLayout,
	}
}

func (eng *Engine) createRenderPipeline(
	label string,
	wgsl []byte,
	entries []wgpu.BindGroupLayoutEntry,
) wgpuRenderShader {
	shaderModule := eng.Device.CreateShaderModule(wgpu.ShaderModuleDescriptor{
		Label:  label,
		Source: wgpu.ShaderSourceWGSL(wgsl),
	})
	bindGroupLayout := eng.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Entries: entries,
	})
	pipelineLayout := eng.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bindGroupLayout},
	})
	pipeline := eng.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  label,
		Layout: pipelineLayout,
		Vertex: &wgpu.VertexState{
			Module:     shaderModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     shaderModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    imageFormatToWGPU(renderer.Rg32Uint),
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: &wgpu.PrimitiveState{
			Topology:         wgpu.PrimitiveTopologyTriangleList,
			StripIndexFormat: ^wgpu.IndexFormat(0),
			// Counter-clockwise in NDC; clip space has y up.
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            imageFormatToWGPU(renderer.Depth32Float),
			DepthWriteEnabled: true,
			// Codes are inverted, greater is nearer.
			DepthCompare:     wgpu.CompareFunctionGreater,
			StencilFront:     wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilReadMask:  ^uint32(0),
			StencilWriteMask: ^uint32(0),
		},
		Multisample: &wgpu.MultisampleState{
			Count:                  1,
			Mask:                   ^uint32(0),
			AlphaToCoverageEnabled: false,
		},
	})
	pipelineLayout.Release()

	return wgpuRenderShader{
		label:           label,
		pipeline:        pipeline,
		bindGroupLayout: bindGroupLayout,
	}
}

func (m *bindMap) insertBuf(arena *mem.Arena, proxy renderer.BufferProxy, buffer *wgpu.Buffer) {
	m.bufMap.Insert(arena, proxy.ID, &bindMapBuffer{
		Buffer: buffer,
		Label:  proxy.Name,
	})
}

func (m *bindMap) getGPUBuf(id renderer.ResourceID) (*wgpu.Buffer, bool) {
	mbuf, ok := m.bufMap.Get(id)
	if !ok {
		return nil, false
	}
	buf, ok := mbuf.Buffer.(*wgpu.Buffer)
	return buf, ok
}

func (m *bindMap) getCPUBuf(id renderer.ResourceID) cpu.CPUBuffer {
	b, ok := m.bufMap.Get(id)
	if !ok {
		panic("tried using unavailable CPU buffer")
	}
	buf, ok := b.Buffer.([]byte)
	if !ok {
		panic("getting CPU buffer, but it's on GPU")
	}
	return cpu.CPUBuffer(buf)
}

func (m *bindMap) materializeCPUBuf(arena *mem.Arena, proxy renderer.BufferProxy) {
	if _, ok := m.bufMap.Get(proxy.ID); !ok {
		buffer := make([]byte, proxy.Size)
		m.bufMap.Insert(arena, proxy.ID, &bindMapBuffer{
			Buffer: buffer,
			Label:  proxy.Name,
		})
	}
}

func (m *bindMap) getBuf(proxy renderer.BufferProxy) (*bindMapBuffer, bool) {
	b, ok := m.bufMap.Get(proxy.ID)
	return b, ok
}

func (m *bindMap) getOrCreateImage(
	arena *mem.Arena,
	proxy renderer.ImageProxy,
	dev *wgpu.Device,
) (*wgpu.Texture, *wgpu.TextureView) {
	if entry, ok := m.imageMap.Get(proxy.ID); ok {
		return entry.texture, entry.view
	}

	format := imageFormatToWGPU(proxy.Format)
	var usage wgpu.TextureUsage
	switch proxy.Format {
	case renderer.Rg32Uint:
		// Rendered into, read back over CopySrc, and bindable by passes
		// that shade from the visibility buffer.
		usage = wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc | wgpu.TextureUsageTextureBinding
	case renderer.Depth32Float:
		usage = wgpu.TextureUsageRenderAttachment
	default:
		panic(fmt.Sprintf("unhandled format %d", proxy.Format))
	}
	texture := dev.CreateTexture(&wgpu.TextureDescriptor{
		Size: wgpu.Extent3D{
			Width:              proxy.Width,
			Height:             proxy.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Usage:         usage,
		Format:        format,
	})
	textureView := texture.CreateView(&wgpu.TextureViewDescriptor{
		Dimension:       wgpu.TextureViewDimension2D,
		Aspect:          wgpu.TextureAspectAll,
		MipLevelCount:   ^uint32(0),
		BaseMipLevel:    0,
		BaseArrayLayer:  0,
		ArrayLayerCount: ^uint32(0),
		Format:          format,
	})
	m.imageMap.Insert(arena, proxy.ID, &bindMapImage{
		texture: texture,
		view:    textureView,
	})

	return texture, textureView
}

func (m *bindMap) getOrCreateCPUImage(arena *mem.Arena, proxy renderer.ImageProxy) *cpu.CPUTexture {
	if entry, ok := m.imageMap.Get(proxy.ID); ok {
		return entry.cpu
	}

	tex := &cpu.CPUTexture{
		Width:  int(proxy.Width),
		Height: int(proxy.Height),
		Pixels: make([]uint64, proxy.Width*proxy.Height),
	}
	m.imageMap.Insert(arena, proxy.ID, &bindMapImage{cpu: tex})
	return tex
}

func (pool *resourcePool) getBuf(
	size uint64,
	name string,
	usage wgpu.BufferUsage,
	dev *wgpu.Device,
) *wgpu.Buffer {
	const sizeClassBits = 1

	roundedSize := poolSizeClass(size, sizeClassBits)
	props := bufferProperties{
		size:   roundedSize,
		usages: usage,
	}
	if bufVec, ok := pool.bufs[props]; ok {
		if len(bufVec) > 0 {
			buf := bufVec[len(bufVec)-1]
			bufVec = bufVec[:len(bufVec)-1]
			pool.bufs[props] = bufVec
			return buf
		}
	}
	return dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  roundedSize,
		Usage: usage,
	})
}

func poolSizeClass(x uint64, numBits uint32) uint64 {
	if x > 1<<numBits {
		a := bits.LeadingZeros64(x - 1)
		b := (x - 1) | (((math.MaxUint64 / 2) >> numBits) >> a)
		return b + 1
	} else {
		return 1 << numBits
	}
}

func newTransientBindMap(arena *mem.Arena, externalResources []ExternalResource) transientBindMap {
	bufs := mem.BinaryTreeMap[renderer.ResourceID, transientBuf]{}
	images := mem.BinaryTreeMap[renderer.ResourceID, *wgpu.TextureView]{}
	for _, res := range externalResources {
		switch res := res.(type) {
		case ExternalBuffer:
			bufs.Insert(arena, res.Proxy.ID, transientBuf{kind: transientBufKindBuffer, buffer: res.Buffer})
		case ExternalImage:
			images.Insert(arena, res.Proxy.ID, res.View)
		}
	}
	return transientBindMap{
		bufs:   bufs,
		images: images,
	}
}

func (m *transientBindMap) createBindGroup(
	arena *mem.Arena,
	bindMap *bindMap,
	pool *resourcePool,
	dev *wgpu.Device,
	encoder *wgpu.CommandEncoder,
	layout *wgpu.BindGroupLayout,
	bindings []renderer.ResourceProxy,
) *wgpu.BindGroup {
	for _, proxy := range bindings {
		switch proxy.Kind {
		case renderer.ResourceProxyKindBuffer:
			if _, ok := m.bufs.Get(proxy.BufferProxy.ID); ok {
				continue
			}
			if _, ok := bindMap.bufMap.Get(proxy.BufferProxy.ID); ok {
				continue
			}
			// TODO: only some buffers will need indirect, but does it hurt?
			usage := wgpu.BufferUsageCopySrc |
				wgpu.BufferUsageCopyDst |
				wgpu.BufferUsageStorage |
				wgpu.BufferUsageIndirect
			buf := pool.getBuf(proxy.Size, proxy.Name, usage, dev)
			if _, ok := bindMap.pendingClears.Get(proxy.BufferProxy.ID); ok {
				bindMap.pendingClears.Delete(proxy.BufferProxy.ID)
				encoder.ClearBuffer(buf, 0, buf.Size())
			}
			bindMap.bufMap.Insert(arena, proxy.BufferProxy.ID, &bindMapBuffer{
				Buffer: buf,
				Label:  proxy.Name,
			})
		case renderer.ResourceProxyKindImage:
			// Images only appear as render attachments or as externally
			// provided views; recordings never bind one that doesn't
			// already exist.
			if _, ok := m.images.Get(proxy.ImageProxy.ID); ok {
				continue
			}
			if _, ok := bindMap.imageMap.Get(proxy.ImageProxy.ID); ok {
				continue
			}
			panic(fmt.Sprintf("tried binding image %q before it was created", proxy.Name))
		default:
			panic(fmt.Sprintf("unhandled type %d", proxy.Kind))
		}
	}

	entries := mem.NewSlice[[]wgpu.BindGroupEntry](arena, len(bindings), len(bindings))
	for i, proxy := range bindings {
		switch proxy.Kind {
		case renderer.ResourceProxyKindBuffer:
			var buf *wgpu.Buffer
			b, _ := m.bufs.Get(proxy.BufferProxy.ID)
			switch b.kind {
			case transientBufKindBuffer:
				buf = b.buffer
			default:
				var ok bool
				buf, ok = bindMap.getGPUBuf(proxy.BufferProxy.ID)
				if !ok {
					panic("unexpected ok == false")
				}
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding: uint32(i),
				Buffer:  buf,
				Size:    ^uint64(0),
			}
		case renderer.ResourceProxyKindImage:
			view, ok := m.images.Get(proxy.ImageProxy.ID)
			if !ok {
				img, ok := bindMap.imageMap.Get(proxy.ImageProxy.ID)
				if !ok {
					panic("unexpected ok == false")
				}
				view = img.view
			}
			entries[i] = wgpu.BindGroupEntry{
				Binding:     uint32(i),
				TextureView: view,
				Size:        ^uint64(0),
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", proxy))
		}
	}

	return dev.CreateBindGroup(mem.Make(arena, wgpu.BindGroupDescriptor{
		Layout:  layout,
		Entries: entries,
	}))
}

func (m *transientBindMap) createCPUResources(
	arena *mem.Arena,
	bindMap *bindMap,
	bindings []renderer.ResourceProxy,
) []cpu.CPUBinding {
	for _, resource := range bindings {
		switch resource.Kind {
		case renderer.ResourceProxyKindBuffer:
			tbuf, _ := m.bufs.Get(resource.BufferProxy.ID)
			switch tbuf.kind {
			case transientBufKindBytes:
			case transientBufKindBuffer:
				panic("buffer was already materialized on GPU")
			case 0:
				bindMap.materializeCPUBuf(arena, resource.BufferProxy)
			default:
				panic(fmt.Sprintf("unhandled kind %d", tbuf.kind))
			}
		case renderer.ResourceProxyKindImage:
			panic("images are bound as render attachments, not shader resources")
		default:
			panic(fmt.Sprintf("unhandled type %T", resource))
		}
	}

	out := make([]cpu.CPUBinding, len(bindings))
	for i, resource := range bindings {
		switch resource.Kind {
		case renderer.ResourceProxyKindBuffer:
			tbuf, _ := m.bufs.Get(resource.BufferProxy.ID)
			if tbuf.kind == transientBufKindBytes {
				out[i] = cpu.CPUBuffer(tbuf.bytes)
			} else {
				out[i] = bindMap.getCPUBuf(resource.BufferProxy.ID)
			}
		default:
			panic(fmt.Sprintf("unhandled type %T", resource))
		}
	}
	return out
}
