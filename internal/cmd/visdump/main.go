// Copyright 2026 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Command visdump renders a TOML scene description on the CPU and writes
// the visibility buffer as false-color and depth PNGs. It exists to look
// at frames without a GPU in the loop, and with -check it renders the
// scene under both strategies and verifies they resolve the same words.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	xdraw "golang.org/x/image/draw"
	"honnef.co/go/visbuf"
	"honnef.co/go/visbuf/encoding"
	"honnef.co/go/visbuf/engine/wgpu_engine"
	"honnef.co/go/visbuf/gfx"
	"honnef.co/go/visbuf/renderer"
	"honnef.co/go/visbuf/vmath"
)

func main() {
	var (
		scene   string
		out     string
		depth   string
		scale   int
		check   bool
		verbose bool
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-scale n] [-check] [-depth <file>] -scene <file> -out <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&scene, "scene", "", "Path to TOML scene `file`")
	flag.StringVar(&out, "out", "visbuf.png", "Path to false-color output `file`")
	flag.StringVar(&depth, "depth", "", "Also write the depth buffer to `file`")
	flag.IntVar(&scale, "scale", 1, "Upscale outputs by an integer `factor`")
	flag.BoolVar(&check, "check", false, "Render under both strategies and compare")
	flag.BoolVar(&verbose, "v", false, "Be verbose")
	flag.Parse()

	logger := log.New(os.Stderr)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if scene == "" || len(flag.Args()) != 0 {
		flag.Usage()
		os.Exit(2)
	}

	src, err := os.ReadFile(scene)
	if err != nil {
		logger.Fatal("couldn't read scene", "err", err)
	}
	var file sceneFile
	if err := toml.Unmarshal(src, &file); err != nil {
		logger.Fatal("couldn't parse scene", "err", err)
	}
	enc, params, err := buildScene(&file)
	if err != nil {
		logger.Fatal("couldn't build scene", "err", err)
	}
	logger.Debug("built scene",
		"clusters", len(enc.Clusters),
		"instances", len(enc.Instances),
		"strategy", params.Strategy)

	r := visbuf.New(nil, &wgpu_engine.RendererOptions{UseCPU: true, Logger: logger})
	img, stats, err := r.Render(nil, enc, params)
	if err != nil {
		logger.Fatal("couldn't render", "err", err)
	}
	logger.Info("rendered",
		"size", fmt.Sprintf("%dx%d", img.Width, img.Height),
		"triangles", stats.SoupTriangles,
		"overflow", stats.SoupOverflow)

	if check {
		other := *params
		if params.Strategy == renderer.StrategySoftwareAtomic {
			other.Strategy = renderer.StrategyHardwareDepth
		} else {
			other.Strategy = renderer.StrategySoftwareAtomic
		}
		img2, _, err := r.Render(nil, enc, &other)
		if err != nil {
			logger.Fatal("couldn't render", "strategy", other.Strategy, "err", err)
		}
		if !slices.Equal(img.Words, img2.Words) {
			n := 0
			for i := range img.Words {
				if img.Words[i] != img2.Words[i] {
					n++
				}
			}
			logger.Fatal("strategies disagree", "pixels", n)
		}
		logger.Info("strategies agree", "words", len(img.Words))
	}

	if err := writePNG(out, gfx.DebugRGBA(img), scale); err != nil {
		logger.Fatal("couldn't write output", "err", err)
	}
	logger.Info("wrote false-color dump", "file", out)
	if depth != "" {
		if err := writePNG(depth, gfx.DepthImage(img), scale); err != nil {
			logger.Fatal("couldn't write depth output", "err", err)
		}
		logger.Info("wrote depth dump", "file", depth)
	}
}

type sceneFile struct {
	Width        uint32        `toml:"width"`
	Height       uint32        `toml:"height"`
	Strategy     string        `toml:"strategy"`
	SoupCapacity uint32        `toml:"soup_capacity"`
	Camera       *cameraDef    `toml:"camera"`
	Meshes       []meshDef     `toml:"meshes"`
	Instances    []instanceDef `toml:"instances"`
}

type cameraDef struct {
	Eye    [3]float32 `toml:"eye"`
	Center [3]float32 `toml:"center"`
	Up     [3]float32 `toml:"up"`
	// Vertical field of view in degrees. Defaults to 60.
	Fov  float32 `toml:"fov"`
	Near float32 `toml:"near"`
	Far  float32 `toml:"far"`
}

type meshDef struct {
	Name      string       `toml:"name"`
	Positions [][3]float32 `toml:"positions"`
	Triangles [][3]uint32  `toml:"triangles"`
}

type instanceDef struct {
	Mesh      string     `toml:"mesh"`
	Translate [3]float32 `toml:"translate"`
	// Rotation around Y in degrees.
	RotateY float32 `toml:"rotate_y"`
	// Uniform scale. Zero means 1.
	Scale float32 `toml:"scale"`
}

func buildScene(file *sceneFile) (*encoding.Encoding, *renderer.RenderParams, error) {
	if file.Width == 0 || file.Height == 0 {
		return nil, nil, fmt.Errorf("scene needs a nonzero width and height")
	}
	params := &renderer.RenderParams{
		Width:        file.Width,
		Height:       file.Height,
		Camera:       cameraMatrix(file.Camera, float32(file.Width)/float32(file.Height)),
		SoupCapacity: file.SoupCapacity,
	}
	switch file.Strategy {
	case "", "software":
		params.Strategy = renderer.StrategySoftwareAtomic
	case "hardware":
		params.Strategy = renderer.StrategyHardwareDepth
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", file.Strategy)
	}

	enc := &encoding.Encoding{}
	meshes := make(map[string]encoding.Mesh, len(file.Meshes))
	for _, m := range file.Meshes {
		if _, ok := meshes[m.Name]; ok {
			return nil, nil, fmt.Errorf("duplicate mesh %q", m.Name)
		}
		positions := make([]encoding.Position, len(m.Positions))
		for i, p := range m.Positions {
			positions[i] = encoding.Position{X: p[0], Y: p[1], Z: p[2]}
		}
		indices := make([]uint32, 0, len(m.Triangles)*3)
		for _, tri := range m.Triangles {
			indices = append(indices, tri[0], tri[1], tri[2])
		}
		mesh, err := enc.EncodeMesh(positions, indices)
		if err != nil {
			return nil, nil, fmt.Errorf("mesh %q: %w", m.Name, err)
		}
		meshes[m.Name] = mesh
	}
	for i, inst := range file.Instances {
		mesh, ok := meshes[inst.Mesh]
		if !ok {
			return nil, nil, fmt.Errorf("instance %d references unknown mesh %q", i, inst.Mesh)
		}
		enc.EncodeInstance(mesh, instanceWorld(&inst))
	}
	return enc, params, nil
}

func cameraMatrix(c *cameraDef, aspect float32) vmath.Mat4 {
	if c == nil {
		return vmath.Identity
	}
	up := vmath.Vec3{X: c.Up[0], Y: c.Up[1], Z: c.Up[2]}
	if up == (vmath.Vec3{}) {
		up = vmath.Vec3{Y: 1}
	}
	fov, near, far := c.Fov, c.Near, c.Far
	if fov == 0 {
		fov = 60
	}
	if near == 0 {
		near = 0.1
	}
	if far == 0 {
		far = 100
	}
	view := vmath.LookAt(
		vmath.Vec3{X: c.Eye[0], Y: c.Eye[1], Z: c.Eye[2]},
		vmath.Vec3{X: c.Center[0], Y: c.Center[1], Z: c.Center[2]},
		up,
	)
	proj := vmath.Perspective(fov*math.Pi/180, aspect, near, far)
	return proj.Mul(view)
}

func instanceWorld(inst *instanceDef) vmath.Mat4 {
	scale := inst.Scale
	if scale == 0 {
		scale = 1
	}
	world := vmath.Translate(inst.Translate[0], inst.Translate[1], inst.Translate[2])
	if inst.RotateY != 0 {
		world = world.Mul(vmath.RotateY(inst.RotateY * math.Pi / 180))
	}
	if scale != 1 {
		world = world.Mul(vmath.Scale(scale, scale, scale))
	}
	return world
}

func writePNG(path string, img image.Image, scale int) error {
	if scale > 1 {
		b := img.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0666)
}
