// Command texinfo lays out a texture, creates it on a device backend and
// reports its metadata buffers and how a clear of it would be performed.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texmeta"
	"github.com/gogpu/texmeta/backend"
	"github.com/gogpu/texmeta/backend/halgpu"
	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/fastclear"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

func main() {
	var (
		backendName = flag.String("backend", "", "device backend (default: best available)")
		gen         = flag.String("gen", "gfx9", "hardware generation")
		apu         = flag.Bool("apu", false, "part without dedicated VRAM")
		configPath  = flag.String("config", "", "TOML or YAML policy override")
		formatName  = flag.String("format", "rgba8_unorm", "pixel format")
		width       = flag.Uint("width", 1920, "width in pixels")
		height      = flag.Uint("height", 1080, "height in pixels")
		levels      = flag.Uint("levels", 1, "mip level count")
		samples     = flag.Uint("samples", 1, "sample count")
		scanout     = flag.Bool("scanout", false, "displayable surface")
		clearColor  = flag.String("clear", "0,0,0,1", "clear colour as r,g,b,a floats")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	texmeta.RegisterLoggerSetter(halgpu.SetLogger)
	if *verbose {
		texmeta.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	c, err := parseGen(*gen)
	if err != nil {
		log.Fatal(err)
	}
	if *apu {
		c = c.APU()
	}
	policy := config.Default()
	if *configPath != "" {
		if policy, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load policy: %v", err)
		}
	}
	f, err := parseFormat(*formatName)
	if err != nil {
		log.Fatal(err)
	}
	color, err := parseColor(*clearColor)
	if err != nil {
		log.Fatal(err)
	}

	dev, name, err := openDevice(*backendName)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer dev.Close()

	s, err := texmeta.NewScreen(dev, texmeta.WithCaps(c), texmeta.WithPolicy(policy))
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	desc := texmeta.TextureDesc{Params: layout.Params{
		Format:    f,
		Size:      gputypes.Extent3D{Width: uint32(*width), Height: uint32(*height), DepthOrArrayLayers: 1},
		Target:    layout.Target2D,
		LastLevel: uint32(max(*levels, 1) - 1),
		Samples:   uint32(*samples),
	}}
	if *scanout {
		desc.Bind |= resource.BindScanout
	}
	tex, err := s.CreateTexture(desc)
	if err != nil {
		log.Fatalf("Failed to create texture: %v", err)
	}
	defer tex.Release()

	printLayout(name, c, tex)

	if !f.IsDepthOrStencil() {
		ctx := s.NewContext("texinfo")
		defer ctx.Close()
		target := fastclear.ColorTarget{Texture: tex, LastLayer: tex.Layout().MaxLayer(0)}
		d := ctx.ClearColor([]fastclear.ColorTarget{target}, color)[0]
		fmt.Printf("clear %v: method=%s reason=%s code=%s eliminate=%t\n",
			color.Bits, d.Method, d.Reason, d.Code, d.EliminateNeeded)
		if err := ctx.FlushResource(tex); err != nil {
			log.Printf("flush resource: %v", err)
		}
		if err := ctx.Flush(true); err != nil {
			log.Fatalf("Failed to flush: %v", err)
		}
	}
}

func openDevice(name string) (device.Device, string, error) {
	if name == "" {
		return backend.Default()
	}
	dev, err := backend.Open(name)
	return dev, name, err
}

func printLayout(backendName string, c caps.Caps, tex *resource.Texture) {
	l := tex.Layout()
	fmt.Printf("backend=%s caps=%s\n", backendName, c)
	fmt.Printf("%s %dx%d levels=%d samples=%d mode=%s bpe=%d total=%d\n",
		l.Format, l.Width, l.Height, l.Levels(), l.Samples, l.Mode, l.Bpe, l.TotalSize)

	regions := l.Regions()
	names := make([]string, 0, len(regions))
	for n := range regions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		r := regions[n]
		fmt.Printf("  %-12s offset=%-10d size=%d\n", n, r.Offset, r.Size)
	}
	if l.DCC.Size != 0 {
		fmt.Printf("  dcc levels=%d\n", l.NumDCCLevels)
	}
}

func parseGen(s string) (caps.Caps, error) {
	for g := caps.GFX6; g <= caps.GFX11; g++ {
		if strings.EqualFold(g.String(), s) {
			return caps.For(g), nil
		}
	}
	return caps.Caps{}, fmt.Errorf("unknown generation %q", s)
}

func parseFormat(s string) (format.Format, error) {
	for f := format.Invalid + 1; f.Valid(); f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return format.Invalid, fmt.Errorf("unknown format %q", s)
}

func parseColor(s string) (format.ClearColor, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return format.ClearColor{}, fmt.Errorf("clear colour needs 4 components, got %q", s)
	}
	var v [4]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return format.ClearColor{}, fmt.Errorf("clear colour: %w", err)
		}
		v[i] = float32(f)
	}
	return format.Float(v[0], v[1], v[2], v[3]), nil
}
