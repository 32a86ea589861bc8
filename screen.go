package texmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/coherency"
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/dispatch"
	"github.com/gogpu/texmeta/fastclear"
	"github.com/gogpu/texmeta/kernel"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

// Screen errors.
var (
	// ErrNilDevice is returned by NewScreen without a device.
	ErrNilDevice = errors.New("texmeta: nil device")

	// ErrClosed is returned by operations on a closed screen.
	ErrClosed = errors.New("texmeta: screen closed")
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Params layout.Params
	Flags  resource.Flags
	Bind   resource.Bind
	// ExternalUsage is set for textures imported from another process.
	ExternalUsage resource.Usage
}

// Screen is the device-level state shared by every Context: capabilities,
// tuned policy, kernel cache and the aux context used to initialize
// metadata of new textures.
//
// A Screen is safe for concurrent use. The device stays owned by the
// caller and must outlive the screen.
type Screen struct {
	dev     device.Device
	caps    caps.Caps
	policy  config.Policy
	kernels device.KernelProvider
	calc    *layout.Calculator

	// auxMu is held for a whole aux context operation, final flush included.
	auxMu sync.Mutex
	aux   *dispatch.Dispatcher

	dirtyTextures      atomic.Uint32
	compressedTextures atomic.Uint32
	closed             atomic.Bool
}

// NewScreen creates a screen over dev.
func NewScreen(dev device.Device, opts ...ScreenOption) (*Screen, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	o := defaultScreenOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.kernels == nil {
		o.kernels = kernel.NewCache(dev)
	}

	s := &Screen{
		dev:     dev,
		caps:    o.caps,
		policy:  o.policy,
		kernels: o.kernels,
		calc:    layout.NewCalculator(o.caps),
	}
	s.aux = dispatch.New(o.caps, o.policy, dev.NewSink("aux"), o.kernels)
	slogger().Info("texmeta: screen created", "caps", o.caps)
	return s, nil
}

// Caps returns the capability table.
func (s *Screen) Caps() caps.Caps { return s.caps }

// Policy returns the tuned constants.
func (s *Screen) Policy() config.Policy { return s.policy }

// Device returns the device services.
func (s *Screen) Device() device.Device { return s.dev }

// Calculator returns the layout calculator of the screen's generation.
func (s *Screen) Calculator() *layout.Calculator { return s.calc }

// DirtyTextureCounter is bumped whenever a texture changes in a way that
// invalidates state bound by other contexts: storage swaps, HTILE mode
// switches, metadata discards.
func (s *Screen) DirtyTextureCounter() uint32 { return s.dirtyTextures.Load() }

// CompressedColorTextureCounter is bumped whenever a colour texture gains
// compressed contents that must be decompressed before sampling.
func (s *Screen) CompressedColorTextureCounter() uint32 { return s.compressedTextures.Load() }

func (s *Screen) markDirty()      { s.dirtyTextures.Add(1) }
func (s *Screen) markCompressed() { s.compressedTextures.Add(1) }

// WithAuxContext runs fn on the aux dispatcher and flushes it. The aux
// lock is held until the flush returns.
func (s *Screen) WithAuxContext(fn func(d *dispatch.Dispatcher) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.auxMu.Lock()
	defer s.auxMu.Unlock()

	err := fn(s.aux)
	s.aux.EmitPending()
	if ferr := s.aux.Sink().Flush(false); ferr != nil {
		err = errors.Join(err, fmt.Errorf("texmeta: aux flush: %w", ferr))
	}
	return err
}

// CreateTexture lays out and allocates a texture and initializes every
// metadata buffer. On failure nothing stays allocated.
func (s *Screen) CreateTexture(desc TextureDesc) (*resource.Texture, error) {
	ts, err := s.CreatePlanes([]TextureDesc{desc})
	if err != nil {
		return nil, err
	}
	return ts[0], nil
}

// CreatePlanes creates the planes of a multi-plane image in one
// allocation. Creation flags and binding of the first plane apply to all.
func (s *Screen) CreatePlanes(descs []TextureDesc) ([]*resource.Texture, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: no planes", resource.ErrInvalidLayout)
	}
	layouts := make([]layout.Layout, len(descs))
	for i, d := range descs {
		l, err := s.calc.Compute(withBind(d.Params, d.Bind))
		if err != nil {
			return nil, fmt.Errorf("%w: plane %d: %w", resource.ErrInvalidLayout, i, err)
		}
		layouts[i] = l
	}

	flags := descs[0].Flags
	if descs[0].Bind&resource.BindShared != 0 {
		flags |= resource.FlagShared
	}
	ts, err := resource.NewPlanes(s.dev, layouts, flags)
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		t.Bind = descs[0].Bind
		t.ExternalUsage = descs[0].ExternalUsage
	}

	err = s.WithAuxContext(func(d *dispatch.Dispatcher) error {
		for _, t := range ts {
			if err := s.initMetadata(d, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, t := range ts {
			t.Release()
		}
		return nil, err
	}
	slogger().Debug("texmeta: texture created",
		"texture", ts[0].ID(), "format", layouts[0].Format, "planes", len(ts), "mode", layouts[0].Mode)
	return ts, nil
}

// withBind folds binding requests into layout parameters.
func withBind(p layout.Params, bind resource.Bind) layout.Params {
	if bind&resource.BindScanout != 0 {
		p.Flags |= layout.FlagScanout
	}
	if bind&resource.BindShared != 0 {
		p.Flags |= layout.FlagShared
	}
	if bind&resource.BindLinear != 0 {
		p.Hint = layout.HintLinear
	}
	return p
}

// paramsOf recovers the parameters a layout was computed from.
func paramsOf(l *layout.Layout, bind resource.Bind) layout.Params {
	p := layout.Params{
		Format: l.Format,
		Size: gputypes.Extent3D{
			Width:              l.Width,
			Height:             l.Height,
			DepthOrArrayLayers: max(l.Depth, l.Layers),
		},
		Target:    l.Target,
		LastLevel: l.LastLevel,
		Samples:   l.Samples,
	}
	if l.TCCompatibleHTILE {
		p.Flags |= layout.FlagTCCompatibleHTILE
	}
	if l.IsDepth() && l.HTILE.Size == 0 {
		p.Flags |= layout.FlagNoHTILE
	}
	return withBind(p, bind)
}

func dword(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// initMetadata gives every metadata buffer of a new texture its initial
// contents.
func (s *Screen) initMetadata(d *dispatch.Dispatcher, t *resource.Texture) error {
	l := t.Layout()
	fill := func(a resource.Aux, off, size uint64, v uint32) {
		b := t.Aux(a)
		coher := coherency.DomainCBMeta
		if a == resource.AuxHTILE {
			coher = coherency.DomainDBMeta
		}
		d.ClearBuffer(b.Buffer, b.Offset+off, size, dword(v), coher, dispatch.SyncBoth)
	}

	if b := t.Aux(resource.AuxCMASK); b.Present() {
		fill(resource.AuxCMASK, 0, b.Size, fastclear.CMASKExpanded)
	}
	if b := t.Aux(resource.AuxHTILE); b.Present() {
		fill(resource.AuxHTILE, 0, b.Size, fastclear.HTILEInitValue(s.caps, t))
	}
	if b := t.Aux(resource.AuxDCC); b.Present() {
		if l.NumDCCLevels == l.Levels() {
			fill(resource.AuxDCC, 0, b.Size, uint32(fastclear.ClearAllZero))
		} else {
			// Levels without DCC must read as uncompressed.
			fill(resource.AuxDCC, 0, b.Size, uint32(fastclear.Uncompressed))
			for level := range min(l.NumDCCLevels, uint32(len(l.Legacy))) {
				lv := l.Legacy[level]
				if lv.DCCFastClearSize == 0 {
					continue
				}
				_, _, layers := l.LevelExtent(level)
				fill(resource.AuxDCC, lv.DCCOffset, lv.DCCFastClearSize*uint64(layers), uint32(fastclear.ClearAllZero))
			}
		}
	}
	if b := t.Aux(resource.AuxDisplayDCC); b.Present() {
		fill(resource.AuxDisplayDCC, 0, b.Size, uint32(fastclear.Uncompressed))
	}
	if b := t.Aux(resource.AuxRetileMap); b.Present() {
		m := l.RetileMap()
		if uint64(len(m)) > b.Size {
			return fmt.Errorf("%w: retile map of %d bytes exceeds %d", resource.ErrInvalidLayout, len(m), b.Size)
		}
		if len(m) > 0 {
			d.ByteWrite(b.Buffer, b.Offset, m)
		}
	}
	if b := t.Aux(resource.AuxFMASK); b.Present() {
		fill(resource.AuxFMASK, 0, b.Size, dispatch.FMASKIdentity(l.Samples))
	}
	return nil
}

// ReallocateInPlace gives tex fresh storage laid out for bind, copying
// every level through c unless invalidate is set. The handle of tex stays
// valid. It reports false when tex is shared, has several planes or
// already satisfies the request.
func (s *Screen) ReallocateInPlace(c *Context, tex *resource.Texture, bind resource.Bind, invalidate bool) (bool, error) {
	if tex.Destroyed() {
		return false, resource.ErrDestroyed
	}
	if tex.Shared || tex.Planes() > 1 {
		return false, nil
	}
	p := paramsOf(tex.Layout(), tex.Bind|bind)
	if bind&resource.BindLinear != 0 {
		if tex.IsLinear() || s.calc.ChooseMode(p) != layout.ModeLinear {
			return false, nil
		}
	}

	fresh, err := s.CreateTexture(TextureDesc{Params: p, Flags: tex.Flags(), Bind: tex.Bind | bind})
	if err != nil {
		return false, err
	}

	if !invalidate {
		l := tex.Layout()
		c.DecompressColor(tex, 0, l.LastLevel)
		for level := range l.Levels() {
			box := copyBox(l, level)
			c.d.CopyImage(fresh, level, box, tex, level, box)
		}
		// The old storage is released below.
		if err := c.Flush(true); err != nil {
			fresh.Release()
			return false, err
		}
	}
	if fresh.IsLinear() {
		fresh.DiscardCMASK()
		fresh.DiscardDCC()
	}

	tex.SwapStorage(fresh)
	tex.Bind |= bind
	fresh.Release()
	s.markDirty()
	slogger().Debug("texmeta: texture reallocated",
		"texture", tex.ID(), "mode", tex.Layout().Mode, "invalidate", invalidate)
	return true, nil
}

// copyBox returns the box covering a whole level in image kernel terms.
// 1D arrays address layers as rows.
func copyBox(l *layout.Layout, level uint32) layout.Box {
	w, h, n := l.LevelExtent(level)
	if l.Target == layout.Target1DArray {
		return layout.Box{Width: w, Height: n, Depth: 1}
	}
	return layout.Box{Width: w, Height: h, Depth: n}
}

// Close flushes the aux context. Textures and contexts must be released
// first. The device is not closed.
func (s *Screen) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.auxMu.Lock()
	defer s.auxMu.Unlock()
	s.aux.EmitPending()
	if err := s.aux.Sink().Flush(true); err != nil {
		return fmt.Errorf("texmeta: aux flush: %w", err)
	}
	return nil
}
