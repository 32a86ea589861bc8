package texmeta

import (
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/dispatch"
	"github.com/gogpu/texmeta/fastclear"
	"github.com/gogpu/texmeta/format"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

func newScreen(t *testing.T, c caps.Caps) (*Screen, *device.Memory) {
	t.Helper()
	mem := device.NewMemory()
	s, err := NewScreen(mem, WithCaps(c))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mem
}

func params2D(f format.Format, w, h uint32) layout.Params {
	return layout.Params{
		Format: f,
		Size:   gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		Target: layout.Target2D,
	}
}

func createTexture(t *testing.T, s *Screen, desc TextureDesc) *resource.Texture {
	t.Helper()
	tex, err := s.CreateTexture(desc)
	require.NoError(t, err)
	t.Cleanup(tex.Release)
	return tex
}

func auxDwords(mem *device.Memory, tex *resource.Texture, a resource.Aux, off uint64, n int) []uint32 {
	b := tex.Aux(a)
	return mem.ReadDwords(b.Buffer, b.Offset+off, n)
}

func TestNewScreenNilDevice(t *testing.T) {
	_, err := NewScreen(nil)
	assert.ErrorIs(t, err, ErrNilDevice)
}

func TestNewScreenOptions(t *testing.T) {
	mem := device.NewMemory()
	p, err := config.Merge(config.Default(), config.Policy{TooSmallArea: 1})
	require.NoError(t, err)
	s, err := NewScreen(mem, WithCaps(caps.For(caps.GFX10)), WithPolicy(p))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, caps.GFX10, s.Caps().Gen)
	assert.Equal(t, p, s.Policy())
	assert.Same(t, mem, s.Device())
}

func TestCreateTextureScanoutDCC(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256), Bind: resource.BindScanout})

	require.True(t, tex.HasDCC())
	require.True(t, tex.Aux(resource.AuxDisplayDCC).Present())
	require.True(t, tex.Aux(resource.AuxRetileMap).Present())

	dcc := tex.Aux(resource.AuxDCC)
	for _, w := range auxDwords(mem, tex, resource.AuxDCC, 0, int(dcc.Size/4)) {
		require.Equal(t, uint32(fastclear.ClearAllZero), w)
	}
	disp := tex.Aux(resource.AuxDisplayDCC)
	for _, w := range auxDwords(mem, tex, resource.AuxDisplayDCC, 0, int(disp.Size/4)) {
		require.Equal(t, uint32(fastclear.Uncompressed), w)
	}
	assert.Equal(t, []uint32{0, 0, 1, 1, 2, 2}, auxDwords(mem, tex, resource.AuxRetileMap, 0, 6))

	flushes := 0
	for _, cmd := range mem.CommandsOf(device.CmdFlush) {
		if cmd.Sink == "aux" {
			flushes++
		}
	}
	assert.Equal(t, 1, flushes)
}

func TestCreateTextureLegacyMipmappedDCC(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX8))
	p := params2D(format.RGBA8Unorm, 256, 256)
	p.LastLevel = 8
	tex := createTexture(t, s, TextureDesc{Params: p})

	l := tex.Layout()
	require.Equal(t, uint32(3), l.NumDCCLevels)
	cleared := l.Legacy[2].DCCOffset + l.Legacy[2].DCCFastClearSize
	require.Equal(t, uint64(1344), cleared)

	// Levels with DCC are cleared, the rest reads as uncompressed.
	assert.Equal(t, []uint32{0}, auxDwords(mem, tex, resource.AuxDCC, 0, 1))
	assert.Equal(t, []uint32{0}, auxDwords(mem, tex, resource.AuxDCC, cleared-4, 1))
	assert.Equal(t, []uint32{0xFFFFFFFF}, auxDwords(mem, tex, resource.AuxDCC, cleared, 1))
	assert.Equal(t, []uint32{0xFFFFFFFF}, auxDwords(mem, tex, resource.AuxDCC, l.DCC.Size-4, 1))
}

func TestCreateTextureMSAA(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	p := params2D(format.RGBA8Unorm, 256, 256)
	p.Samples = 4
	tex := createTexture(t, s, TextureDesc{Params: p})

	require.True(t, tex.HasFMASK())
	require.True(t, tex.HasCMASK())
	assert.Equal(t, []uint32{0xE4E4E4E4, 0xE4E4E4E4}, auxDwords(mem, tex, resource.AuxFMASK, 0, 2))
	cm := tex.Aux(resource.AuxCMASK)
	assert.Equal(t, []uint32{fastclear.CMASKExpanded}, auxDwords(mem, tex, resource.AuxCMASK, cm.Size-4, 1))
}

func TestCreateTextureHTILE(t *testing.T) {
	tests := []struct {
		name string
		gen  caps.Gen
		want uint32
	}{
		{"expanded", caps.GFX9, fastclear.HTILEInitExpanded},
		{"cleared", caps.GFX8, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newScreen(t, caps.For(tt.gen))
			tex := createTexture(t, s, TextureDesc{Params: params2D(format.Z32Float, 256, 256), Bind: resource.BindDepthStencil})
			require.True(t, tex.HasHTILE())
			h := tex.Aux(resource.AuxHTILE)
			assert.Equal(t, []uint32{tt.want}, auxDwords(mem, tex, resource.AuxHTILE, h.Size-4, 1))
		})
	}
}

func TestCreateTextureFailures(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))

	_, err := s.CreateTexture(TextureDesc{Params: params2D(format.Invalid, 64, 64)})
	assert.ErrorIs(t, err, resource.ErrInvalidLayout)

	mem.FailAllocationsAfter(0)
	_, err = s.CreateTexture(TextureDesc{Params: params2D(format.RGBA8Unorm, 64, 64)})
	assert.ErrorIs(t, err, resource.ErrAllocation)
	assert.Zero(t, mem.Live())

	mem.FailAllocationsAfter(-1)
	require.NoError(t, s.Close())
	_, err = s.CreateTexture(TextureDesc{Params: params2D(format.RGBA8Unorm, 64, 64)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCreatePlanes(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	planes, err := s.CreatePlanes([]TextureDesc{
		{Params: params2D(format.R8Unorm, 128, 128)},
		{Params: params2D(format.RG8Unorm, 64, 64)},
	})
	require.NoError(t, err)
	require.Len(t, planes, 2)
	assert.Equal(t, planes[0].Buffer().ID(), planes[1].Buffer().ID())
	assert.Equal(t, 2, planes[1].Planes())
	assert.False(t, planes[1].IsFirstPlane())

	for _, p := range planes {
		p.Release()
	}
	assert.Zero(t, mem.Live())
}

func TestWithAuxContextSerializes(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tex, err := s.CreateTexture(TextureDesc{Params: params2D(format.RGBA8Unorm, 128, 128)})
			if assert.NoError(t, err) {
				tex.Release()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, mem.Live())

	errBoom := errors.New("boom")
	err := s.WithAuxContext(func(d *dispatch.Dispatcher) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
}

func TestReallocateInPlace(t *testing.T) {
	s, mem := newScreen(t, caps.For(caps.GFX9))
	ctx := s.NewContext("main")
	t.Cleanup(func() { _ = ctx.Close() })
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256)})
	require.False(t, tex.IsLinear())

	off, _, _ := tex.Offset(0, nil)
	seed := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ctx.Dispatcher().ByteWrite(tex.Buffer(), off, seed)
	id, live, dirty := tex.ID(), mem.Live(), s.DirtyTextureCounter()

	ok, err := s.ReallocateInPlace(ctx, tex, resource.BindLinear, false)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, id, tex.ID())
	assert.True(t, tex.IsLinear())
	assert.False(t, tex.HasDCC())
	assert.NotZero(t, tex.Bind&resource.BindLinear)
	assert.Equal(t, dirty+1, s.DirtyTextureCounter())
	assert.Equal(t, live, mem.Live())

	off, _, _ = tex.Offset(0, nil)
	assert.Equal(t, seed, mem.Read(tex.Buffer(), off, uint64(len(seed))))

	// Already linear.
	ok, err = s.ReallocateInPlace(ctx, tex, resource.BindLinear, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReallocateInPlaceSkipsShared(t *testing.T) {
	s, _ := newScreen(t, caps.For(caps.GFX9))
	ctx := s.NewContext("main")
	t.Cleanup(func() { _ = ctx.Close() })
	tex := createTexture(t, s, TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256), Bind: resource.BindShared})

	ok, err := s.ReallocateInPlace(ctx, tex, resource.BindLinear, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, tex.IsLinear())
}

func TestReallocateInPlaceDestroyed(t *testing.T) {
	s, _ := newScreen(t, caps.For(caps.GFX9))
	ctx := s.NewContext("main")
	t.Cleanup(func() { _ = ctx.Close() })
	tex, err := s.CreateTexture(TextureDesc{Params: params2D(format.RGBA8Unorm, 256, 256)})
	require.NoError(t, err)
	tex.Release()

	ok, err := s.ReallocateInPlace(ctx, tex, resource.BindLinear, false)
	assert.ErrorIs(t, err, resource.ErrDestroyed)
	assert.False(t, ok)

	_, err = ctx.ExportHandle(tex, resource.UsageExplicitFlush)
	assert.ErrorIs(t, err, resource.ErrDestroyed)
}
