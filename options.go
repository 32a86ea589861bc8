package texmeta

import (
	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
)

// ScreenOption configures a Screen during creation.
//
// Example:
//
//	// GFX9 defaults
//	s, err := texmeta.NewScreen(dev)
//
//	// An APU with tuned thresholds from a file
//	p, _ := config.Load("texmeta.toml")
//	s, err := texmeta.NewScreen(dev,
//	    texmeta.WithCaps(caps.For(caps.GFX10).APU()),
//	    texmeta.WithPolicy(p))
type ScreenOption func(*screenOptions)

// screenOptions holds optional configuration for Screen creation.
type screenOptions struct {
	caps    caps.Caps
	policy  config.Policy
	kernels device.KernelProvider
}

// defaultScreenOptions returns the default screen options.
func defaultScreenOptions() screenOptions {
	return screenOptions{
		caps:    caps.For(caps.GFX9),
		policy:  config.Default(),
		kernels: nil, // kernel.NewCache over the device
	}
}

// WithCaps sets the capability table the screen decides with.
func WithCaps(c caps.Caps) ScreenOption {
	return func(o *screenOptions) {
		o.caps = c
	}
}

// WithPolicy replaces the tuned constants. Use config.Merge to override
// only some of them.
func WithPolicy(p config.Policy) ScreenOption {
	return func(o *screenOptions) {
		o.policy = p
	}
}

// WithKernelProvider sets where compute kernels come from. By default
// they are compiled by the device on first use and cached.
func WithKernelProvider(k device.KernelProvider) ScreenOption {
	return func(o *screenOptions) {
		o.kernels = k
	}
}
