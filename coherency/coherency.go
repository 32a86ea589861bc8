// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package coherency maps memory-domain transitions to cache flush and
// invalidate operations.
//
// Every function here is pure. Callers merge the returned Flags into the
// pending flags of their command stream and emit them as one barrier.
package coherency

import (
	"fmt"
	"strings"

	"github.com/gogpu/texmeta/caps"
)

// Flags is a set of cache flush, invalidate and wait operations.
type Flags uint32

const (
	FlushAndInvCB Flags = 1 << iota
	FlushAndInvDB
	InvSCache
	InvVCache
	InvL2
	WBL2
	InvL2Metadata
	PSPartialFlush
	CSPartialFlush
	VSPartialFlush
)

var flagNames = [...]string{
	"flush_inv_cb",
	"flush_inv_db",
	"inv_scache",
	"inv_vcache",
	"inv_l2",
	"wb_l2",
	"inv_l2_metadata",
	"ps_partial_flush",
	"cs_partial_flush",
	"vs_partial_flush",
}

// Has reports whether every bit of o is set in f.
func (f Flags) Has(o Flags) bool { return f&o == o }

// String lists the set operations separated by '|'.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var b strings.Builder
	for i, name := range flagNames {
		if f&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	if rest := f &^ (1<<len(flagNames) - 1); rest != 0 {
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%#x", uint32(rest))
	}
	return b.String()
}

// Domain is the client that must observe a write.
type Domain uint8

const (
	DomainNone Domain = iota
	DomainShader
	DomainCBMeta
	DomainDBMeta
	DomainCP
)

// String returns the domain name.
func (d Domain) String() string {
	switch d {
	case DomainNone:
		return "none"
	case DomainShader:
		return "shader"
	case DomainCBMeta:
		return "cb-meta"
	case DomainDBMeta:
		return "db-meta"
	case DomainCP:
		return "cp"
	default:
		return fmt.Sprintf("domain(%d)", uint8(d))
	}
}

// CachePolicy is how a transfer treats L2.
type CachePolicy uint8

const (
	// PolicyBypass skips L2 entirely.
	PolicyBypass CachePolicy = iota
	// PolicyLRU keeps the data in L2.
	PolicyLRU
	// PolicyStream marks the data for early eviction.
	PolicyStream
)

// String returns the policy name.
func (p CachePolicy) String() string {
	switch p {
	case PolicyBypass:
		return "bypass"
	case PolicyLRU:
		return "lru"
	case PolicyStream:
		return "stream"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// DefaultStreamThreshold is the transfer size above which L2 streams.
const DefaultStreamThreshold = 256 << 10

// CachePolicyFor selects how a transfer of size bytes visible to domain
// uses L2.
func CachePolicyFor(c caps.Caps, domain Domain, size, streamThreshold uint64) CachePolicy {
	if c.MetadataL2Bypass && (domain == DomainCBMeta || domain == DomainDBMeta || domain == DomainCP) {
		return PolicyBypass
	}
	if c.ShaderL2Bypass && domain == DomainShader {
		return PolicyBypass
	}
	if size <= streamThreshold {
		return PolicyLRU
	}
	return PolicyStream
}

// FlushFlags returns the operations that make a write visible to domain.
func FlushFlags(domain Domain, policy CachePolicy) Flags {
	switch domain {
	case DomainShader:
		f := InvSCache | InvVCache
		if policy == PolicyBypass {
			f |= InvL2
		}
		return f
	case DomainCBMeta:
		return FlushAndInvCB
	case DomainDBMeta:
		return FlushAndInvDB
	default:
		return 0
	}
}

// CBShaderCoherent returns the operations that make colour buffer writes
// visible to shaders.
func CBShaderCoherent(c caps.Caps, samples uint32, shadersReadMetadata, dccPipeAligned bool) Flags {
	f := FlushAndInvCB | InvVCache
	switch c.CoherencyTier {
	case caps.TierModern:
		if c.TCCRBNonCoherent {
			f |= InvL2
		} else if shadersReadMetadata {
			f |= InvL2Metadata
		}
	case caps.TierMetadataAware:
		// CB and TC are not coherent for MSAA or unaligned metadata.
		if samples >= 2 || (shadersReadMetadata && !dccPipeAligned) {
			f |= InvL2
		} else if shadersReadMetadata {
			f |= InvL2Metadata
		}
	default:
		f |= InvL2
	}
	return f
}

// DBShaderCoherent returns the operations that make depth buffer writes
// visible to shaders.
func DBShaderCoherent(c caps.Caps, samples uint32, includeStencil, shadersReadMetadata bool) Flags {
	f := FlushAndInvDB | InvVCache
	switch c.CoherencyTier {
	case caps.TierModern:
		if c.TCCRBNonCoherent {
			f |= InvL2
		} else if shadersReadMetadata {
			f |= InvL2Metadata
		}
	case caps.TierMetadataAware:
		// Stencil and MSAA depth are not coherent with TC.
		if samples >= 2 || includeStencil {
			f |= InvL2
		} else if shadersReadMetadata {
			f |= InvL2Metadata
		}
	default:
		f |= InvL2
	}
	return f
}

// Request describes a write that another client must observe.
type Request struct {
	Domain Domain
	Size   uint64
}

// Resolve returns the cache policy and flush operations for r.
func Resolve(c caps.Caps, r Request, streamThreshold uint64) (CachePolicy, Flags) {
	p := CachePolicyFor(c, r.Domain, r.Size, streamThreshold)
	return p, FlushFlags(r.Domain, p)
}
