// Package soc provides the register level hardware abstraction used by the
// drivers in this module.
//
// Registers are accessed through a [Bus], which on the target is plain MMIO
// (see [MMIO], only available with GOOS=noos) and on the host is usually a
// simulated peripheral. Drivers describe their register block as a set of
// typed [R32] registers so that protocol code works with named bit fields
// instead of shifts and masks.
//
// All register accesses are unsynchronized. A register block must be owned
// by a single goroutine.
package soc
