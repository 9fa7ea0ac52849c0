/*
DESCRIPTION
  pool_test.go tests buffer pool allocation, geometry handling, external
  memory binding, copying and freeing.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package capture

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ausocean/cam/driver"
	"github.com/ausocean/cam/driver/simdriver"
	"github.com/google/go-cmp/cmp"
)

// Test geometry used throughout; 64 pixels at 8 bits needs no pitch padding.
const (
	testWidth    = 64
	testHeight   = 48
	testBitDepth = 8
)

func newTestPool(t *testing.T, opts ...simdriver.Option) (*Pool, *simdriver.Simulated) {
	l := (*testLogger)(t)
	drv := simdriver.New(l, opts...)
	p, err := NewPool(drv, testWidth, testHeight, testBitDepth, l)
	if err != nil {
		t.Fatalf("could not create pool: %v", err)
	}
	return p, drv
}

func TestNewPoolInvalidGeometry(t *testing.T) {
	l := (*testLogger)(t)
	drv := simdriver.New(l)

	tests := []struct {
		width, height, bitDepth int
	}{
		{0, 48, 8},
		{64, 0, 8},
		{-64, 48, 8},
		{64, -48, 8},
		{64, 48, 7},
		{64, 48, 0},
		{64, 48, 64},
	}

	for i, test := range tests {
		_, err := NewPool(drv, test.width, test.height, test.bitDepth, l)
		if !errors.Is(err, ErrGeometryInvalid) {
			t.Errorf("did not get expected error for test %d, got: %v", i, err)
		}
	}
}

func TestAllocateAndPitch(t *testing.T) {
	p, _ := newTestPool(t)

	id, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate buffer: %v", err)
	}

	x, y, bits, pitch, err := p.Pitch(id)
	if err != nil {
		t.Fatalf("could not get buffer pitch: %v", err)
	}

	got := driver.Geometry{Width: x, Height: y, BitDepth: bits, Pitch: pitch}
	want := driver.Geometry{Width: testWidth, Height: testHeight, BitDepth: testBitDepth, Pitch: testWidth}
	if !cmp.Equal(got, want) {
		t.Errorf("geometries not equal\nwant: %v\ngot: %v", want, got)
	}

	state, err := p.State(id)
	if err != nil {
		t.Fatalf("could not get buffer state: %v", err)
	}
	if state != Free {
		t.Errorf("unexpected state, want: %v, got: %v", Free, state)
	}
}

func TestPitchAlignment(t *testing.T) {
	l := (*testLogger)(t)
	drv := simdriver.New(l)

	// 63 pixels at 8 bits is a 63 byte row, which pads out to 64.
	p, err := NewPool(drv, 63, testHeight, testBitDepth, l)
	if err != nil {
		t.Fatalf("could not create pool: %v", err)
	}
	if p.Geometry().Pitch != 64 {
		t.Errorf("unexpected pitch, want: 64, got: %d", p.Geometry().Pitch)
	}
}

func TestAllocateGeometryMismatch(t *testing.T) {
	p, _ := newTestPool(t)
	_, err := p.Allocate(32, testHeight, testBitDepth)
	if !errors.Is(err, ErrGeometryMismatch) {
		t.Errorf("did not get expected error, got: %v", err)
	}
}

func TestAllocateMemoryExhausted(t *testing.T) {
	frame := testWidth * testHeight
	p, _ := newTestPool(t, simdriver.WithMemoryLimit(frame))

	_, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate first buffer: %v", err)
	}
	_, err = p.Allocate(testWidth, testHeight, testBitDepth)
	if !errors.Is(err, ErrAllocationFailed) {
		t.Errorf("did not get expected error, got: %v", err)
	}
}

func TestCopy(t *testing.T) {
	p, _ := newTestPool(t)

	src, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate src buffer: %v", err)
	}
	dst, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate dst buffer: %v", err)
	}

	sb, err := p.buffer(src)
	if err != nil {
		t.Fatalf("could not get src buffer: %v", err)
	}
	db, err := p.buffer(dst)
	if err != nil {
		t.Fatalf("could not get dst buffer: %v", err)
	}
	for i := range sb.block.Data {
		sb.block.Data[i] = byte(i)
	}

	err = p.Copy(src, dst, 0)
	if err != nil {
		t.Fatalf("could not copy full frame: %v", err)
	}
	if !bytes.Equal(db.block.Data, sb.block.Data) {
		t.Error("full frame copy did not copy all data")
	}

	// A partial copy must leave rows past the line count untouched.
	for i := range db.block.Data {
		db.block.Data[i] = 0
	}
	const lines = 2
	err = p.Copy(src, dst, lines)
	if err != nil {
		t.Fatalf("could not copy %d lines: %v", lines, err)
	}
	n := lines * p.Geometry().Pitch
	if !bytes.Equal(db.block.Data[:n], sb.block.Data[:n]) {
		t.Errorf("%d line copy did not copy data", lines)
	}
	for i := n; i < len(db.block.Data); i++ {
		if db.block.Data[i] != 0 {
			t.Errorf("%d line copy wrote past line %d", lines, lines)
			break
		}
	}
}

func TestCopyInvalidLines(t *testing.T) {
	p, _ := newTestPool(t)
	src, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate src buffer: %v", err)
	}
	dst, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate dst buffer: %v", err)
	}

	for _, lines := range []int{-1, testHeight + 1} {
		err := p.Copy(src, dst, lines)
		if !errors.Is(err, ErrGeometryInvalid) {
			t.Errorf("did not get expected error for %d lines, got: %v", lines, err)
		}
	}

	err = p.Copy(src, BufferID(100), 0)
	if !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("did not get expected error for unknown dst, got: %v", err)
	}
}

func TestBindExternal(t *testing.T) {
	p, drv := newTestPool(t)

	mem := make([]byte, p.Geometry().Size())
	id, err := p.BindExternal(testWidth, testHeight, testBitDepth, mem)
	if err != nil {
		t.Fatalf("could not bind external memory: %v", err)
	}

	// Freeing an externally bound buffer must not touch driver accounting.
	err = p.Free(id)
	if err != nil {
		t.Fatalf("could not free external buffer: %v", err)
	}
	if n := drv.Outstanding(); n != 0 {
		t.Errorf("unexpected outstanding driver allocations, want: 0, got: %d", n)
	}

	_, err = p.BindExternal(testWidth, testHeight, testBitDepth, mem[:len(mem)-1])
	if !errors.Is(err, ErrGeometryInvalid) {
		t.Errorf("did not get expected error for short memory, got: %v", err)
	}
}

func TestFreeAndClose(t *testing.T) {
	p, drv := newTestPool(t)

	for i := 0; i < 3; i++ {
		_, err := p.Allocate(testWidth, testHeight, testBitDepth)
		if err != nil {
			t.Fatalf("could not allocate buffer %d: %v", i, err)
		}
	}

	err := p.Free(BufferID(100))
	if !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("did not get expected error for unknown buffer, got: %v", err)
	}

	err = p.Close()
	if err != nil {
		t.Fatalf("could not close pool: %v", err)
	}
	if n := drv.Outstanding(); n != 0 {
		t.Errorf("unexpected outstanding driver allocations, want: 0, got: %d", n)
	}
}

func TestIDsNotReused(t *testing.T) {
	p, _ := newTestPool(t)

	first, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate buffer: %v", err)
	}
	err = p.Free(first)
	if err != nil {
		t.Fatalf("could not free buffer: %v", err)
	}

	second, err := p.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate buffer: %v", err)
	}
	if second <= first {
		t.Errorf("buffer id reused, first: %d, second: %d", first, second)
	}
}
