/*
DESCRIPTION
  simdriver_test.go tests the simulated driver: completion cadence and slot
  order, allocation accounting, fault injection and the fill gate.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package simdriver

import (
	"errors"
	"testing"
	"time"

	"github.com/ausocean/cam/driver"
)

const (
	testWidth    = 16
	testHeight   = 4
	testBitDepth = 8
	testInterval = 5 * time.Millisecond
)

// newTestSequence allocates n blocks from the driver and wraps them in a
// continuous sequence descriptor.
func newTestSequence(t *testing.T, s *Simulated, n int) driver.Sequence {
	geo := driver.Geometry{
		Width:    testWidth,
		Height:   testHeight,
		BitDepth: testBitDepth,
		Pitch:    driver.Pitch(testWidth, testBitDepth),
	}
	seq := driver.Sequence{Geometry: geo, Continuous: true}
	for i := 0; i < n; i++ {
		b, err := s.Allocate(testWidth, testHeight, testBitDepth)
		if err != nil {
			t.Fatalf("could not allocate block %d: %v", i, err)
		}
		seq.Slots = append(seq.Slots, driver.Slot{ID: i + 1, Block: b})
	}
	return seq
}

func TestCompletionOrder(t *testing.T) {
	s := New((*testLogger)(t), WithFrameInterval(testInterval))
	seq := newTestSequence(t, s, 3)

	err := s.Start(seq)
	if err != nil {
		t.Fatalf("could not start driver: %v", err)
	}

	// Completions cycle the slots in order, each fill bumping the pattern.
	for i := 0; i < 5; i++ {
		comp, err := s.PollCompletion(time.Second)
		if err != nil {
			t.Fatalf("could not poll completion %d: %v", i, err)
		}
		want := i % len(seq.Slots)
		if comp.Slot != want {
			t.Errorf("unexpected slot for completion %d, want: %d, got: %d", i, want, comp.Slot)
		}
		if v := seq.Slots[comp.Slot].Block.Data[0]; v != byte(i+1) {
			t.Errorf("unexpected fill pattern for completion %d, want: %d, got: %d", i, i+1, v)
		}
	}

	err = s.Stop()
	if err != nil {
		t.Fatalf("could not stop driver: %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	s := New((*testLogger)(t), WithFrameInterval(time.Second))
	seq := newTestSequence(t, s, 1)

	err := s.Start(seq)
	if err != nil {
		t.Fatalf("could not start driver: %v", err)
	}

	// The first frame is a second away; a short poll must time out.
	start := time.Now()
	_, err = s.PollCompletion(20 * time.Millisecond)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("did not get expected error, got: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("poll blocked well past its timeout")
	}
}

func TestSingleShotExhausts(t *testing.T) {
	s := New((*testLogger)(t), WithFrameInterval(testInterval))
	seq := newTestSequence(t, s, 2)
	seq.Continuous = false

	err := s.Start(seq)
	if err != nil {
		t.Fatalf("could not start driver: %v", err)
	}

	_, err = s.PollCompletion(time.Second)
	if err != nil {
		t.Fatalf("could not poll completion: %v", err)
	}
	_, err = s.PollCompletion(3 * testInterval)
	if !errors.Is(err, driver.ErrTimeout) {
		t.Errorf("did not get expected error after single shot, got: %v", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	frame := driver.Pitch(testWidth, testBitDepth) * testHeight
	s := New((*testLogger)(t), WithMemoryLimit(frame))

	b, err := s.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Fatalf("could not allocate first block: %v", err)
	}
	_, err = s.Allocate(testWidth, testHeight, testBitDepth)
	if err == nil {
		t.Fatal("expected allocation over limit to fail")
	}
	if code, _ := s.LastError(); code != codeOutOfMemory {
		t.Errorf("unexpected error code, want: %d, got: %d", codeOutOfMemory, code)
	}

	// Releasing makes room again.
	err = s.Release(b)
	if err != nil {
		t.Fatalf("could not release block: %v", err)
	}
	_, err = s.Allocate(testWidth, testHeight, testBitDepth)
	if err != nil {
		t.Errorf("could not allocate after release: %v", err)
	}
}

func TestOutstanding(t *testing.T) {
	s := New((*testLogger)(t))
	seq := newTestSequence(t, s, 3)
	if n := s.Outstanding(); n != 3 {
		t.Fatalf("unexpected outstanding count, want: 3, got: %d", n)
	}
	for _, slot := range seq.Slots {
		err := s.Release(slot.Block)
		if err != nil {
			t.Fatalf("could not release block: %v", err)
		}
	}
	if n := s.Outstanding(); n != 0 {
		t.Errorf("unexpected outstanding count, want: 0, got: %d", n)
	}
}

func TestStartFaults(t *testing.T) {
	const (
		code = 9
		text = "camera disconnected"
	)
	s := New((*testLogger)(t), FailStart(code, text))
	seq := newTestSequence(t, s, 1)

	err := s.Start(seq)
	var derr *driver.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected driver error, got: %v", err)
	}
	if derr.Code != code || derr.Text != text {
		t.Errorf("unexpected driver error, want: (%d,%s), got: (%d,%s)", code, text, derr.Code, derr.Text)
	}
	gotCode, gotText := s.LastError()
	if gotCode != code || gotText != text {
		t.Errorf("unexpected last error, want: (%d,%s), got: (%d,%s)", code, text, gotCode, gotText)
	}
}

func TestStartEmptySequence(t *testing.T) {
	s := New((*testLogger)(t))
	err := s.Start(driver.Sequence{})
	var derr *driver.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected driver error, got: %v", err)
	}
	if derr.Code != codeNoActiveMemory {
		t.Errorf("unexpected error code, want: %d, got: %d", codeNoActiveMemory, derr.Code)
	}
}

func TestStartWhileRunning(t *testing.T) {
	s := New((*testLogger)(t), WithFrameInterval(testInterval))
	seq := newTestSequence(t, s, 1)

	err := s.Start(seq)
	if err != nil {
		t.Fatalf("could not start driver: %v", err)
	}
	err = s.Start(seq)
	var derr *driver.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected driver error, got: %v", err)
	}
	if derr.Code != codeCaptureRunning {
		t.Errorf("unexpected error code, want: %d, got: %d", codeCaptureRunning, derr.Code)
	}
}

func TestFillGate(t *testing.T) {
	s := New((*testLogger)(t), WithFrameInterval(testInterval))
	seq := newTestSequence(t, s, 2)

	// The gate refuses slot 0; its completion is still reported but its
	// memory must stay untouched.
	seq.Fill = func(slot int, write func()) bool {
		if slot == 0 {
			return false
		}
		write()
		return true
	}

	err := s.Start(seq)
	if err != nil {
		t.Fatalf("could not start driver: %v", err)
	}

	comp, err := s.PollCompletion(time.Second)
	if err != nil {
		t.Fatalf("could not poll completion: %v", err)
	}
	if comp.Slot != 0 {
		t.Fatalf("unexpected slot, want: 0, got: %d", comp.Slot)
	}
	for i, v := range seq.Slots[0].Block.Data {
		if v != 0 {
			t.Fatalf("unwritable slot written at byte %d", i)
		}
	}

	comp, err = s.PollCompletion(time.Second)
	if err != nil {
		t.Fatalf("could not poll completion: %v", err)
	}
	if comp.Slot != 1 {
		t.Fatalf("unexpected slot, want: 1, got: %d", comp.Slot)
	}
	if seq.Slots[1].Block.Data[0] == 0 {
		t.Error("writable slot not written")
	}
}
