package vm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Fiber & Scheduler Integration: cooperative, single-OS-thread
// concurrency. Each fiber gets its own operand stack, ip, and frame
// stack, generalizing the teacher's device goroutines (devices.go's
// systemTimer/consoleIO each run as a goroutine synchronized over a
// channel) into a cooperative scheduler: a fiber is a goroutine blocked
// on its own rendezvous channel until swapcontext hands it control.
//
// The scheduler bounds how many fibers may be runnable (as opposed to
// merely alive) at once with golang.org/x/sync/semaphore, keeping the
// "single OS thread worth of concurrency" guarantee explicit rather than
// relying on goroutines happening not to race.

// Fiber is a lightweight, cooperatively scheduled stack: its own operand
// stack and instruction pointer, per the fiber definition above.
type Fiber struct {
	id               int32
	vm               *VM
	stack            *OperandStack
	frames           []*Frame
	ip               int
	code             []Instruction
	pendingException *Exception
	lastCaught       *Exception
	lastLeaveResult  []byte

	// turn is the rendezvous channel this fiber's goroutine blocks on
	// between swaps. A swap into this fiber sends a value; a swap out of
	// it blocks on turn again. Buffered at 1 so the sender never blocks
	// waiting for the receiver to be parked yet.
	turn   chan struct{}
	caller *Fiber // the fiber that last swapped into this one
	done   bool
}

// Scheduler owns the fiber set and the run token.
type Scheduler struct {
	sem     *semaphore.Weighted
	fibers  []*Fiber
	current *Fiber
	nextID  int32
}

// NewScheduler builds a scheduler allowing at most maxRunnable fibers to
// hold the run token concurrently. The concurrency model is strictly
// cooperative (one fiber runs at a time); maxRunnable exists so
// a host embedding multiple independent VM instances can still cap total
// fan-out, not to allow true parallel bytecode execution.
func NewScheduler(maxRunnable int64) *Scheduler {
	return &Scheduler{sem: semaphore.NewWeighted(maxRunnable)}
}

// Stats reports live fiber count and queue depth, surfaced by the eval
// CLI's --trace output (an ambient observability addition, not a new
// scheduling guarantee).
type SchedulerStats struct {
	LiveFibers int
	QueueDepth int
}

func (s *Scheduler) Stats() SchedulerStats {
	live, queued := 0, 0
	for _, f := range s.fibers {
		if !f.done {
			live++
			if f != s.current {
				queued++
			}
		}
	}
	return SchedulerStats{LiveFibers: live, QueueDepth: queued}
}

func (s *Scheduler) spawn(vm *VM, def *CompiledDef) *Fiber {
	f := &Fiber{
		id:    s.nextID,
		vm:    vm,
		stack: NewOperandStack(vm.config.InitialStackSize),
		code:  def.Bytecode,
		turn:  make(chan struct{}, 1),
	}
	s.nextID++
	s.fibers = append(s.fibers, f)
	return f
}

// InterpreterSpawn implements interpreter_spawn: creates the fiber itself
// (the opcode passes no fiber in) and starts a new goroutine parked on its
// turn channel, running def the first time the scheduler swaps into it.
func (s *Scheduler) InterpreterSpawn(vm *VM, def *CompiledDef) (*Fiber, error) {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	f := s.spawn(vm, def)
	go func() {
		defer s.sem.Release(1)
		<-f.turn
		vm.logger.Sugar().Infow("fiber started", "fiber", f.id, "def", def.Name)
		if err := vm.enterFrame(f, def, nil); err != nil {
			vm.logger.Sugar().Warnw("fiber failed to enter its first frame", "fiber", f.id, "err", err)
			f.done = true
			s.current = s.callerOf(f)
			s.callerOf(f).turn <- struct{}{}
			return
		}
		err := vm.runFiber(f)
		if err != nil {
			vm.logger.Sugar().Warnw("fiber exited with error", "fiber", f.id, "err", err)
		}
		f.done = true
		s.current = s.callerOf(f)
		s.callerOf(f).turn <- struct{}{}
	}()
	return f, nil
}

// InterpreterCurrentFiber implements interpreter_current_fiber.
func (s *Scheduler) InterpreterCurrentFiber() *Fiber {
	return s.current
}

// callerOf tracks which fiber swapped into f, so a fiber that runs to
// completion can hand control straight back without the caller having to
// poll for it.
func (s *Scheduler) callerOf(f *Fiber) *Fiber {
	return f.caller
}

// SwapContext implements interpreter_fiber_swapcontext(from, to): hands
// the run token to to and blocks from's goroutine until control comes
// back. from's ip/frame-base/stack pointer are already resident on the
// Fiber struct itself, so nothing further needs saving here.
func (s *Scheduler) SwapContext(from, to *Fiber) {
	to.caller = from
	s.current = to
	to.turn <- struct{}{}
	<-from.turn
	s.current = from
}
