// Package kmain contains the boot sequence. Boot wires the kernel subsystems
// together on top of a hal.Machine and loads the first program; Start hands
// the CPU to it.
package kmain

import (
	"kestrel/device/fs"
	"kestrel/device/keyboard"
	"kestrel/kernel"
	"kestrel/kernel/gate"
	"kestrel/kernel/hal"
	"kestrel/kernel/irq"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
	"kestrel/kernel/mm/pmm"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/proc"
	"kestrel/kernel/sched"
	"kestrel/kernel/sync"
	"kestrel/kernel/syscall"
)

// Layout of the kernel structures inside the reserved frame 0. Addresses
// are physical; the kernel sees them through the high-half mapping.
const (
	tssAddress        = uintptr(0x100000)
	interruptStubBase = uintptr(0x101000)
	kernelStackTop    = uintptr(0x200000)
	pageDirectoryPool = uintptr(0x200000)
)

var (
	errNoFileSystem       = &kernel.Error{Module: "kmain", Message: "no filesystem"}
	errNotEnoughMemory    = &kernel.Error{Module: "kmain", Message: "physical memory is smaller than the configured frame count"}
	errInitNotFound       = &kernel.Error{Module: "kmain", Message: "init program not found"}
	errInitTooLarge       = &kernel.Error{Module: "kmain", Message: "init program exceeds the maximum image size"}
	errUnhandledException = &kernel.Error{Module: "kmain", Message: "unhandled exception"}

	// panicFn is used by tests to intercept calls to kfmt.Panic.
	panicFn = kfmt.Panic
)

// Kernel is the state of a booted kernel. All subsystems hang off it; there
// is no global kernel state besides the kfmt output sink.
type Kernel struct {
	machine hal.Machine
	cfg     Config
	devices hal.Devices
	fs      fs.FileSystem

	gdt      *gate.DescriptorTable
	idt      *gate.InterruptTable
	pic      *irq.PIC
	frames   *pmm.BitmapAllocator
	spaces   *vmm.Pool
	procs    *proc.Table
	sched    *sched.Scheduler
	syscalls *syscall.Dispatcher
}

// Config returns the boot configuration.
func (k *Kernel) Config() Config { return k.cfg }

// Devices returns the detected devices.
func (k *Kernel) Devices() *hal.Devices { return &k.devices }

// Frames returns the frame allocator.
func (k *Kernel) Frames() *pmm.BitmapAllocator { return k.frames }

// AddressSpaces returns the address space pool.
func (k *Kernel) AddressSpaces() *vmm.Pool { return k.spaces }

// Processes returns the process table.
func (k *Kernel) Processes() *proc.Table { return k.procs }

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Kmain boots the kernel and starts the init program. On hardware Kmain
// does not return; boot failures halt the machine.
func Kmain(m hal.Machine, filesystem fs.FileSystem, cmdLine string) {
	k, err := Boot(m, filesystem, cmdLine)
	if err == nil {
		err = k.Start()
	}

	if err != nil {
		panicFn(err)
	}
}

// Boot initializes the kernel subsystems on m, installs the interrupt
// handlers and creates the init process. The init process does not run
// until Start is called.
func Boot(m hal.Machine, filesystem fs.FileSystem, cmdLine string) (*Kernel, *kernel.Error) {
	kfmt.SetHaltFn(func() {
		m.DisableInterrupts()
		m.Halt()
	})

	cfg, err := ConfigFromCmdLine(cmdLine)
	if err != nil {
		return nil, err
	}

	if filesystem == nil {
		return nil, errNoFileSystem
	}

	k := &Kernel{machine: m, cfg: cfg, fs: filesystem}
	k.devices.DetectHardware(m)
	kfmt.Printf("[kmain] booting: %d frames, %d process slots, %d Hz\n", cfg.Frames, cfg.Processes, cfg.TimerHz)

	for _, step := range []func() *kernel.Error{
		k.setupDescriptorTables,
		k.setupMemory,
		k.setupInterruptController,
		k.setupProcesses,
		k.setupInterrupts,
		k.loadInit,
	} {
		if err = step(); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Start arms the timer and switches to the first process.
func (k *Kernel) Start() *kernel.Error {
	if err := k.sched.Init(k.pic); err != nil {
		return err
	}

	return k.sched.Start()
}

func (k *Kernel) setupDescriptorTables() *kernel.Error {
	k.gdt = gate.NewDescriptorTable(uint32(mm.KernelVirtualBase+tssAddress), uint32(mm.KernelVirtualBase+kernelStackTop))
	if _, err := k.machine.WriteAt(k.gdt.TSS.Bytes(), int64(tssAddress)); err != nil {
		return errNotEnoughMemory
	}
	k.gdt.Load(k.machine)

	k.idt = gate.NewInterruptTable(uint32(mm.KernelVirtualBase+interruptStubBase), gate.DefaultStubSize)
	return nil
}

func (k *Kernel) setupMemory() *kernel.Error {
	// The last managed frame must be backed by physical memory.
	var probe [1]byte
	if _, err := k.machine.ReadAt(probe[:], int64(uintptr(k.cfg.Frames)*mm.PageSize-1)); err != nil {
		return errNotEnoughMemory
	}

	var err *kernel.Error
	if k.frames, err = pmm.NewBitmapAllocator(sync.NewIRQSpinlock(k.machine), k.cfg.Frames); err != nil {
		return err
	}

	if k.spaces, err = vmm.NewPool(sync.NewIRQSpinlock(k.machine), k.machine, k.machine, k.frames, pageDirectoryPool, k.cfg.DirectorySlots); err != nil {
		return err
	}

	return k.spaces.Activate(vmm.KernelSpace)
}

func (k *Kernel) setupProcesses() *kernel.Error {
	var err *kernel.Error
	if k.procs, err = proc.NewTable(sync.NewIRQSpinlock(k.machine), k.machine, k.frames, k.spaces, k.cfg.Processes, k.cfg.MaxFrames); err != nil {
		return err
	}

	k.sched = sched.New(k.machine, k.procs, k.spaces, k.cfg.TimerHz)

	syscallCfg := syscall.Config{
		Memory:       k.spaces,
		Processes:    k.procs,
		Scheduler:    k.sched,
		FileSystem:   k.fs,
		UserBase:     k.cfg.UserBase,
		MaxImageSize: k.cfg.MaxImageSize,
	}

	// Absent devices must stay nil interfaces.
	if term := k.devices.TTY(); term != nil {
		syscallCfg.Terminal = term
	}
	if kbd := k.devices.Keyboard(); kbd != nil {
		syscallCfg.Keyboard = &keyboardService{kbd: kbd, pic: k.pic}
	}
	if clock := k.devices.Clock(); clock != nil {
		syscallCfg.Clock = clock
	}

	k.syscalls = syscall.NewDispatcher(syscallCfg)
	return nil
}

// setupInterruptController remaps the PIC pair above the exception
// vectors. All lines stay masked until their driver is activated.
func (k *Kernel) setupInterruptController() *kernel.Error {
	k.pic = irq.NewPIC(k.machine)
	k.pic.Remap(uint8(gate.IRQBase), uint8(gate.IRQBase)+8)
	return nil
}

func (k *Kernel) setupInterrupts() *kernel.Error {
	vmm.InstallFaultHandlers(k.idt, k.machine)
	k.idt.HandleInterrupt(gate.TimerInterrupt, 0, k.irqHandler(irq.TimerLine, k.sched.HandleTimer))
	if kbd := k.devices.Keyboard(); kbd != nil {
		k.idt.HandleInterrupt(gate.KeyboardInterrupt, 0, k.irqHandler(irq.KeyboardLine, func(_ *gate.Registers) {
			kbd.HandleIRQ()
		}))
	}

	// User code raises the syscall vector directly.
	k.idt.HandleInterrupt(gate.SyscallInterrupt, 3, k.syscalls.Handle)

	k.idt.Load(k.machine)
	k.machine.AttachInterruptEntry(k.handleInterrupt)
	return nil
}

// irqHandler wraps the handler of a hardware interrupt so that the
// controller is acknowledged before the handler runs; the timer handler
// does not return to the interrupted context.
func (k *Kernel) irqHandler(line irq.Line, handler func(*gate.Registers)) func(*gate.Registers) {
	return func(regs *gate.Registers) {
		k.pic.EOI(line)
		handler(regs)
	}
}

// handleInterrupt is the common interrupt handler invoked by the entry
// stubs.
func (k *Kernel) handleInterrupt(regs *gate.Registers) {
	if k.idt.Dispatch(regs) {
		return
	}

	vector := gate.InterruptNumber(regs.Info)
	if vector < gate.ExceptionCount {
		kfmt.Printf("\nUnhandled exception %d (error code 0x%x)\n\nRegisters:\n", uint8(vector), regs.ErrorCode)
		regs.DumpTo(kfmt.GetOutputSink())
		panicFn(errUnhandledException)
		return
	}

	// Spurious or unclaimed IRQs are acknowledged and dropped.
	if line, ok := k.pic.LineForVector(uint8(vector)); ok {
		k.pic.EOI(line)
	}
}

// loadInit creates the init process from the init directory.
func (k *Kernel) loadInit() *kernel.Error {
	dir, err := k.fs.Lookup(fs.RootInode, k.cfg.InitDir)
	if err != nil || !dir.IsDir {
		return errInitNotFound
	}

	file, err := k.fs.Open(dir.Inode, k.cfg.InitName)
	if err != nil {
		return errInitNotFound
	}
	if file.Size() > k.cfg.MaxImageSize {
		return errInitTooLarge
	}

	pid, err := k.procs.Create(proc.Image{Name: k.cfg.InitName, Size: file.Size(), Base: k.cfg.UserBase, Source: file})
	if err != nil {
		return err
	}

	kfmt.Printf("[kmain] loaded %s/%s as pid %d\n", k.cfg.InitDir, k.cfg.InitName, uint32(pid))
	return nil
}

// keyboardService exposes the keyboard to user programs. Activating it also
// enables the keyboard IRQ.
type keyboardService struct {
	kbd *keyboard.Keyboard
	pic *irq.PIC
}

func (s *keyboardService) ReadByte() (byte, bool) {
	return s.kbd.ReadByte()
}

func (s *keyboardService) Activate() {
	s.kbd.Activate()
	s.pic.Unmask(irq.KeyboardLine)
}
