// Package syscall implements the system call boundary. User code raises
// vector 0x80 with an operation code in EAX and up to three arguments in EBX,
// ECX and EDX; the Dispatcher services the request synchronously and returns
// a status in EAX.
package syscall

import (
	"io"
	"kestrel/device/fs"
	"kestrel/device/rtc"
	"kestrel/kernel"
	"kestrel/kernel/gate"
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm/vmm"
	"kestrel/kernel/proc"
	"kestrel/kernel/sched"
)

const (
	// maxPrintLength is the longest string accepted by OpConsolePrint.
	maxPrintLength = 256

	// defaultColor selects the console default color.
	defaultColor = uint8(0xff)
)

var (
	errRecordEncoding = &kernel.Error{Module: "syscall", Message: "unable to encode record"}

	// panicFn is used by tests to intercept calls to kfmt.Panic.
	panicFn = kfmt.Panic
)

// UserMemory copies data between the kernel and an address space.
type UserMemory interface {
	CopyIn(as vmm.AddressSpace, virtAddr uintptr, dst []byte) *kernel.Error
	CopyOut(as vmm.AddressSpace, virtAddr uintptr, src []byte) *kernel.Error
	ReadString(as vmm.AddressSpace, virtAddr uintptr, maxLen int) (string, *kernel.Error)
}

// ProcessTable is the view of the process table used by the process
// operations.
type ProcessTable interface {
	Create(img proc.Image) (proc.PID, *kernel.Error)
	Destroy(pid proc.PID) *kernel.Error
	Current() (proc.PCB, bool)
	Visit(fn func(proc.PCB))
}

// Scheduler resumes another process when the caller terminates.
type Scheduler interface {
	SwitchToNext(regs *gate.Registers) *kernel.Error
}

// Terminal is the console that user programs print to.
type Terminal interface {
	io.Writer
	io.ByteWriter
	SetColors(fg, bg uint8)
	SetCursorPosition(x, y uint32)
	Clear()
}

// Keyboard provides buffered keyboard input.
type Keyboard interface {
	ReadByte() (byte, bool)
	Activate()
}

// Clock provides the time of day.
type Clock interface {
	Now() (rtc.Time, *kernel.Error)
}

// Config lists the collaborators of a Dispatcher. Devices that are not
// present must be left nil; their operations return StatusUnsupported.
type Config struct {
	Memory     UserMemory
	Processes  ProcessTable
	Scheduler  Scheduler
	FileSystem fs.FileSystem
	Terminal   Terminal
	Keyboard   Keyboard
	Clock      Clock

	// UserBase is the load address of programs started without an
	// explicit one.
	UserBase uintptr

	// MaxImageSize bounds the size of program images and file writes.
	MaxImageSize uint32
}

// call describes a syscall in progress.
type call struct {
	regs *gate.Registers
	user userAccess

	// caller is valid if hasCaller is set.
	caller    proc.PCB
	hasCaller bool

	// switched is set by handlers that replaced regs with the context
	// of another process; the status is not stored in that case.
	switched bool
}

type handlerFn func(*Dispatcher, *call) uint32

// handlers maps each operation to its implementation.
var handlers = [opCount]handlerFn{
	OpFileRead:         (*Dispatcher).fileRead,
	OpFileWrite:        (*Dispatcher).fileWrite,
	OpFileDelete:       (*Dispatcher).fileDelete,
	OpDirList:          (*Dispatcher).dirList,
	OpConsolePrint:     (*Dispatcher).consolePrint,
	OpConsolePutChar:   (*Dispatcher).consolePutChar,
	OpConsoleClear:     (*Dispatcher).consoleClear,
	OpConsoleSetCursor: (*Dispatcher).consoleSetCursor,
	OpKeyboardRead:     (*Dispatcher).keyboardRead,
	OpKeyboardActivate: (*Dispatcher).keyboardActivate,
	OpClockRead:        (*Dispatcher).clockRead,
	OpProcessExec:      (*Dispatcher).processExec,
	OpProcessExit:      (*Dispatcher).processExit,
	OpProcessList:      (*Dispatcher).processList,
	OpProcessKill:      (*Dispatcher).processKill,
}

// Dispatcher services syscalls.
type Dispatcher struct {
	cfg Config
}

// NewDispatcher creates a dispatcher for the supplied collaborators.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Handle is the syscall interrupt handler. Unknown operations leave all
// state untouched and return StatusUnsupported.
func (d *Dispatcher) Handle(regs *gate.Registers) {
	op := Op(regs.EAX)
	if op >= opCount {
		regs.EAX = StatusUnsupported
		return
	}

	c := call{
		regs: regs,
		user: userAccess{mem: d.cfg.Memory, as: vmm.KernelSpace},
	}
	if c.caller, c.hasCaller = d.cfg.Processes.Current(); c.hasCaller {
		c.user.as = c.caller.AddressSpace
	}

	status := handlers[op](d, &c)
	if !c.switched {
		regs.EAX = status
	}
}

func (d *Dispatcher) readFileRequest(c *call) (FileRequest, string, fs.Inode, *kernel.Error) {
	var req FileRequest
	if err := c.user.readRecord(c.regs.EBX, &req); err != nil {
		return req, "", 0, err
	}

	return req, cString(req.Name[:]), fs.Inode(req.Parent), nil
}

func fsStatus(err *kernel.Error) uint32 {
	return uint32(fs.StatusOf(err))
}

func (d *Dispatcher) fileRead(c *call) uint32 {
	if d.cfg.FileSystem == nil {
		return StatusUnsupported
	}

	req, name, parent, err := d.readFileRequest(c)
	if err != nil {
		return StatusBadAddress
	}

	entry, err := d.cfg.FileSystem.Lookup(parent, name)
	switch {
	case err != nil:
		return fsStatus(err)
	case entry.IsDir:
		return fsStatus(fs.ErrNotFound)
	case entry.Size > req.BufSize:
		return fsStatus(fs.ErrBufferTooSmall)
	}

	buf := make([]byte, entry.Size)
	n, err := d.cfg.FileSystem.ReadFile(parent, name, buf)
	if err != nil {
		return fsStatus(err)
	}

	if c.user.mem.CopyOut(c.user.as, uintptr(req.Buf), buf[:n]) != nil ||
		c.user.writeUint32(c.regs.EBX+fileRequestBufSizeOffset, uint32(n)) != nil {
		return StatusBadAddress
	}

	return StatusOK
}

func (d *Dispatcher) fileWrite(c *call) uint32 {
	if d.cfg.FileSystem == nil {
		return StatusUnsupported
	}

	req, name, parent, err := d.readFileRequest(c)
	if err != nil {
		return StatusBadAddress
	}

	var data []byte
	if req.IsDir == 0 {
		if req.BufSize > d.cfg.MaxImageSize {
			return fsStatus(fs.ErrNoSpace)
		}

		data = make([]byte, req.BufSize)
		if c.user.mem.CopyIn(c.user.as, uintptr(req.Buf), data) != nil {
			return StatusBadAddress
		}
	}

	return fsStatus(d.cfg.FileSystem.WriteFile(parent, name, data, req.IsDir != 0))
}

func (d *Dispatcher) fileDelete(c *call) uint32 {
	if d.cfg.FileSystem == nil {
		return StatusUnsupported
	}

	req, name, parent, err := d.readFileRequest(c)
	if err != nil {
		return StatusBadAddress
	}

	return fsStatus(d.cfg.FileSystem.Delete(parent, name, req.IsDir != 0))
}

func (d *Dispatcher) dirList(c *call) uint32 {
	if d.cfg.FileSystem == nil {
		return StatusUnsupported
	}

	_, _, parent, err := d.readFileRequest(c)
	if err != nil {
		return StatusBadAddress
	}

	capacity, err := c.user.readUint32(c.regs.EDX)
	if err != nil {
		return StatusBadAddress
	}

	entries, err := d.cfg.FileSystem.List(parent)
	if err != nil {
		return fsStatus(err)
	}

	count := len(entries)
	if uint64(capacity) < uint64(count) {
		count = int(capacity)
	}
	if !arrayFits(c.regs.ECX, count, DirRecordSize) {
		return StatusBadAddress
	}

	written := uint32(0)
	for ; written < capacity && int(written) < len(entries); written++ {
		entry := entries[written]
		record := DirRecord{Inode: uint32(entry.Inode), Size: entry.Size}
		copy(record.Name[:], entry.Name)
		if entry.IsDir {
			record.IsDir = 1
		}

		if c.user.writeRecord(c.regs.ECX+written*uint32(DirRecordSize), &record) != nil {
			return StatusBadAddress
		}
	}

	if c.user.writeUint32(c.regs.EDX, written) != nil {
		return StatusBadAddress
	}

	if int(written) < len(entries) {
		return fsStatus(fs.ErrBufferTooSmall)
	}
	return StatusOK
}

// foreground maps a color argument to a palette index.
func foreground(arg uint32) uint8 {
	if arg > uint32(defaultColor) {
		return defaultColor
	}
	return uint8(arg)
}

func (d *Dispatcher) consolePrint(c *call) uint32 {
	if d.cfg.Terminal == nil {
		return StatusUnsupported
	}

	str, err := c.user.mem.ReadString(c.user.as, uintptr(c.regs.EBX), maxPrintLength)
	switch {
	case err == vmm.ErrStringTooLong:
		return StatusInvalidArgument
	case err != nil:
		return StatusBadAddress
	}

	d.cfg.Terminal.SetColors(foreground(c.regs.ECX), defaultColor)
	d.cfg.Terminal.Write([]byte(str))
	d.cfg.Terminal.SetColors(defaultColor, defaultColor)
	return StatusOK
}

func (d *Dispatcher) consolePutChar(c *call) uint32 {
	if d.cfg.Terminal == nil {
		return StatusUnsupported
	}

	d.cfg.Terminal.SetColors(foreground(c.regs.ECX), defaultColor)
	d.cfg.Terminal.WriteByte(byte(c.regs.EBX))
	d.cfg.Terminal.SetColors(defaultColor, defaultColor)
	return StatusOK
}

func (d *Dispatcher) consoleClear(_ *call) uint32 {
	if d.cfg.Terminal == nil {
		return StatusUnsupported
	}

	d.cfg.Terminal.Clear()
	return StatusOK
}

func (d *Dispatcher) consoleSetCursor(c *call) uint32 {
	if d.cfg.Terminal == nil {
		return StatusUnsupported
	}

	// Terminal coordinates are 1-based.
	d.cfg.Terminal.SetCursorPosition(c.regs.ECX+1, c.regs.EBX+1)
	return StatusOK
}

func (d *Dispatcher) keyboardRead(c *call) uint32 {
	if d.cfg.Keyboard == nil {
		return StatusUnsupported
	}

	ch, _ := d.cfg.Keyboard.ReadByte()
	if c.user.mem.CopyOut(c.user.as, uintptr(c.regs.EBX), []byte{ch}) != nil {
		return StatusBadAddress
	}
	return StatusOK
}

func (d *Dispatcher) keyboardActivate(_ *call) uint32 {
	if d.cfg.Keyboard == nil {
		return StatusUnsupported
	}

	d.cfg.Keyboard.Activate()
	return StatusOK
}

func (d *Dispatcher) clockRead(c *call) uint32 {
	if d.cfg.Clock == nil {
		return StatusUnsupported
	}

	now, err := d.cfg.Clock.Now()
	if err != nil {
		return StatusUnsupported
	}

	if c.user.mem.CopyOut(c.user.as, uintptr(c.regs.EBX), []byte{now.Hour, now.Minute, now.Second}) != nil {
		return StatusBadAddress
	}
	return StatusOK
}

func (d *Dispatcher) processExec(c *call) uint32 {
	if d.cfg.FileSystem == nil {
		return StatusUnsupported
	}

	req, name, parent, err := d.readFileRequest(c)
	if err != nil {
		return StatusBadAddress
	}

	file, err := d.cfg.FileSystem.Open(parent, name)
	if err != nil {
		return ExecNotFound
	}

	size := file.Size()
	if size > d.cfg.MaxImageSize || (req.BufSize != 0 && size > req.BufSize) {
		return ExecLoadFailed
	}

	base := d.cfg.UserBase
	if req.Buf != 0 {
		base = uintptr(req.Buf)
	}

	pid, err := d.cfg.Processes.Create(proc.Image{Name: name, Size: size, Base: base, Source: file})
	switch err {
	case nil:
		kfmt.Printf("[syscall] exec %s: pid %d\n", name, uint32(pid))
		return ExecSuccess
	case proc.ErrTableFull:
		return ExecTableFull
	case proc.ErrInvalidEntryPoint:
		return ExecInvalidEntryPoint
	case proc.ErrOutOfMemory:
		return ExecOutOfMemory
	default:
		return ExecLoadFailed
	}
}

// terminateCaller destroys the calling process and resumes the next one.
func (d *Dispatcher) terminateCaller(c *call) {
	d.cfg.Processes.Destroy(c.caller.PID)
	kfmt.Printf("[syscall] pid %d terminated\n", uint32(c.caller.PID))

	// The scheduler halts the machine when no process is left.
	c.switched = true
	if err := d.cfg.Scheduler.SwitchToNext(c.regs); err != nil && err != sched.ErrNoProcess {
		panicFn(err)
	}
}

func (d *Dispatcher) processExit(c *call) uint32 {
	if !c.hasCaller {
		return StatusUnsupported
	}

	d.terminateCaller(c)
	return StatusOK
}

func (d *Dispatcher) processList(c *call) uint32 {
	capacity, err := c.user.readUint32(c.regs.ECX)
	if err != nil {
		return StatusBadAddress
	}

	var records []ProcessRecord
	d.cfg.Processes.Visit(func(pcb proc.PCB) {
		if uint32(len(records)) == capacity {
			return
		}

		record := ProcessRecord{PID: uint32(pcb.PID), State: uint8(pcb.State)}
		copy(record.Name[:], pcb.Name)
		records = append(records, record)
	})

	if !arrayFits(c.regs.EBX, len(records), ProcessRecordSize) {
		return StatusBadAddress
	}

	for i := range records {
		if c.user.writeRecord(c.regs.EBX+uint32(i*ProcessRecordSize), &records[i]) != nil {
			return StatusBadAddress
		}
	}

	if c.user.writeUint32(c.regs.ECX, uint32(len(records))) != nil {
		return StatusBadAddress
	}
	return StatusOK
}

func (d *Dispatcher) processKill(c *call) uint32 {
	pid := proc.PID(c.regs.EBX)
	if c.hasCaller && c.caller.PID == pid {
		d.terminateCaller(c)
		return KillSuccess
	}

	if d.cfg.Processes.Destroy(pid) != nil {
		return KillNoSuchProcess
	}

	kfmt.Printf("[syscall] pid %d killed\n", uint32(pid))
	return KillSuccess
}
