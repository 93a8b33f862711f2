package syscall

import (
	"bytes"
	"encoding/binary"
	"kestrel/kernel"
	"kestrel/kernel/mm/vmm"
)

// Op is a syscall operation code, passed in EAX.
type Op uint32

// The list of supported operations. Arguments are passed in EBX, ECX and EDX
// and the result is returned in EAX.
const (
	// OpFileRead reads a whole file. EBX points to a FileRequest whose
	// BufSize is updated with the number of bytes read.
	OpFileRead Op = iota

	// OpFileWrite creates a file or, if IsDir is set, a directory. EBX
	// points to a FileRequest.
	OpFileWrite

	// OpFileDelete removes a file or an empty directory. EBX points to a
	// FileRequest.
	OpFileDelete

	// OpDirList enumerates the directory named by the Parent field of the
	// FileRequest at EBX into the DirRecord array at ECX. EDX points to a
	// uint32 holding the array capacity on entry and the number of
	// records written on return.
	OpDirList

	// OpConsolePrint prints the NUL-terminated string at EBX using the
	// foreground color in ECX.
	OpConsolePrint

	// OpConsolePutChar prints the character in EBX using the foreground
	// color in ECX.
	OpConsolePutChar

	// OpConsoleClear clears the console.
	OpConsoleClear

	// OpConsoleSetCursor moves the cursor to the 0-based row in EBX and
	// column in ECX.
	OpConsoleSetCursor

	// OpKeyboardRead stores the next buffered character, or 0 if there is
	// none, at EBX.
	OpKeyboardRead

	// OpKeyboardActivate enables keyboard input.
	OpKeyboardActivate

	// OpClockRead stores the hour, minute and second at EBX.
	OpClockRead

	// OpProcessExec loads the program named by the FileRequest at EBX into
	// a new process. BufSize limits the image size (0 for no limit) and
	// Buf selects the load address (0 for the default).
	OpProcessExec

	// OpProcessExit terminates the calling process.
	OpProcessExit

	// OpProcessList enumerates the active processes into the
	// ProcessRecord array at EBX. ECX points to a uint32 holding the
	// array capacity on entry and the number of records written on
	// return.
	OpProcessList

	// OpProcessKill terminates the process whose pid is in EBX.
	OpProcessKill

	opCount
)

// Status values shared by all operations.
const (
	StatusOK = uint32(0)

	// StatusInvalidArgument is returned when an argument is out of
	// range, e.g. an unterminated or overlong string.
	StatusInvalidArgument = uint32(0xfffffffd)

	// StatusBadAddress is returned when a pointer argument refers to
	// memory that is unmapped or not accessible from user mode.
	StatusBadAddress = uint32(0xfffffffe)

	// StatusUnsupported is returned for unknown operations and for
	// operations whose device is not present.
	StatusUnsupported = uint32(0xffffffff)
)

// Status values returned by OpProcessExec.
const (
	ExecSuccess = uint32(iota)
	ExecTableFull
	ExecInvalidEntryPoint
	ExecOutOfMemory
	ExecNotFound
	ExecLoadFailed
)

// Status values returned by OpProcessKill.
const (
	KillSuccess = uint32(iota)
	KillNoSuchProcess
)

// FileRequest describes the file operand of the filesystem and exec
// operations.
type FileRequest struct {
	Name    [12]byte
	Parent  uint32
	Buf     uint32
	BufSize uint32
	IsDir   uint8
	_       [3]byte
}

// fileRequestBufSizeOffset is the offset of FileRequest.BufSize.
const fileRequestBufSizeOffset = 20

// DirRecord describes a directory entry returned by OpDirList.
type DirRecord struct {
	Name  [12]byte
	Inode uint32
	Size  uint32
	IsDir uint8
	_     [3]byte
}

// ProcessRecord describes a process returned by OpProcessList.
type ProcessRecord struct {
	PID   uint32
	State uint8
	_     [3]byte
	Name  [16]byte
}

// Record sizes in user memory.
var (
	FileRequestSize   = binary.Size(FileRequest{})
	DirRecordSize     = binary.Size(DirRecord{})
	ProcessRecordSize = binary.Size(ProcessRecord{})
)

// SetName stores name in r, truncating it if needed.
func (r *FileRequest) SetName(name string) {
	r.Name = [12]byte{}
	copy(r.Name[:len(r.Name)-1], name)
}

// cString returns the contents of a NUL-padded name field.
func cString(field []byte) string {
	if end := bytes.IndexByte(field, 0); end != -1 {
		field = field[:end]
	}
	return string(field)
}

// userAccess reads and writes the user memory of the calling process.
type userAccess struct {
	mem UserMemory
	as  vmm.AddressSpace
}

func (u userAccess) readRecord(vaddr uint32, record interface{}) *kernel.Error {
	buf := make([]byte, binary.Size(record))
	if err := u.mem.CopyIn(u.as, uintptr(vaddr), buf); err != nil {
		return err
	}

	if binary.Read(bytes.NewReader(buf), binary.LittleEndian, record) != nil {
		return errRecordEncoding
	}
	return nil
}

func (u userAccess) writeRecord(vaddr uint32, record interface{}) *kernel.Error {
	var buf bytes.Buffer
	if binary.Write(&buf, binary.LittleEndian, record) != nil {
		return errRecordEncoding
	}

	return u.mem.CopyOut(u.as, uintptr(vaddr), buf.Bytes())
}

func (u userAccess) readUint32(vaddr uint32) (uint32, *kernel.Error) {
	var buf [4]byte
	if err := u.mem.CopyIn(u.as, uintptr(vaddr), buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (u userAccess) writeUint32(vaddr, val uint32) *kernel.Error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	return u.mem.CopyOut(u.as, uintptr(vaddr), buf[:])
}

// arrayFits reports whether count records of size bytes starting at base end
// within the 32-bit address space.
func arrayFits(base uint32, count, size int) bool {
	return uint64(base)+uint64(count)*uint64(size) <= 1<<32
}
