package kmain

import (
	"kestrel/kernel"
	"kestrel/kernel/mm"
	"strconv"
	"strings"
)

const (
	// maxDirectorySlots is the number of page directories that fit
	// between the page directory pool base and the end of frame 0.
	maxDirectorySlots = int((mm.PageSize - pageDirectoryPool) / mm.DirectorySize)
)

var (
	errInvalidBootParam = &kernel.Error{Module: "kmain", Message: "invalid boot parameter"}
)

// Config holds the kernel parameters supplied on the boot command line.
type Config struct {
	// Frames is the number of physical frames managed by the frame
	// allocator, including the reserved frame 0.
	Frames uint32

	// Processes is the capacity of the process table.
	Processes int

	// DirectorySlots is the number of page directories in the address
	// space pool, including the kernel's own.
	DirectorySlots int

	// MaxFrames is the per-process frame limit.
	MaxFrames uint32

	// TimerHz is the preemption rate.
	TimerHz uint32

	// InitName and InitDir locate the first program in the root
	// directory of the filesystem.
	InitName string
	InitDir  string

	// UserBase is the default load address of programs.
	UserBase uintptr

	// MaxImageSize bounds the size of program images.
	MaxImageSize uint32
}

// DefaultConfig returns the configuration used for parameters that are not
// present on the command line.
func DefaultConfig() Config {
	return Config{
		Frames:         32,
		Processes:      8,
		DirectorySlots: 9,
		MaxFrames:      8,
		TimerHz:        100,
		InitName:       "INIT",
		InitDir:        "bin",
		UserBase:       0x400000,
		MaxImageSize:   uint32(8 * mm.Mb),
	}
}

// ParseCmdLine splits a boot command line into key/value pairs. Pairs are
// separated by whitespace; a key without a value maps to itself.
func ParseCmdLine(cmdLine string) map[string]string {
	kv := make(map[string]string)
	for _, pair := range strings.Fields(cmdLine) {
		parts := strings.Split(pair, "=")
		switch len(parts) {
		case 2: // foo=bar
			kv[parts[0]] = parts[1]
		case 1: // nofoo
			kv[parts[0]] = parts[0]
		}
	}

	return kv
}

// ConfigFromCmdLine builds a Config from the parameters on a boot command
// line. Unknown keys are ignored.
func ConfigFromCmdLine(cmdLine string) (Config, *kernel.Error) {
	var (
		cfg = DefaultConfig()
		kv  = ParseCmdLine(cmdLine)
		err *kernel.Error
	)

	if cfg.Frames, err = uintParam(kv, "frames", cfg.Frames, 2, 1024); err != nil {
		return cfg, err
	}

	procs, err := uintParam(kv, "procs", uint32(cfg.Processes), 1, uint32(maxDirectorySlots-1))
	if err != nil {
		return cfg, err
	}
	cfg.Processes = int(procs)

	slots, err := uintParam(kv, "pdslots", procs+1, 2, uint32(maxDirectorySlots))
	if err != nil {
		return cfg, err
	}
	cfg.DirectorySlots = int(slots)

	if cfg.MaxFrames, err = uintParam(kv, "maxframes", cfg.MaxFrames, 1, cfg.Frames); err != nil {
		return cfg, err
	}
	if cfg.TimerHz, err = uintParam(kv, "hz", cfg.TimerHz, 19, 1193182); err != nil {
		return cfg, err
	}
	if cfg.MaxImageSize, err = uintParam(kv, "maximage", cfg.MaxImageSize, 1, 0xffffffff); err != nil {
		return cfg, err
	}

	userBase, err := uintParam(kv, "userbase", uint32(cfg.UserBase), uint32(mm.PageSize), uint32(mm.KernelVirtualBase-mm.PageSize))
	if err != nil || mm.PageOffset(uintptr(userBase)) != 0 {
		return cfg, errInvalidBootParam
	}
	cfg.UserBase = uintptr(userBase)

	if v, ok := kv["init"]; ok {
		cfg.InitName = v
	}
	if v, ok := kv["initdir"]; ok {
		cfg.InitDir = v
	}

	return cfg, nil
}

// uintParam parses the value of key as a decimal, octal (0 prefix) or hex
// (0x prefix) number in [lo, hi]. It returns def if key is not present.
func uintParam(kv map[string]string, key string, def, lo, hi uint32) (uint32, *kernel.Error) {
	str, ok := kv[key]
	if !ok {
		return def, nil
	}

	val, err := strconv.ParseUint(str, 0, 32)
	if err != nil || uint32(val) < lo || uint32(val) > hi {
		return 0, errInvalidBootParam
	}

	return uint32(val), nil
}
