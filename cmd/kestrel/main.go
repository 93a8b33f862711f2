// Command kestrel boots the kernel on the simulated machine. It loads the
// programs of a small in-memory filesystem, spawns extra processes through
// the exec syscall and runs the timer for a number of ticks. The final
// screen contents and process list are printed to stdout.
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"kestrel/device/fs"
	"kestrel/device/video/console"
	"kestrel/kernel/hal/sim"
	"kestrel/kernel/kmain"
	"kestrel/kernel/mm"
	"kestrel/kernel/proc"
	"kestrel/kernel/syscall"
	"os"
	"strings"
)

// programs are the images installed in the bin directory. The simulated
// CPU does not execute them so their contents only need to be distinct.
var programs = []string{"INIT", "SHELL", "CLOCK", "IDLE"}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[kestrel] error: %s\n", err.Error())
	os.Exit(1)
}

func buildFS(dir string) (*fs.RamFS, fs.Inode, error) {
	ramfs := fs.NewRamFS(64, 64*int(mm.Mb))
	if err := ramfs.WriteFile(fs.RootInode, dir, nil, true); err != nil {
		return nil, 0, err
	}

	bin, err := ramfs.Lookup(fs.RootInode, dir)
	if err != nil {
		return nil, 0, err
	}

	for _, name := range programs {
		image := []byte(fmt.Sprintf("%s image\x00", strings.ToLower(name)))
		if err := ramfs.WriteFile(bin.Inode, name, image, false); err != nil {
			return nil, 0, err
		}
	}

	return ramfs, bin.Inode, nil
}

// spawn asks the running process to exec name. The request record is
// written below the stack pointer of the caller.
func spawn(m *sim.Machine, parent fs.Inode, name string) error {
	req := syscall.FileRequest{Parent: uint32(parent)}
	req.SetName(name)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &req); err != nil {
		return err
	}

	addr := m.Registers().ESP - 4096
	if err := m.WriteVirtual(addr, buf.Bytes()); err != nil {
		return err
	}

	status, err := m.Syscall(uint32(syscall.OpProcessExec), addr, 0, 0)
	if err != nil {
		return err
	}
	if status != syscall.ExecSuccess {
		return fmt.Errorf("exec %s failed with status %d", name, status)
	}
	return nil
}

func dumpConsole(cons *console.VgaTextConsole) {
	w, h := cons.Dimensions(console.Characters)
	for y := uint32(1); y <= h; y++ {
		var line strings.Builder
		for x := uint32(1); x <= w; x++ {
			ch, _, _ := cons.Cell(x, y)
			line.WriteByte(ch)
		}
		fmt.Println(strings.TrimRight(line.String(), " "))
	}
}

func main() {
	cmdLine := flag.String("cmdline", "", "kernel command line (key=value pairs)")
	memSize := flag.Uint("mem", 128, "physical memory size in MiB")
	ticks := flag.Int("ticks", 10, "number of timer interrupts to raise")
	spawnList := flag.String("spawn", "SHELL,CLOCK", "comma-separated list of programs to exec after boot")
	screenshot := flag.String("screenshot", "", "write a PNG rendering of the console to this file")
	flag.Parse()

	cfg, kerr := kmain.ConfigFromCmdLine(*cmdLine)
	if kerr != nil {
		exit(kerr)
	}

	ramfs, bin, err := buildFS(cfg.InitDir)
	if err != nil {
		exit(err)
	}

	m := sim.New(mm.Size(*memSize) * mm.Mb)
	k, kerr := kmain.Boot(m, ramfs, *cmdLine)
	if kerr != nil {
		exit(kerr)
	}
	if kerr = k.Start(); kerr != nil {
		exit(kerr)
	}

	for _, name := range strings.Split(*spawnList, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if err := spawn(m, bin, name); err != nil {
			exit(err)
		}
	}

	for i := 0; i < *ticks && !m.Halted(); i++ {
		if kerr = m.Tick(); kerr != nil {
			exit(kerr)
		}
	}

	cons, ok := k.Devices().Console().(*console.VgaTextConsole)
	if !ok {
		exit(errors.New("no text console detected"))
	}
	dumpConsole(cons)

	fmt.Printf("\n%d ticks, %d context switches\n", k.Scheduler().Ticks(), k.Scheduler().Switches())
	k.Processes().Visit(func(pcb proc.PCB) {
		fmt.Printf("%5d  %-8s %s\n", pcb.PID, pcb.State, pcb.Name)
	})

	if *screenshot != "" {
		if err := cons.SavePNG(*screenshot); err != nil {
			exit(err)
		}
	}
}
