package kmain

import "testing"

func TestParseCmdLine(t *testing.T) {
	specs := []struct {
		input string
		exp   map[string]string
	}{
		{"", map[string]string{}},
		{"frames=16", map[string]string{"frames": "16"}},
		{"  frames=16\tquiet  init=SHELL ", map[string]string{"frames": "16", "quiet": "quiet", "init": "SHELL"}},
		{"bad=a=b hz=50", map[string]string{"hz": "50"}},
	}

	for specIndex, spec := range specs {
		got := ParseCmdLine(spec.input)
		if len(got) != len(spec.exp) {
			t.Errorf("[spec %d] expected %v; got %v", specIndex, spec.exp, got)
			continue
		}

		for k, v := range spec.exp {
			if got[k] != v {
				t.Errorf("[spec %d] expected %q to map to %q; got %q", specIndex, k, v, got[k])
			}
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromCmdLine("")
	if err != nil {
		t.Fatal(err)
	}

	if exp := DefaultConfig(); cfg != exp {
		t.Fatalf("expected default config %+v; got %+v", exp, cfg)
	}

	if cfg.DirectorySlots != cfg.Processes+1 {
		t.Fatalf("expected one directory slot per process plus the kernel's; got %d for %d processes", cfg.DirectorySlots, cfg.Processes)
	}
}

func TestConfigFromCmdLine(t *testing.T) {
	cfg, err := ConfigFromCmdLine("frames=16 procs=4 maxframes=0x4 hz=50 init=SHELL initdir=sys userbase=0x800000 maximage=1024 verbose")
	if err != nil {
		t.Fatal(err)
	}

	exp := Config{
		Frames:         16,
		Processes:      4,
		DirectorySlots: 5,
		MaxFrames:      4,
		TimerHz:        50,
		InitName:       "SHELL",
		InitDir:        "sys",
		UserBase:       0x800000,
		MaxImageSize:   1024,
	}
	if cfg != exp {
		t.Fatalf("expected config %+v; got %+v", exp, cfg)
	}

	if cfg, _ = ConfigFromCmdLine("procs=4 pdslots=8"); cfg.DirectorySlots != 8 {
		t.Fatalf("expected 8 directory slots; got %d", cfg.DirectorySlots)
	}
}

func TestConfigInvalidParams(t *testing.T) {
	specs := []string{
		"frames=abc",
		"frames=1",
		"frames=4096",
		"procs=0",
		"procs=-1",
		"pdslots=1",
		"pdslots=513",
		"maxframes=0",
		"frames=8 maxframes=9",
		"hz=0",
		"hz=5",
		"maximage=0",
		"userbase=0",
		"userbase=0x400001",
		"userbase=0xc0000000",
	}

	for specIndex, spec := range specs {
		if _, err := ConfigFromCmdLine(spec); err != errInvalidBootParam {
			t.Errorf("[spec %d] %q: expected errInvalidBootParam; got %v", specIndex, spec, err)
		}
	}

	if exp := 512; maxDirectorySlots != exp {
		t.Errorf("expected %d directory slots to fit in frame 0; got %d", exp, maxDirectorySlots)
	}
}
