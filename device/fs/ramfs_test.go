package fs

import (
	"io"
	"kestrel/kernel"
	"testing"
)

func TestValidName(t *testing.T) {
	specs := []struct {
		name string
		exp  bool
	}{
		{"INIT", true},
		{"hello.txt", true},
		{"exactly11ch", true},
		{"twelve_chars", false},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"tab\there", false},
		{"caf\xc3\xa9", false},
	}

	for specIndex, spec := range specs {
		if got := ValidName(spec.name); got != spec.exp {
			t.Errorf("[spec %d] expected ValidName(%q) to return %t; got %t", specIndex, spec.name, spec.exp, got)
		}
	}
}

func TestStatusOf(t *testing.T) {
	specs := []struct {
		err *kernel.Error
		exp Status
	}{
		{nil, StatusOK},
		{ErrNotFound, StatusNotFound},
		{ErrExists, StatusExists},
		{ErrNotDir, StatusNotDir},
		{ErrNoSpace, StatusNoSpace},
		{ErrBufferTooSmall, StatusBufferTooSmall},
		{ErrInvalidName, StatusInvalidName},
		{ErrNotEmpty, StatusNotEmpty},
		{&kernel.Error{Module: "test", Message: "other"}, StatusNotFound},
	}

	for specIndex, spec := range specs {
		if got := StatusOf(spec.err); got != spec.exp {
			t.Errorf("[spec %d] expected status %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestRamFSReadWrite(t *testing.T) {
	var rfs FileSystem = NewRamFS(8, 64)

	if err := rfs.WriteFile(RootInode, "bin", nil, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	binDir, err := rfs.Lookup(RootInode, "bin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !binDir.IsDir || binDir.Name != "bin" || binDir.Inode == RootInode {
		t.Fatalf("unexpected directory entry: %+v", binDir)
	}

	if err := rfs.WriteFile(binDir.Inode, "INIT", []byte("hello"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("read", func(t *testing.T) {
		buf := make([]byte, 16)
		n, err := rfs.ReadFile(binDir.Inode, "INIT", buf)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := string(buf[:n]); got != "hello" {
			t.Fatalf("expected to read %q; got %q", "hello", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		specs := []struct {
			parent Inode
			name   string
			buf    []byte
			expErr *kernel.Error
		}{
			{binDir.Inode, "INIT", make([]byte, 4), ErrBufferTooSmall},
			{binDir.Inode, "MISSING", make([]byte, 8), ErrNotFound},
			{RootInode, "bin", make([]byte, 8), ErrNotFound},
			{99, "INIT", make([]byte, 8), ErrNotFound},
			{binDir.Inode, "", make([]byte, 8), ErrInvalidName},
		}

		for specIndex, spec := range specs {
			if _, err := rfs.ReadFile(spec.parent, spec.name, spec.buf); err != spec.expErr {
				t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			}
		}

		initFile, _ := rfs.Lookup(binDir.Inode, "INIT")
		if _, err := rfs.List(initFile.Inode); err != ErrNotDir {
			t.Errorf("expected listing a file to return ErrNotDir; got %v", err)
		}
		if err := rfs.WriteFile(initFile.Inode, "x", nil, false); err != ErrNotDir {
			t.Errorf("expected creating an entry inside a file to return ErrNotDir; got %v", err)
		}
		if err := rfs.WriteFile(binDir.Inode, "INIT", nil, false); err != ErrExists {
			t.Errorf("expected ErrExists; got %v", err)
		}
	})
}

func TestRamFSCapacity(t *testing.T) {
	rfs := NewRamFS(3, 10)

	if err := rfs.WriteFile(RootInode, "a", make([]byte, 8), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := rfs.WriteFile(RootInode, "b", make([]byte, 3), false); err != ErrNoSpace {
		t.Fatalf("expected exceeding the byte capacity to return ErrNoSpace; got %v", err)
	}

	if err := rfs.WriteFile(RootInode, "b", make([]byte, 2), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := rfs.WriteFile(RootInode, "dir", nil, true); err != ErrNoSpace {
		t.Fatalf("expected exceeding the entry capacity to return ErrNoSpace; got %v", err)
	}

	// Deleting a file releases both its entry and its bytes
	if err := rfs.Delete(RootInode, "a", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rfs.WriteFile(RootInode, "c", make([]byte, 8), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRamFSDeleteAndList(t *testing.T) {
	rfs := NewRamFS(16, 128)
	rfs.WriteFile(RootInode, "docs", nil, true)
	rfs.WriteFile(RootInode, "one", []byte("1"), false)
	rfs.WriteFile(RootInode, "two", []byte("22"), false)

	docs, _ := rfs.Lookup(RootInode, "docs")
	rfs.WriteFile(docs.Inode, "readme", []byte("text"), false)

	entries, err := rfs.List(RootInode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expNames := []string{"docs", "one", "two"}
	if len(entries) != len(expNames) {
		t.Fatalf("expected %d entries; got %d", len(expNames), len(entries))
	}
	for i, exp := range expNames {
		if entries[i].Name != exp {
			t.Errorf("expected entry %d to be %q; got %q", i, exp, entries[i].Name)
		}
	}
	if entries[2].Size != 2 || entries[2].IsDir {
		t.Errorf("unexpected entry for %q: %+v", "two", entries[2])
	}

	specs := []struct {
		parent Inode
		name   string
		isDir  bool
		expErr *kernel.Error
	}{
		{RootInode, "docs", true, ErrNotEmpty},
		{RootInode, "docs", false, ErrNotFound},
		{RootInode, "one", true, ErrNotFound},
		{RootInode, "one", false, nil},
		{RootInode, "one", false, ErrNotFound},
		{docs.Inode, "readme", false, nil},
		{RootInode, "docs", true, nil},
	}

	for specIndex, spec := range specs {
		if err := rfs.Delete(spec.parent, spec.name, spec.isDir); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	entries, _ = rfs.List(RootInode)
	if len(entries) != 1 || entries[0].Name != "two" {
		t.Fatalf("expected only %q to remain; got %+v", "two", entries)
	}

	if _, err := rfs.List(docs.Inode); err != ErrNotFound {
		t.Fatalf("expected listing a deleted directory to return ErrNotFound; got %v", err)
	}
}

func TestRamFSOpen(t *testing.T) {
	rfs := NewRamFS(4, 64)
	rfs.WriteFile(RootInode, "prog", []byte("0123456789"), false)
	rfs.WriteFile(RootInode, "dir", nil, true)

	f, err := rfs.Open(RootInode, "prog")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.Size(); got != 10 {
		t.Fatalf("expected file size 10; got %d", got)
	}

	buf := make([]byte, 4)
	if n, err := f.ReadAt(buf, 3); n != 4 || err != nil || string(buf) != "3456" {
		t.Fatalf("expected to read %q; got %q (n=%d, err=%v)", "3456", buf[:n], n, err)
	}

	if n, err := f.ReadAt(buf, 8); n != 2 || err != io.EOF {
		t.Fatalf("expected a short read to return 2 bytes and io.EOF; got %d, %v", n, err)
	}

	if _, err := f.ReadAt(buf, 10); err != io.EOF {
		t.Fatalf("expected reading past the end to return io.EOF; got %v", err)
	}

	if _, err := rfs.Open(RootInode, "dir"); err != ErrNotFound {
		t.Fatalf("expected opening a directory to return ErrNotFound; got %v", err)
	}
}

func TestRamFSWriteToMissingDirectory(t *testing.T) {
	rfs := NewRamFS(8, 1024)

	for _, isDir := range []bool{false, true} {
		if err := rfs.WriteFile(Inode(100), "x", []byte("data"), isDir); err != ErrNotFound {
			t.Errorf("expected ErrNotFound when isDir is %t; got %v", isDir, err)
		}
	}

	if exp, got := 1, len(rfs.nodes); got != exp {
		t.Fatalf("expected only the root node to exist; got %d nodes", got)
	}
	if rfs.usedBytes != 0 {
		t.Fatalf("expected no bytes to be accounted; got %d", rfs.usedBytes)
	}

	// The inode counter is untouched, so the next entry gets the first inode.
	if err := rfs.WriteFile(RootInode, "x", nil, false); err != nil {
		t.Fatal(err)
	}
	if entry, _ := rfs.Lookup(RootInode, "x"); entry.Inode != RootInode+1 {
		t.Fatalf("expected inode %d; got %d", RootInode+1, entry.Inode)
	}
}
