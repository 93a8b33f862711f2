package fs

import (
	"io"
	"kestrel/kernel"
	"kestrel/kernel/sync"
)

type ramNode struct {
	name     string
	parent   Inode
	isDir    bool
	data     []byte
	children []Inode
}

// RamFS is a FileSystem that keeps all of its contents in memory. Its
// capacity is bounded both in entries and in total file bytes.
type RamFS struct {
	lock sync.Spinlock

	nodes     map[Inode]*ramNode
	nextInode Inode
	maxNodes  int
	maxBytes  int
	usedBytes int
}

// NewRamFS creates an empty filesystem that holds at most maxNodes entries
// (including the root directory) and maxBytes bytes of file data.
func NewRamFS(maxNodes, maxBytes int) *RamFS {
	return &RamFS{
		nodes: map[Inode]*ramNode{
			RootInode: {name: "/", parent: RootInode, isDir: true},
		},
		nextInode: RootInode + 1,
		maxNodes:  maxNodes,
		maxBytes:  maxBytes,
	}
}

// dir returns the directory with the supplied inode.
func (rfs *RamFS) dir(inode Inode) (*ramNode, *kernel.Error) {
	node, ok := rfs.nodes[inode]
	switch {
	case !ok:
		return nil, ErrNotFound
	case !node.isDir:
		return nil, ErrNotDir
	default:
		return node, nil
	}
}

// find returns the child of parent called name.
func (rfs *RamFS) find(parent Inode, name string) (Inode, *ramNode, *kernel.Error) {
	dir, err := rfs.dir(parent)
	if err != nil {
		return 0, nil, err
	}

	if !ValidName(name) {
		return 0, nil, ErrInvalidName
	}

	for _, inode := range dir.children {
		if node := rfs.nodes[inode]; node.name == name {
			return inode, node, nil
		}
	}

	return 0, nil, ErrNotFound
}

// ReadFile copies the contents of a regular file into buf.
func (rfs *RamFS) ReadFile(parent Inode, name string, buf []byte) (int, *kernel.Error) {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	_, node, err := rfs.find(parent, name)
	switch {
	case err != nil:
		return 0, err
	case node.isDir:
		return 0, ErrNotFound
	case len(buf) < len(node.data):
		return 0, ErrBufferTooSmall
	}

	return copy(buf, node.data), nil
}

// WriteFile creates a new file or directory.
func (rfs *RamFS) WriteFile(parent Inode, name string, data []byte, isDir bool) *kernel.Error {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	dir, err := rfs.dir(parent)
	if err != nil {
		return err
	}

	_, _, err = rfs.find(parent, name)
	switch err {
	case nil:
		return ErrExists
	case ErrNotFound:
	default:
		return err
	}

	if isDir {
		data = nil
	}
	if len(rfs.nodes) >= rfs.maxNodes || rfs.usedBytes+len(data) > rfs.maxBytes {
		return ErrNoSpace
	}

	inode := rfs.nextInode
	rfs.nextInode++
	rfs.nodes[inode] = &ramNode{
		name:   name,
		parent: parent,
		isDir:  isDir,
		data:   append([]byte(nil), data...),
	}
	rfs.usedBytes += len(data)

	dir.children = append(dir.children, inode)
	return nil
}

// Delete removes a file or an empty directory. The isDir argument must match
// the entry type.
func (rfs *RamFS) Delete(parent Inode, name string, isDir bool) *kernel.Error {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	inode, node, err := rfs.find(parent, name)
	switch {
	case err != nil:
		return err
	case node.isDir != isDir:
		return ErrNotFound
	case len(node.children) != 0:
		return ErrNotEmpty
	}

	dir := rfs.nodes[parent]
	for i, child := range dir.children {
		if child == inode {
			dir.children = append(dir.children[:i], dir.children[i+1:]...)
			break
		}
	}

	rfs.usedBytes -= len(node.data)
	delete(rfs.nodes, inode)
	return nil
}

// List returns the entries of a directory in creation order.
func (rfs *RamFS) List(parent Inode) ([]DirEntry, *kernel.Error) {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	dir, err := rfs.dir(parent)
	if err != nil {
		return nil, err
	}

	entries := make([]DirEntry, 0, len(dir.children))
	for _, inode := range dir.children {
		entries = append(entries, rfs.entry(inode))
	}

	return entries, nil
}

// Lookup returns the entry called name in directory parent.
func (rfs *RamFS) Lookup(parent Inode, name string) (DirEntry, *kernel.Error) {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	inode, _, err := rfs.find(parent, name)
	if err != nil {
		return DirEntry{}, err
	}

	return rfs.entry(inode), nil
}

func (rfs *RamFS) entry(inode Inode) DirEntry {
	node := rfs.nodes[inode]
	return DirEntry{
		Name:  node.name,
		Inode: inode,
		Size:  uint32(len(node.data)),
		IsDir: node.isDir,
	}
}

// Open returns a handle to a regular file. The handle keeps reading the
// contents the file had when it was opened.
func (rfs *RamFS) Open(parent Inode, name string) (File, *kernel.Error) {
	rfs.lock.Acquire()
	defer rfs.lock.Release()

	_, node, err := rfs.find(parent, name)
	switch {
	case err != nil:
		return nil, err
	case node.isDir:
		return nil, ErrNotFound
	}

	return ramFile(node.data), nil
}

// ramFile is an open RamFS file.
type ramFile []byte

// ReadAt implements io.ReaderAt.
func (f ramFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f)) {
		return 0, io.EOF
	}

	n := copy(p, f[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the file size.
func (f ramFile) Size() uint32 {
	return uint32(len(f))
}
