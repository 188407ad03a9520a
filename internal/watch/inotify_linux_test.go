//go:build linux

package watch

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

// rawEvent encodes one struct inotify_event with a NUL-padded name.
func rawEvent(wd int32, mask uint32, name string) []byte {
	nameLen := 0
	if name != "" {
		nameLen = (len(name) + 1 + 3) &^ 3
	}
	buf := make([]byte, unix.SizeofInotifyEvent+nameLen)
	binary.NativeEndian.PutUint32(buf[0:], uint32(wd))
	binary.NativeEndian.PutUint32(buf[4:], mask)
	binary.NativeEndian.PutUint32(buf[12:], uint32(nameLen))
	copy(buf[unix.SizeofInotifyEvent:], name)
	return buf
}

func TestInotifyParse(t *testing.T) {
	s := &inotifySource{
		watches: map[ID]string{1: "/var/log", 2: "/var/log/auth.log"},
		errors:  make(chan error, 1),
	}

	var buf []byte
	buf = append(buf, rawEvent(1, unix.IN_CREATE, "auth.log")...)
	buf = append(buf, rawEvent(2, unix.IN_MODIFY, "")...)
	buf = append(buf, rawEvent(1, unix.IN_CREATE|unix.IN_ISDIR, "subdir")...)
	buf = append(buf, rawEvent(2, unix.IN_ATTRIB, "")...)
	buf = append(buf, rawEvent(2, unix.IN_IGNORED, "")...)
	buf = append(buf, rawEvent(-1, unix.IN_Q_OVERFLOW, "")...)
	buf = append(buf, rawEvent(1, unix.IN_MOVED_TO, "auth.log")...)

	got := s.parse(buf)
	want := []Event{
		{Watch: 1, Op: Create, Name: "auth.log"},
		{Watch: 2, Op: Modify},
		{Watch: 2, Op: Attrib},
		{Watch: 1, Op: MovedTo, Name: "auth.log"},
	}

	if len(got) != len(want) {
		t.Fatalf("parse() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, ok := s.watches[2]; ok {
		t.Error("IN_IGNORED should drop the watch from the registry")
	}
	select {
	case err := <-s.errors:
		if err != ErrOverflow {
			t.Errorf("error = %v, want ErrOverflow", err)
		}
	default:
		t.Error("expected overflow error")
	}
}

func TestTranslateMask(t *testing.T) {
	got := translateMask(unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVE_SELF)
	if got != Modify|Attrib|MoveSelf {
		t.Errorf("translateMask() = %v", got)
	}
	if got := translateMask(unix.IN_ACCESS); got != 0 {
		t.Errorf("translateMask(IN_ACCESS) = %v, want NONE", got)
	}
}

func TestInotifySourceEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.log")

	src, err := NewInotify()
	if err != nil {
		t.Fatalf("NewInotify: %v", err)
	}
	defer src.Close()

	dirID, err := src.AddDir(dir)
	if err != nil {
		t.Fatalf("AddDir: %v", err)
	}

	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	ev := waitEvent(t, src, func(ev Event) bool { return ev.Watch == dirID && ev.Op.Has(Create) })
	if ev.Name != "auth.log" {
		t.Errorf("Name = %q, want %q", ev.Name, "auth.log")
	}

	fileID, err := src.AddFile(path)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if fileID == dirID {
		t.Fatal("file and directory watches share an id")
	}

	if err := os.WriteFile(path, []byte("x\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	waitEvent(t, src, func(ev Event) bool { return ev.Watch == fileID && ev.Op.Has(Modify) })

	if err := os.Rename(path, filepath.Join(dir, "auth.log.1")); err != nil {
		t.Fatalf("failed to rename file: %v", err)
	}
	waitEvent(t, src, func(ev Event) bool { return ev.Watch == fileID && ev.Op.Has(MoveSelf) })

	if err := src.Remove(fileID); err != nil {
		t.Errorf("Remove: %v", err)
	}
	// A second removal hits a watch the kernel no longer knows.
	if err := src.Remove(fileID); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestInotifyAddMissingFile(t *testing.T) {
	src, err := NewInotify()
	if err != nil {
		t.Fatalf("NewInotify: %v", err)
	}
	defer src.Close()

	if _, err := src.AddFile(filepath.Join(t.TempDir(), "missing.log")); err == nil {
		t.Error("expected error watching a missing file")
	}
}
