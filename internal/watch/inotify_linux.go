//go:build linux

package watch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	inotifyDirMask  = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_DELETE | unix.IN_ONLYDIR
	inotifyFileMask = unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVE_SELF

	nameMax = 255
)

// inotifySource talks to the kernel inotify interface directly. Watch IDs are
// the kernel watch descriptors, so events of a previous file incarnation keep
// their old descriptor and can be told apart from the current one.
type inotifySource struct {
	fd    int
	pipeR int
	pipeW int

	mu      sync.Mutex
	watches map[ID]string

	events chan Event
	errors chan error

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewInotify creates a Source backed by Linux inotify.
func NewInotify() (Source, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify pipe: %w", err)
	}

	s := &inotifySource{
		fd:      fd,
		pipeR:   pipeFds[0],
		pipeW:   pipeFds[1],
		watches: make(map[ID]string),
		events:  make(chan Event, 64),
		errors:  make(chan error, 8),
		stop:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *inotifySource) AddDir(path string) (ID, error) {
	return s.add(path, inotifyDirMask)
}

func (s *inotifySource) AddFile(path string) (ID, error) {
	return s.add(path, inotifyFileMask)
}

func (s *inotifySource) add(path string, mask uint32) (ID, error) {
	wd, err := unix.InotifyAddWatch(s.fd, path, mask)
	if err != nil {
		return 0, fmt.Errorf("inotify add watch %s: %w", path, err)
	}

	s.mu.Lock()
	s.watches[ID(wd)] = path
	s.mu.Unlock()

	return ID(wd), nil
}

func (s *inotifySource) Remove(id ID) error {
	s.mu.Lock()
	delete(s.watches, id)
	s.mu.Unlock()

	// EINVAL: the kernel already dropped the watch (inode gone).
	if _, err := unix.InotifyRmWatch(s.fd, uint32(id)); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("inotify remove watch %d: %w", id, err)
	}
	return nil
}

func (s *inotifySource) Events() <-chan Event {
	return s.events
}

func (s *inotifySource) Errors() <-chan error {
	return s.errors
}

func (s *inotifySource) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		unix.Write(s.pipeW, []byte{0}) //nolint:errcheck
		s.wg.Wait()
		unix.Close(s.pipeW)
		unix.Close(s.pipeR)
		unix.Close(s.fd)
	})
	return nil
}

func (s *inotifySource) run() {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.errors)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+nameMax+1))
	pollFds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.pipeR), Events: unix.POLLIN},
	}

	for {
		if _, err := unix.Poll(pollFds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			log.Printf("[watch] inotify poll error: %v", err)
			return
		}

		if pollFds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pollFds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			log.Printf("[watch] inotify read error: %v", err)
			return
		}

		for _, ev := range s.parse(buf[:n]) {
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

// parse decodes a buffer of struct inotify_event records:
//
//	int32 wd; uint32 mask; uint32 cookie; uint32 len; char name[len];
func (s *inotifySource) parse(buf []byte) []Event {
	var out []Event

	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		wd := int32(binary.NativeEndian.Uint32(buf[offset:]))
		mask := binary.NativeEndian.Uint32(buf[offset+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[offset+12:]))
		offset += unix.SizeofInotifyEvent

		var name string
		if nameLen > 0 {
			if offset+nameLen > len(buf) {
				break
			}
			name = strings.TrimRight(string(buf[offset:offset+nameLen]), "\x00")
			offset += nameLen
		}

		if mask&unix.IN_Q_OVERFLOW != 0 {
			select {
			case s.errors <- ErrOverflow:
			default:
			}
			continue
		}
		if mask&unix.IN_IGNORED != 0 {
			s.mu.Lock()
			delete(s.watches, ID(wd))
			s.mu.Unlock()
			continue
		}
		if mask&unix.IN_ISDIR != 0 {
			continue
		}

		if op := translateMask(mask); op != 0 {
			out = append(out, Event{Watch: ID(wd), Op: op, Name: name})
		}
	}

	return out
}

func translateMask(mask uint32) Op {
	var op Op
	if mask&unix.IN_CREATE != 0 {
		op |= Create
	}
	if mask&unix.IN_MOVED_TO != 0 {
		op |= MovedTo
	}
	if mask&unix.IN_DELETE != 0 {
		op |= Delete
	}
	if mask&unix.IN_MODIFY != 0 {
		op |= Modify
	}
	if mask&unix.IN_ATTRIB != 0 {
		op |= Attrib
	}
	if mask&unix.IN_MOVE_SELF != 0 {
		op |= MoveSelf
	}
	return op
}
