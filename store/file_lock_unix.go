//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(path string) (func() error, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, FileStorePerm)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(fd.Fd()), unix.LOCK_EX); err != nil {
		fd.Close()
		return nil, err
	}
	return func() error {
		if err := unix.Flock(int(fd.Fd()), unix.LOCK_UN); err != nil {
			fd.Close()
			return err
		}
		return fd.Close()
	}, nil
}
