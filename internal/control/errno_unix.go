//go:build unix

package control

import "golang.org/x/sys/unix"

var (
	errNoSuchProcess error = unix.ESRCH
	errPermission    error = unix.EPERM
)
