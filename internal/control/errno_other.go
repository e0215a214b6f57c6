//go:build !unix

package control

import "syscall"

var (
	errNoSuchProcess error = syscall.ESRCH
	errPermission    error = syscall.EPERM
)
