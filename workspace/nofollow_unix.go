//go:build unix

package workspace

import "golang.org/x/sys/unix"

const oNoFollow = unix.O_NOFOLLOW
