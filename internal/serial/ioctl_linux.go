package serial

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

// termios ioctl request numbers, trimmed to attribute get/set and queue
// flush. Only tcgets, tcsets and tcflsh are issued; the termios2 pair
// (tcgets2/tcsets2) is defined but not used. Request numbers
// are Linux ABI constants, unchanged from the reference serial library
// this package is adapted from.
var (
	tcgets = uintptr(0x5401)
	tcsets = uintptr(0x5402)

	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(Termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(Termios2{}))

	tcflsh = uintptr(0x540B)
)
