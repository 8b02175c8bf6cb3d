package serial

import (
	"fmt"
	"strconv"
	"strings"
)

// BaudKey is a platform-native baud rate selector: one of the packed
// CBAUD constants from termios_linux.go.
type BaudKey = CFlag

// BaudMax is the sentinel an unrecognized baud string resolves to. The
// CLI warns and continues rather than aborting, per spec.md's usage
// error policy for bad baud strings.
const BaudMax = B4000000

var stringToBaud = map[string]BaudKey{
	"50":      B50,
	"75":      B75,
	"110":     B110,
	"134":     B134,
	"150":     B150,
	"200":     B200,
	"300":     B300,
	"600":     B600,
	"1200":    B1200,
	"1800":    B1800,
	"2400":    B2400,
	"4800":    B4800,
	"9600":    B9600,
	"19200":   B19200,
	"38400":   B38400,
	"57600":   B57600,
	"115200":  B115200,
	"230400":  B230400,
	"460800":  B460800,
	"500000":  B500000,
	"576000":  B576000,
	"921600":  B921600,
	"1000000": B1000000,
	"1152000": B1152000,
	"1500000": B1500000,
	"2000000": B2000000,
	"2500000": B2500000,
	"3000000": B3000000,
	"3500000": B3500000,
	"4000000": B4000000,
}

var baudToString map[BaudKey]string

func init() {
	baudToString = make(map[BaudKey]string, len(stringToBaud))
	for s, k := range stringToBaud {
		baudToString[k] = s
	}
}

// BaudFromString resolves a decimal string with an optional "bps" suffix
// (e.g. "57600" or "115200bps") to a baud key. Unknown strings resolve
// to BaudMax and ok=false; callers must warn and continue, never abort.
func BaudFromString(s string) (key BaudKey, ok bool) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "bps"))
	key, ok = stringToBaud[s]
	if !ok {
		return BaudMax, false
	}
	return key, true
}

// BaudFromInt resolves a plain decimal baud rate.
func BaudFromInt(n int) (key BaudKey, ok bool) {
	return BaudFromString(strconv.Itoa(n))
}

// KeyToString is the inverse of BaudFromString, used for round-trip
// tests and log messages.
func KeyToString(k BaudKey) string {
	if s, ok := baudToString[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown(0x%x)", uint32(k))
}
