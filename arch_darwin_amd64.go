//go:build darwin && amd64

package minicore

import "encoding/binary"

const isARM64 = false

var byteOrder = binary.LittleEndian
