//go:build darwin && arm64

package minicore

import "encoding/binary"

const isARM64 = true

var byteOrder = binary.LittleEndian
