package lfs

import (
	"bufio"
	"io"
)

const (
	crc24Init = 0xB704CE
	crc24Poly = 0x1864CFB
	crc24Mask = 0xFFFFFF
)

// Crc24 computes the 24-bit CRC (RFC 4880 parameters) used as a fork's
// content identity.
func Crc24(data []byte) uint32 {
	return updateCrc24(crc24Init, data)
}

// ComputeCrc24 reads r to the end and returns its CRC-24 and length.
func ComputeCrc24(r io.Reader) (uint32, uint64, error) {
	crc := uint32(crc24Init)
	var n uint64
	br := bufio.NewReader(r)
	buf := make([]byte, 32*1024)
	for {
		read, err := br.Read(buf)
		if read > 0 {
			crc = updateCrc24(crc, buf[:read])
			n += uint64(read)
		}
		if err == io.EOF {
			return crc & crc24Mask, n, nil
		}
		if err != nil {
			return 0, n, err
		}
	}
}

func updateCrc24(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= crc24Poly
			}
		}
	}
	return crc & crc24Mask
}
