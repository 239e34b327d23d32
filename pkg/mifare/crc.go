package mifare

// CRCA computes the ISO14443-A frame CRC.
func CRCA(data []byte) uint16 {
	crc := uint16(0x6363)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = crc>>8 ^ uint16(b)<<8 ^ uint16(b)<<3 ^ uint16(b)>>4
	}
	return crc
}

// AppendCRC appends the CRC, least significant byte first.
func AppendCRC(data []byte) []byte {
	crc := CRCA(data)
	return append(data, byte(crc), byte(crc>>8))
}

// CheckCRC reports whether the last two bytes of frame are its CRC.
func CheckCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := CRCA(frame[:n])
	return frame[n] == byte(crc) && frame[n+1] == byte(crc>>8)
}
