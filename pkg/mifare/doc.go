/*
Package mifare drives key recovery against MIFARE Classic cards through a
reader device.

The package covers the parts of an attack that talk to hardware:
  - Capability probes (PRNG class, NACK oracle, magic backdoor generation)
  - Key verification (single target, multi-sector fast check, brute force)
  - The darkside attack (parity oracle, no key needed)
  - The nested attack (one known key leaks any other key on the card)
  - A PC/SC reader transport for readers that expose MIFARE Classic
    authentication through pseudo-APDUs

The cipher itself lives in package crypto1. Passive trace decoding lives in
package trace.

# Device Protocol

All device traffic goes through the Device interface: Send one Command, then
Wait for one or more Responses carrying the same Op. Integers inside Data are
big-endian. Keys are six bytes, most significant byte first. Block and key
type pairs are packed as block | keyType<<8, keyType being 0x60 (A) or
0x61 (B).

OpReaderRaw: raw ISO14443-A exchange

	Arg0: RawConnect | RawNoDisconnect | RawAppendCRC
	Arg1: number of bytes in Data
	Data: frame to send
	Response 1 (with RawConnect): Arg0 = 0 select failed, else card selected
	Response 2: Arg0 = received length, Data = received bytes

OpDarkside: one darkside round

	Arg0: block
	Arg1: key type
	Arg2: 1 on the first round (re-arm the parity condition), else 0
	Response: Arg0 = status (0 ok, see below)
	          Data = uid(4) nt(4) parity(8) keystream(8) nr(4) ar(4)

	Status -1  aborted on the device
	Status -2  card never answered with a NACK
	Status -3  PRNG not predictable, nonce could not be repeated
	Status -4  nonce did not change between rounds (static nonce family)

	Byte c of parity and keystream describes round c of eight. Bit i of a
	parity byte is the parity bit sent with byte i of nr‖ar. The low nibble
	of a keystream byte is the keystream under the encrypted NACK. nr is the
	encrypted reader nonce of the last round, ar the encrypted reader answer.

OpNested: nested authentications

	Arg0: known block | known key type<<8
	Arg1: target block | target key type<<8
	Data: known key (6)
	Response: Arg0 = status (0 ok, -1 known key rejected, -2 no card,
	          -3 PRNG not predictable), Arg1 = pair count N
	          Data = uid(4) then N × (nt(4) ks1(4))

	ks1 is the keystream that encrypted the tag nonce nt under the target
	key, i.e. the first keystream word after uid^nt was clocked in.

OpCheckKeys: try keys against one block

	Arg0: block | key type<<8
	Arg1: key count
	Data: keys, six bytes each
	Response: Arg0 = 1 on hit, Arg1 = index of the hit in Data

OpCheckKeysFast: try keys against every sector

	Arg0: sectors | first chunk<<8 | last chunk<<12
	Arg1: use backing store<<8 | strategy
	Arg2: key count
	Data: keys, six bytes each
	Response: Arg0 = keys found so far on the device
	          Data[12*s:12*s+12] = key A ‖ key B of sector s
	          Data[480:490]      = found bitmap, slot 2s+t at byte
	                               (2s+t)/8 bit (2s+t)%8

	The device keeps its table across chunks and resets it on the first
	chunk. An answer can take minutes, so callers poll.

OpNACKDetect: count NACKs over bad authentications

	Response (possibly after several polls): Arg0 = verdict
	(99 aborted, 98 or 96 PRNG not predictable, 97 odd behaviour,
	2 always leaks, 1 leaks, 0 no leak), Arg1 = NACKs, Arg2 = attempts

OpCIdent: magic backdoor identification

	Response: Arg0 = 0 none, 1 gen1a, 2 gen1b, 4 gen2 / CUID

OpFieldOff: drop the RF field. No response.
*/
package mifare
