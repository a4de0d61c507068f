// Package xmodem implements the sending side of XMODEM-1K: 1024-byte data
// blocks framed with STX, a CRC-16 trailer instead of the classic 8-bit
// checksum, and the same handshake/ACK/NAK/CAN state machine as plain
// XMODEM. Grounded on the hand-rolled 128-byte XMODEM sender in
// other_examples (go.bug.st/serial, timeout-via-channel reads, retry loop),
// extended to 1K blocks and CRC as the UART bootstrap loader's wire format
// requires.
package xmodem

import (
	"fmt"
	"io"
	"time"

	"github.com/carizon/boardprov/internal/serialio"
)

const (
	soh      byte = 0x01
	stx      byte = 0x02
	eot      byte = 0x04
	ack      byte = 0x06
	nak      byte = 0x15
	can      byte = 0x18
	crcStart byte = 0x43 // 'C'

	blockSize1K  = 1024
	maxRetries   = 10
	ackTimeout   = 5 * time.Second
	handshakeGap = 1500 * time.Millisecond
)

// ProgressFunc reports block-level progress during a transfer; total and
// sent are block counts, not bytes.
type ProgressFunc func(total, sent, errors int)

// Send transfers all of data to p using XMODEM-1K/CRC. handshakeTimeout
// bounds how long Send waits for the receiver's initial 'C'.
func Send(p serialio.Port, data []byte, handshakeTimeout time.Duration, progress ProgressFunc) error {
	if err := awaitHandshake(p, handshakeTimeout); err != nil {
		return err
	}

	total := (len(data) + blockSize1K - 1) / blockSize1K
	if total == 0 {
		total = 1
	}
	errs := 0

	blockNum := byte(1)
	for off := 0; off < len(data) || (off == 0 && len(data) == 0); off += blockSize1K {
		end := off + blockSize1K
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, blockSize1K)
		n := copy(chunk, data[off:end])
		for i := n; i < blockSize1K; i++ {
			chunk[i] = 0x1a
		}

		if err := sendBlock(p, blockNum, chunk, &errs); err != nil {
			return err
		}

		sent := off/blockSize1K + 1
		if progress != nil {
			progress(total, sent, errs)
		}
		blockNum++

		if len(data) == 0 {
			break
		}
	}

	return sendEOT(p)
}

func awaitHandshake(p serialio.Port, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := serialio.ReadWithTimeout(p, buf, handshakeGap)
		if err == nil && n > 0 && buf[0] == crcStart {
			return nil
		}
	}
	return fmt.Errorf("xmodem: handshake timeout waiting for 'C'")
}

func sendBlock(p serialio.Port, blockNum byte, chunk []byte, errs *int) error {
	packet := make([]byte, 0, blockSize1K+5)
	packet = append(packet, stx, blockNum, ^blockNum)
	packet = append(packet, chunk...)
	crc := crc16CCITT(chunk)
	packet = append(packet, byte(crc>>8), byte(crc))

	resp := make([]byte, 1)
	for retry := 0; retry < maxRetries; retry++ {
		if _, err := p.Write(packet); err != nil {
			return fmt.Errorf("xmodem: write block %d: %w", blockNum, err)
		}

		n, err := serialio.ReadWithTimeout(p, resp, ackTimeout)
		if err != nil || n == 0 {
			*errs++
			continue
		}

		switch resp[0] {
		case ack:
			return nil
		case can:
			return fmt.Errorf("xmodem: transfer cancelled by receiver")
		case nak:
			*errs++
			serialio.Flush(p)
		default:
			*errs++
			serialio.Flush(p)
		}
	}

	return fmt.Errorf("xmodem: block %d: max retries exceeded", blockNum)
}

func sendEOT(p serialio.Port) error {
	resp := make([]byte, 1)
	for retry := 0; retry < maxRetries; retry++ {
		if _, err := p.Write([]byte{eot}); err != nil {
			return fmt.Errorf("xmodem: write EOT: %w", err)
		}
		n, err := serialio.ReadWithTimeout(p, resp, ackTimeout)
		if err == nil && n > 0 && resp[0] == ack {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("xmodem: no ACK for EOT")
}

// crc16CCITT computes the XMODEM-CRC variant (poly 0x1021, init 0).
func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ReadFile is a small helper so callers don't need an io import just to
// load a firmware image before calling Send.
func ReadFile(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
