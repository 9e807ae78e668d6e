package telnet

import (
	"bytes"

	"github.com/rs/zerolog"

	"github.com/mudlark/mudlark/logging"
)

// Framer separates in-band IAC commands from application bytes. It is
// stateful: an IAC sequence that is incomplete at the end of one Consume
// call is held back and finished by the next call, so a partial sequence
// split across reads is never misread as text.
//
// The framer answers the negotiations the engine cares about (terminal
// type) and silently consumes every other command.
type Framer struct {
	termType string
	pending  []byte
	log      zerolog.Logger
}

// NewFramer creates a framer that reports termType during TTYPE negotiation.
func NewFramer(termType string) *Framer {
	return &Framer{
		termType: termType,
		log:      logging.GetLogger("telnet.framer"),
	}
}

// Consume scans raw bytes from the wire and returns the application bytes
// with all IAC sequences removed, plus any negotiation replies that should
// be written back to the remote. Sending the replies is the caller's job.
func (f *Framer) Consume(raw []byte) (clean []byte, replies [][]byte) {
	data := append(f.pending, raw...)
	f.pending = nil

	for len(data) > 0 {
		advance := frameToken(data)
		if advance == 0 {
			// Incomplete trailing sequence, wait for more bytes.
			f.pending = append(f.pending, data...)
			break
		}

		token := data[:advance]
		data = data[advance:]

		if token[0] != IAC {
			clean = append(clean, token...)
			continue
		}

		if len(token) == 2 && token[1] == IAC {
			// Escaped literal 255.
			clean = append(clean, IAC)
			continue
		}

		if reply := f.handleCommand(token); reply != nil {
			replies = append(replies, reply...)
		}
	}

	return clean, replies
}

func (f *Framer) handleCommand(token []byte) [][]byte {
	cmd, err := parseCommand(token)
	if err != nil {
		// Protocol anomalies never propagate; the offending bytes are dropped.
		f.log.Debug().Err(err).Msg("dropping malformed command")
		return nil
	}

	f.log.Trace().Stringer("command", cmd).Msg("received command")

	switch {
	case cmd.OpCode == DO && cmd.Option == OptTermType:
		return [][]byte{{IAC, WILL, OptTermType}}

	case cmd.OpCode == SB && cmd.Option == OptTermType:
		if len(cmd.Subnegotiation) > 0 && cmd.Subnegotiation[0] == TermTypeSend {
			sub := make([]byte, 0, len(f.termType)+1)
			sub = append(sub, TermTypeIs)
			sub = append(sub, []byte(f.termType)...)

			reply := Command{OpCode: SB, Option: OptTermType, Subnegotiation: sub}
			return [][]byte{reply.Bytes()}
		}
	}

	return nil
}

// EncodeMSDP builds an MSDP "set variable" frame:
// IAC SB MSDP <variable> MSDP_VAL <value> IAC SE.
func EncodeMSDP(variable, value string) []byte {
	sub := make([]byte, 0, len(variable)+len(value)+1)
	sub = append(sub, []byte(variable)...)
	sub = append(sub, MSDPVal)
	sub = append(sub, []byte(value)...)

	cmd := Command{OpCode: SB, Option: OptMSDP, Subnegotiation: sub}
	return cmd.Bytes()
}

// frameToken reports how many bytes of data make up the next complete
// token: either a run of plain text up to the next IAC, or one whole IAC
// sequence. It returns 0 when the data ends in an incomplete sequence.
func frameToken(data []byte) int {
	specialCharIndex := bytes.IndexByte(data, IAC)

	if specialCharIndex > 0 {
		// Release all text up to the IAC.
		return specialCharIndex
	} else if specialCharIndex < 0 {
		// No special char, release everything.
		return len(data)
	}

	// 'IAC IAC' releases on its own, it's escaped text.
	if len(data) >= 2 && data[1] == IAC {
		return 2
	}

	// A lone IAC needs more data.
	if len(data) <= 1 {
		return 0
	}

	// IAC GA, IAC EOR, and IAC NOP release on their own. SE should never
	// appear here, but if it does we recover by consuming it.
	if data[1] == GA || data[1] == NOP || data[1] == SE || data[1] == EOR {
		return 2
	}

	// Everything else needs at least three bytes.
	if len(data) < 3 {
		return 0
	}

	if data[1] != SB {
		// Everything except subnegotiations comes in three-byte sets.
		return 3
	}

	nextIndex := 0

	for {
		nextSpecialCharIndex := bytes.IndexByte(data[nextIndex+1:], IAC)

		// No more IACs, subnegotiation end is not in the buffer yet.
		if nextSpecialCharIndex < 0 {
			return 0
		}

		nextIndex += nextSpecialCharIndex + 1
		if len(data) <= nextIndex+1 {
			// IAC is the last byte, wait for more.
			return 0
		}

		if data[nextIndex+1] == SE {
			return nextIndex + 2
		}

		if data[nextIndex+1] == IAC {
			// Doubled 255s inside the payload are skipped over.
			nextIndex++
		}
	}
}
