// Package telnet implements the in-band protocol layer of the engine: it
// strips IAC command sequences from the raw byte stream, answers the small
// set of negotiations a MUD session actually needs (terminal type and one
// MSDP variable), and decodes the surviving bytes to text.
package telnet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Telnet opcodes
const (
	// EOR - End Of Record. Used by some servers as an alternative to GA for
	// marking the end of a prompt.
	EOR byte = 239
	// SE - Subnegotiation End. IAC SE marks the end of a subnegotiation command.
	SE byte = 240
	// NOP - No-Op. Ignored.
	NOP byte = 241
	// GA - Go Ahead. Often used to indicate the end of a prompt line.
	GA byte = 249
	// SB - Subnegotiation Begin. Introduces option-specific payload bytes
	// terminated by IAC SE.
	SB byte = 250
	// WILL indicates the sender intends to activate an option.
	WILL byte = 251
	// WONT indicates the sender refuses to activate an option.
	WONT byte = 252
	// DO requests that the receiver activate an option.
	DO byte = 253
	// DONT demands that the receiver deactivate an option.
	DONT byte = 254
	// IAC introduces every command.
	IAC byte = 255
)

// Option codes the engine negotiates or recognizes.
const (
	// OptTermType is the TERMINAL-TYPE option (RFC 1091).
	OptTermType byte = 24
	// OptMSDP is the Mud Server Data Protocol option.
	OptMSDP byte = 69
)

// TTYPE subnegotiation verbs.
const (
	TermTypeIs   byte = 0
	TermTypeSend byte = 1
)

// MSDPVal separates a variable name from its value in an MSDP frame.
const MSDPVal byte = 1

var commandCodes = map[byte]string{
	EOR:  "EOR",
	SE:   "SE",
	NOP:  "NOP",
	GA:   "GA",
	SB:   "SB",
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
	IAC:  "IAC",
}

// Command is a single IAC command received from or sent to the remote.
// Subnegotiations, which arrive as IAC SB <bytes> IAC SE, are represented
// as one Command with the OpCode SB; IAC SE never appears on its own.
type Command struct {
	// OpCode is the code that follows IAC.
	OpCode byte
	// Option is the telnet option this command refers to, for the opcodes
	// that carry one (WILL/WONT/DO/DONT/SB).
	Option byte
	// Subnegotiation holds the bytes between IAC SB <option> and IAC SE.
	// Empty for non-SB commands.
	Subnegotiation []byte
}

func parseCommand(data []byte) (Command, error) {
	if data[0] != IAC {
		return Command{}, fmt.Errorf("command did not begin with IAC: %q", commandStream(data))
	}

	if len(data) < 2 {
		return Command{}, errors.New("command was just a standalone IAC with no opcode")
	}

	if data[1] == NOP || data[1] == GA || data[1] == EOR {
		return Command{OpCode: data[1]}, nil
	}

	if len(data) < 3 {
		return Command{}, fmt.Errorf("command did not contain parameters: %q", commandStream(data))
	}

	if data[1] != SB {
		return Command{
			OpCode: data[1],
			Option: data[2],
		}, nil
	}

	if len(data) < 5 || data[len(data)-2] != IAC || data[len(data)-1] != SE {
		return Command{}, fmt.Errorf("subnegotiation command did not end with IAC SE: %q", commandStream(data))
	}

	// Doubled 255s in the subnegotiation payload collapse to a single 255,
	// just like in the main text stream.
	subnegotiationData := data[3 : len(data)-2]
	finalBuffer := make([]byte, 0, len(subnegotiationData))

	for i := 0; i < len(subnegotiationData); i++ {
		finalBuffer = append(finalBuffer, subnegotiationData[i])
		if subnegotiationData[i] == IAC && i+1 < len(subnegotiationData) && subnegotiationData[i+1] == IAC {
			i++
		}
	}

	return Command{
		OpCode:         data[1],
		Option:         data[2],
		Subnegotiation: finalBuffer,
	}, nil
}

// Bytes encodes the command back to its wire form, doubling any IAC bytes
// inside a subnegotiation payload.
func (c Command) Bytes() []byte {
	b := make([]byte, 0, len(c.Subnegotiation)+5)
	b = append(b, IAC, c.OpCode)

	if c.OpCode == GA || c.OpCode == NOP || c.OpCode == EOR {
		return b
	}

	b = append(b, c.Option)

	if c.OpCode != SB {
		return b
	}

	for _, payload := range c.Subnegotiation {
		b = append(b, payload)
		if payload == IAC {
			b = append(b, IAC)
		}
	}

	return append(b, IAC, SE)
}

// String converts the command into a legible stream for debug logging.
func (c Command) String() string {
	var sb strings.Builder
	sb.WriteString("IAC ")

	opCode, hasOpCode := commandCodes[c.OpCode]
	if !hasOpCode {
		opCode = strconv.Itoa(int(c.OpCode))
	}
	sb.WriteString(opCode)

	if c.OpCode == GA || c.OpCode == NOP || c.OpCode == EOR {
		return sb.String()
	}

	sb.WriteByte(' ')

	switch c.Option {
	case OptTermType:
		sb.WriteString("TTYPE")
	case OptMSDP:
		sb.WriteString("MSDP")
	default:
		sb.WriteString(strconv.Itoa(int(c.Option)))
	}

	if c.OpCode != SB {
		return sb.String()
	}

	sb.WriteByte(' ')
	sb.WriteString(fmt.Sprintf("%q", c.Subnegotiation))
	sb.WriteString(" IAC SE")
	return sb.String()
}

func commandStream(b []byte) string {
	var sb strings.Builder

	for i := 0; i < len(b); i++ {
		if i > 0 {
			sb.WriteRune(' ')
		}

		code, hasCode := commandCodes[b[i]]
		if !hasCode {
			sb.WriteString(strconv.Itoa(int(b[i])))
		} else {
			sb.WriteString(code)
		}
	}

	return sb.String()
}
