package telnet

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrUndecodable is returned when no charset in the preference chain can
// decode a chunk of bytes. Callers drop such data rather than failing the
// session.
var ErrUndecodable = errors.New("telnet: bytes not decodable by any configured charset")

type charsetEntry struct {
	name    string
	decoder *encoding.Decoder
}

// charsetAliases maps the friendly names users write in config to the
// names the IANA registry actually knows.
var charsetAliases = map[string]string{
	"mac-roman": "macintosh",
	"macroman":  "macintosh",
}

// Decoder converts raw server bytes to text by trying a fixed preference
// chain of character sets and keeping the first successful decode. MUD
// servers overwhelmingly use 8-bit legacy encodings; UTF-8 leads the
// default chain only because it is self-validating and common on modern
// servers.
type Decoder struct {
	chain []charsetEntry
}

// NewDecoder builds a decoder from a list of IANA charset names, tried in
// order. Names "UTF-8" and "US-ASCII" are validated byte-wise rather than
// through a transformer, since their decoders accept anything.
func NewDecoder(names []string) (*Decoder, error) {
	d := &Decoder{}

	for _, name := range names {
		upper := strings.ToUpper(name)
		if upper == "UTF-8" || upper == "US-ASCII" {
			d.chain = append(d.chain, charsetEntry{name: upper})
			continue
		}

		lookup := name
		if alias, ok := charsetAliases[strings.ToLower(name)]; ok {
			lookup = alias
		}
		cs, err := ianaindex.IANA.Encoding(lookup)
		if err != nil || cs == nil {
			return nil, fmt.Errorf("telnet: unsupported charset %q", name)
		}

		d.chain = append(d.chain, charsetEntry{name: name, decoder: cs.NewDecoder()})
	}

	if len(d.chain) == 0 {
		return nil, errors.New("telnet: empty charset chain")
	}

	return d, nil
}

// Decode returns the decoded text and the name of the charset that
// produced it. A decode "succeeds" when it yields no replacement runes.
func (d *Decoder) Decode(b []byte) (text string, charset string, err error) {
	if len(b) == 0 {
		return "", d.chain[0].name, nil
	}

	for _, entry := range d.chain {
		switch entry.name {
		case "UTF-8":
			if utf8.Valid(b) {
				return string(b), entry.name, nil
			}
		case "US-ASCII":
			if isASCII(b) {
				return string(b), entry.name, nil
			}
		default:
			decoded, decodeErr := entry.decoder.Bytes(b)
			if decodeErr != nil {
				continue
			}
			if !strings.ContainsRune(string(decoded), utf8.RuneError) {
				return string(decoded), entry.name, nil
			}
		}
	}

	return "", "", ErrUndecodable
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}
