package holohash

import "bytes"

// DnaHash identifies the DNA a cell runs.
type DnaHash []byte

func NewDnaHash(core []byte) (DnaHash, error) {
	raw, err := build(KindDna, core)
	return DnaHash(raw), err
}

func ParseDnaHash(s string) (DnaHash, error) {
	raw, err := decode(KindDna, s)
	return DnaHash(raw), err
}

func (h DnaHash) Validate() error          { return check(KindDna, h) }
func (h DnaHash) String() string           { return encode(h) }
func (h DnaHash) Fingerprint() string      { return fingerprint(h) }
func (h DnaHash) Equal(other DnaHash) bool { return bytes.Equal(h, other) }

func (h DnaHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// AgentPubKey identifies an agent; it doubles as call provenance.
type AgentPubKey []byte

func NewAgentPubKey(core []byte) (AgentPubKey, error) {
	raw, err := build(KindAgent, core)
	return AgentPubKey(raw), err
}

func ParseAgentPubKey(s string) (AgentPubKey, error) {
	raw, err := decode(KindAgent, s)
	return AgentPubKey(raw), err
}

func (k AgentPubKey) Validate() error              { return check(KindAgent, k) }
func (k AgentPubKey) String() string               { return encode(k) }
func (k AgentPubKey) Fingerprint() string          { return fingerprint(k) }
func (k AgentPubKey) Equal(other AgentPubKey) bool { return bytes.Equal(k, other) }

func (k AgentPubKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// CellID is the (DNA hash, agent key) pair addressing a cell. On the wire it is a
// two element array.
type CellID struct {
	_struct     bool        `codec:",toarray"` //nolint:unused
	DnaHash     DnaHash     `json:"dna_hash"`
	AgentPubKey AgentPubKey `json:"agent_pub_key"`
}

func NewCellID(dna DnaHash, agent AgentPubKey) CellID {
	return CellID{DnaHash: dna, AgentPubKey: agent}
}

func (c CellID) Validate() error {
	if err := c.DnaHash.Validate(); err != nil {
		return err
	}
	return c.AgentPubKey.Validate()
}

func (c CellID) Equal(other CellID) bool {
	return c.DnaHash.Equal(other.DnaHash) && c.AgentPubKey.Equal(other.AgentPubKey)
}

func (c CellID) String() string {
	return c.DnaHash.String() + ":" + c.AgentPubKey.String()
}
