package conductor

import (
	"time"

	"honeyworks/hive-client/internal/conductor/wire"
	"honeyworks/hive-client/internal/holohash"
)

type CellID = holohash.CellID

// CapSecret authorises a call; nil means unrestricted access.
type CapSecret []byte

type CellInfo struct {
	CellID   CellID `codec:"cell_id" json:"cell_id"`
	CellNick string `codec:"cell_nick" json:"cell_nick"`
}

type AppInfo struct {
	InstalledAppID string     `codec:"installed_app_id" json:"installed_app_id"`
	CellData       []CellInfo `codec:"cell_data" json:"cell_data"`
	Active         bool       `codec:"active" json:"active"`
}

// ZomeCall names a zome function on a cell. Payload is msgpack encoded on the wire.
type ZomeCall struct {
	CellID     CellID
	ZomeName   string
	FnName     string
	Cap        CapSecret
	Provenance holohash.AgentPubKey
	Payload    any
}

func (c ZomeCall) invocation() (wire.ZomeCallInvocation, error) {
	payload, err := wire.Marshal(c.Payload)
	if err != nil {
		return wire.ZomeCallInvocation{}, err
	}
	return wire.ZomeCallInvocation{
		CellID:     c.CellID,
		ZomeName:   c.ZomeName,
		FnName:     c.FnName,
		Payload:    payload,
		Cap:        c.Cap,
		Provenance: c.Provenance,
	}, nil
}

// ZomeCallFromInvocation is the inverse of the encoding CallZome performs.
func ZomeCallFromInvocation(inv wire.ZomeCallInvocation) (ZomeCall, error) {
	var payload any
	if err := wire.Unmarshal(inv.Payload, &payload); err != nil {
		return ZomeCall{}, err
	}
	return ZomeCall{
		CellID:     inv.CellID,
		ZomeName:   inv.ZomeName,
		FnName:     inv.FnName,
		Cap:        CapSecret(inv.Cap),
		Provenance: inv.Provenance,
		Payload:    payload,
	}, nil
}

// Result is a decoded zome call response.
type Result struct {
	Value any
	Raw   []byte
}

// Decode decodes the raw response into v.
func (r *Result) Decode(v any) error {
	if r == nil {
		return &DecodeError{What: "zome call result", Err: ErrClosed}
	}
	if err := wire.Unmarshal(r.Raw, v); err != nil {
		return &DecodeError{What: "zome call result", Err: err}
	}
	return nil
}

const (
	SignalApp    = "app"
	SignalSystem = "system"
)

type Signal struct {
	Kind       string    `json:"kind"`
	CellID     *CellID   `json:"cell_id,omitempty"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
