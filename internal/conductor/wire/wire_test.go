package wire

import (
	"bytes"
	"testing"

	"honeyworks/hive-client/internal/holohash"
)

func TestFrameCarriesTypedEnvelope(t *testing.T) {
	frame, err := Frame(TypeRequest, 7, Envelope{
		Type: KindAppInfo,
		Data: AppInfoRequest{InstalledAppID: "honeyworks-backup"},
	})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}

	var msg Message
	if err := Unmarshal(frame, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Type != TypeRequest || msg.ID != 7 {
		t.Fatalf("unexpected message header: %+v", msg)
	}

	var env RawEnvelope
	if err := Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != KindAppInfo {
		t.Fatalf("unexpected envelope type %q", env.Type)
	}
	var req AppInfoRequest
	if err := Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.InstalledAppID != "honeyworks-backup" {
		t.Fatalf("unexpected app id %q", req.InstalledAppID)
	}
}

func TestGenericDecodeUsesStringKeysAndStrings(t *testing.T) {
	raw, err := Marshal(map[string]interface{}{
		"data":  []interface{}{[]interface{}{"d1", []string{"r1"}}},
		"blobs": []string{"b1"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v interface{}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map[string]interface{}, got %T", v)
	}
	blobs, ok := m["blobs"].([]interface{})
	if !ok || len(blobs) != 1 {
		t.Fatalf("unexpected blobs: %#v", m["blobs"])
	}
	if s, ok := blobs[0].(string); !ok || s != "b1" {
		t.Fatalf("expected string blob id, got %#v", blobs[0])
	}
}

func TestGenericDecodeKeepsBinAsBytes(t *testing.T) {
	raw, err := Marshal(map[string]interface{}{"blob": []byte{0xff, 0x00, 0x01}, "mimetype": "image/png"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v interface{}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := v.(map[string]interface{})
	blob, ok := m["blob"].([]byte)
	if !ok || !bytes.Equal(blob, []byte{0xff, 0x00, 0x01}) {
		t.Fatalf("expected bin to decode as []byte, got %#v", m["blob"])
	}
	if s, ok := m["mimetype"].(string); !ok || s != "image/png" {
		t.Fatalf("expected str to decode as string, got %#v", m["mimetype"])
	}
}

func testHashes(t *testing.T) (holohash.DnaHash, holohash.AgentPubKey) {
	t.Helper()
	core := make([]byte, holohash.CoreSize)
	for i := range core {
		core[i] = byte(i)
	}
	dna, err := holohash.NewDnaHash(core)
	if err != nil {
		t.Fatalf("dna: %v", err)
	}
	agent, err := holohash.NewAgentPubKey(core)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return dna, agent
}

func TestZomeCallInvocationBytes(t *testing.T) {
	dna, agent := testHashes(t)
	payload, err := Marshal("hive-1")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !bytes.Equal(payload, append([]byte{0xa6}, "hive-1"...)) {
		t.Fatalf("payload should be a msgpack str, got % x", payload)
	}
	raw, err := Marshal(ZomeCallInvocation{
		CellID:     holohash.NewCellID(dna, agent),
		ZomeName:   "humm_hc_data",
		FnName:     "get_revision_digest",
		Payload:    payload,
		Provenance: agent,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if raw[0] != 0x86 {
		t.Fatalf("expected a six entry map, got % x", raw[:1])
	}

	bin := func(b []byte) []byte { return append([]byte{0xc4, byte(len(b))}, b...) }
	key := func(k string) []byte { return append([]byte{0xa0 | byte(len(k))}, k...) }
	cat := func(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

	cases := []struct {
		name string
		want []byte
	}{
		{"cell_id is a pair of bin", cat(key("cell_id"), []byte{0x92}, bin(dna), bin(agent))},
		{"zome_name is str", cat(key("zome_name"), key("humm_hc_data"))},
		{"payload is bin", cat(key("payload"), bin(payload))},
		{"cap is nil", cat(key("cap"), []byte{0xc0})},
		{"provenance is bin", cat(key("provenance"), bin(agent))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !bytes.Contains(raw, tc.want) {
				t.Fatalf("missing % x in\n% x", tc.want, raw)
			}
		})
	}
	if !bytes.Contains(raw, []byte{0xc4, 0x27, 0x84, 0x2d, 0x24}) {
		t.Fatal("dna hash should be bin8 of 39 bytes with the dna prefix")
	}
}

func TestIsNil(t *testing.T) {
	nilRaw, _ := Marshal(nil)
	if !IsNil(nilRaw) || !IsNil(nil) {
		t.Fatal("encoded nil should be nil")
	}
	notNil, _ := Marshal("x")
	if IsNil(notNil) {
		t.Fatal("string should not be nil")
	}
}
