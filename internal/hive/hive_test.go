package hive_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/conductor/conductortest"
	"honeyworks/hive-client/internal/hive"
)

var ignoreTuples = cmpopts.IgnoreUnexported(hive.DataRevisionIDs{}, hive.DataRevisions{})

func dial(t *testing.T, srv *conductortest.Server) *conductor.Conn {
	t.Helper()
	conn, err := conductor.Dial(context.Background(), srv.URL(), conductor.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGetRevisionDigest(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 11)
	want := hive.RevisionDigest{
		Data: []hive.DataRevisionIDs{
			{DataID: "notes", RevisionIDs: []string{"r1", "r2"}},
			{DataID: "tags", RevisionIDs: []string{"r9"}},
		},
		Blobs: []string{"abc.png"},
	}
	srv.Handle(hive.ZomeName, hive.FnGetRevisionDigest, func(call conductor.ZomeCall) (any, error) {
		if call.Payload != "hive-1" {
			t.Errorf("unexpected payload %v", call.Payload)
		}
		return want, nil
	})

	client := hive.NewClient(dial(t, srv), cell, nil)
	got, err := client.GetRevisionDigest(context.Background(), "hive-1")
	if err != nil {
		t.Fatalf("get digest: %v", err)
	}
	if diff := cmp.Diff(want, got, ignoreTuples); diff != "" {
		t.Fatalf("digest mismatch (-want +got):\n%s", diff)
	}
	calls := srv.Calls()
	if len(calls) != 1 || !calls[0].Provenance.Equal(cell.AgentPubKey) || !calls[0].CellID.Equal(cell) {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestGetRevisionDataSendsTuplePayload(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 12)
	digest := hive.RevisionDigest{
		Data:  []hive.DataRevisionIDs{{DataID: "notes", RevisionIDs: []string{"r1"}}},
		Blobs: []string{"abc.png"},
	}
	want := hive.RevisionData{
		Data: []hive.DataRevisions{
			{DataID: "notes", Revisions: []hive.Revision{{Squuid: "r1", Data: `{"title":"a"}`}}},
		},
		Blobs: []hive.Blob{{Sha512: "abc", Blob: []byte{0x89, 0x50, 0x4e, 0x47}, Mimetype: "image/png"}},
	}
	srv.Handle(hive.ZomeName, hive.FnGetRevisionData, func(call conductor.ZomeCall) (any, error) {
		wantPayload := []any{"hive-1", map[string]any{
			"data":  []any{[]any{"notes", []any{"r1"}}},
			"blobs": []any{"abc.png"},
		}}
		if diff := cmp.Diff(wantPayload, call.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
		return want, nil
	})

	client := hive.NewClient(dial(t, srv), cell, nil)
	got, err := client.GetRevisionData(context.Background(), "hive-1", digest)
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if diff := cmp.Diff(want, got, ignoreTuples); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestSetRevisionData(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 13)
	srv.Handle(hive.ZomeName, hive.FnSetRevisionData, func(conductor.ZomeCall) (any, error) {
		return nil, nil
	})
	client := hive.NewClient(dial(t, srv), cell, nil)
	err := client.SetRevisionData(context.Background(), "hive-1", hive.RevisionData{
		Data: []hive.DataRevisions{{DataID: "notes", Revisions: []hive.Revision{{Squuid: "r2", Data: "{}"}}}},
	})
	if err != nil {
		t.Fatalf("set data: %v", err)
	}
	if n := len(srv.Calls()); n != 1 {
		t.Fatalf("expected one call, got %d", n)
	}
}

func TestRemoteErrorIsWrapped(t *testing.T) {
	srv := conductortest.NewServer(t)
	cell := conductortest.NewCell(t, 14)
	srv.Handle(hive.ZomeName, hive.FnGetRevisionDigest, func(conductor.ZomeCall) (any, error) {
		return nil, &conductor.RemoteError{Type: "ribosome_error", Data: "path missing"}
	})
	client := hive.NewClient(dial(t, srv), cell, nil)
	_, err := client.GetRevisionDigest(context.Background(), "hive-1")
	var remote *conductor.RemoteError
	if !errors.As(err, &remote) || remote.Type != "ribosome_error" {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestEmptyHiveIDRejected(t *testing.T) {
	client := hive.NewClient(nil, conductortest.NewCell(t, 1), nil)
	if _, err := client.GetRevisionDigest(context.Background(), "  "); !errors.Is(err, hive.ErrEmptyHiveID) {
		t.Fatalf("expected ErrEmptyHiveID, got %v", err)
	}
}

func TestMissing(t *testing.T) {
	remote := hive.RevisionDigest{
		Data: []hive.DataRevisionIDs{
			{DataID: "notes", RevisionIDs: []string{"r1", "r2", "r3"}},
			{DataID: "tags", RevisionIDs: []string{"t1"}},
			{DataID: "new", RevisionIDs: []string{"n1"}},
		},
		Blobs: []string{"a.png", "b.jpg"},
	}
	cases := []struct {
		name  string
		local hive.RevisionDigest
		want  hive.RevisionDigest
	}{
		{
			name:  "empty local",
			local: hive.RevisionDigest{},
			want:  remote,
		},
		{
			name: "partial",
			local: hive.RevisionDigest{
				Data: []hive.DataRevisionIDs{
					{DataID: "notes", RevisionIDs: []string{"r2"}},
					{DataID: "tags", RevisionIDs: []string{"t1"}},
				},
				Blobs: []string{"b.jpg"},
			},
			want: hive.RevisionDigest{
				Data: []hive.DataRevisionIDs{
					{DataID: "notes", RevisionIDs: []string{"r1", "r3"}},
					{DataID: "new", RevisionIDs: []string{"n1"}},
				},
				Blobs: []string{"a.png"},
			},
		},
		{
			name:  "in sync",
			local: remote,
			want:  hive.RevisionDigest{Data: []hive.DataRevisionIDs{}, Blobs: []string{}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := remote.Missing(tc.local)
			if diff := cmp.Diff(tc.want, got, ignoreTuples); diff != "" {
				t.Fatalf("missing mismatch (-want +got):\n%s", diff)
			}
			if tc.name == "in sync" && !got.Empty() {
				t.Fatal("in sync digest should be empty")
			}
		})
	}
}

func TestDigestJSONUsesTuples(t *testing.T) {
	d := hive.RevisionDigest{
		Data:  []hive.DataRevisionIDs{{DataID: "notes"}},
		Blobs: []string{},
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(raw), `{"data":[["notes",[]]],"blobs":[]}`; got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestDigestJSONDecodesLocalDigest(t *testing.T) {
	var d hive.RevisionDigest
	if err := json.Unmarshal([]byte(`{"data":[["notes",["r1","r2"]]],"blobs":["a.png"]}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := hive.RevisionDigest{
		Data:  []hive.DataRevisionIDs{{DataID: "notes", RevisionIDs: []string{"r1", "r2"}}},
		Blobs: []string{"a.png"},
	}
	if diff := cmp.Diff(want, d, ignoreTuples); diff != "" {
		t.Fatalf("digest mismatch (-want +got):\n%s", diff)
	}
	if err := json.Unmarshal([]byte(`{"data":[["notes"]]}`), &d); err == nil {
		t.Fatal("expected error for short tuple")
	}
}

func TestRevisionDataSelectsWhatTheHiveLacks(t *testing.T) {
	data := hive.RevisionData{
		Data: []hive.DataRevisions{
			{DataID: "notes", Revisions: []hive.Revision{{Squuid: "r1", Data: "{}"}, {Squuid: "r2", Data: "{}"}}},
			{DataID: "tags", Revisions: []hive.Revision{{Squuid: "t1", Data: "{}"}}},
		},
		Blobs: []hive.Blob{{Sha512: "a.png", Blob: []byte{1}}, {Sha512: "b.jpg", Blob: []byte{2}}},
	}
	wantDigest := hive.RevisionDigest{
		Data: []hive.DataRevisionIDs{
			{DataID: "notes", RevisionIDs: []string{"r1", "r2"}},
			{DataID: "tags", RevisionIDs: []string{"t1"}},
		},
		Blobs: []string{"a.png", "b.jpg"},
	}
	if diff := cmp.Diff(wantDigest, data.Digest(), ignoreTuples); diff != "" {
		t.Fatalf("digest mismatch (-want +got):\n%s", diff)
	}

	remote := hive.RevisionDigest{
		Data:  []hive.DataRevisionIDs{{DataID: "notes", RevisionIDs: []string{"r1"}}, {DataID: "tags", RevisionIDs: []string{"t1"}}},
		Blobs: []string{"a.png"},
	}
	got := data.Select(data.Digest().Missing(remote))
	want := hive.RevisionData{
		Data:  []hive.DataRevisions{{DataID: "notes", Revisions: []hive.Revision{{Squuid: "r2", Data: "{}"}}}},
		Blobs: []hive.Blob{{Sha512: "b.jpg", Blob: []byte{2}}},
	}
	if diff := cmp.Diff(want, got, ignoreTuples); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestRevisionDataJSONRoundTrip(t *testing.T) {
	in := hive.RevisionData{
		Data:  []hive.DataRevisions{{DataID: "notes", Revisions: []hive.Revision{{Squuid: "r1", Data: `{"t":1}`}}}},
		Blobs: []hive.Blob{{Sha512: "a.png", Blob: []byte{0xff, 0x00}, Mimetype: "image/png"}},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out hive.RevisionData
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	if diff := cmp.Diff(in, out, ignoreTuples); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if err := json.Unmarshal([]byte(`{"data":[["notes"]]}`), &out); err == nil {
		t.Fatal("expected error for short tuple")
	}
}
