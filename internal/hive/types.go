package hive

import (
	"encoding/json"
	"fmt"
)

// DataRevisionIDs pairs a data id with the revision ids stored under it. It is
// a two element array on the wire.
type DataRevisionIDs struct {
	_struct     bool     `codec:",toarray"` //nolint:unused
	DataID      string   `json:"data_id"`
	RevisionIDs []string `json:"revision_ids"`
}

func (d DataRevisionIDs) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{d.DataID, nonNil(d.RevisionIDs)})
}

// UnmarshalJSON accepts the ["data_id", ["rev", ...]] form MarshalJSON writes.
func (d *DataRevisionIDs) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("hive: data entry has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &d.DataID); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &d.RevisionIDs)
}

// Equal reports whether both entries name the same revisions in the same order.
func (d DataRevisionIDs) Equal(other DataRevisionIDs) bool {
	if d.DataID != other.DataID || len(d.RevisionIDs) != len(other.RevisionIDs) {
		return false
	}
	for i := range d.RevisionIDs {
		if d.RevisionIDs[i] != other.RevisionIDs[i] {
			return false
		}
	}
	return true
}

// RevisionDigest lists what a hive holds without the payloads. Blob ids are a
// sha512 followed by the file extension.
type RevisionDigest struct {
	Data  []DataRevisionIDs `codec:"data" json:"data"`
	Blobs []string          `codec:"blobs" json:"blobs"`
}

type Revision struct {
	Squuid string `codec:"squuid" json:"squuid"`
	Data   string `codec:"data" json:"data"`
}

type Blob struct {
	Sha512   string `codec:"sha512" json:"sha512"`
	Blob     []byte `codec:"blob" json:"blob"`
	Mimetype string `codec:"mimetype" json:"mimetype"`
}

type DataRevisions struct {
	_struct   bool       `codec:",toarray"` //nolint:unused
	DataID    string     `json:"data_id"`
	Revisions []Revision `json:"revisions"`
}

func (d DataRevisions) MarshalJSON() ([]byte, error) {
	revs := d.Revisions
	if revs == nil {
		revs = []Revision{}
	}
	return json.Marshal([]any{d.DataID, revs})
}

func (d *DataRevisions) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("hive: revisions entry has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &d.DataID); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &d.Revisions)
}

// Digest lists the ids carried by r, in the same order.
func (r RevisionData) Digest() RevisionDigest {
	out := RevisionDigest{Data: make([]DataRevisionIDs, 0, len(r.Data)), Blobs: make([]string, 0, len(r.Blobs))}
	for _, entry := range r.Data {
		ids := make([]string, 0, len(entry.Revisions))
		for _, rev := range entry.Revisions {
			ids = append(ids, rev.Squuid)
		}
		out.Data = append(out.Data, DataRevisionIDs{DataID: entry.DataID, RevisionIDs: ids})
	}
	for _, blob := range r.Blobs {
		out.Blobs = append(out.Blobs, blob.Sha512)
	}
	return out
}

// RevisionData carries full revisions and blobs for the entries of a digest.
type RevisionData struct {
	Data  []DataRevisions `codec:"data" json:"data"`
	Blobs []Blob          `codec:"blobs" json:"blobs"`
}

// Select keeps the revisions and blobs of r that digest names. Entries left
// empty are dropped.
func (r RevisionData) Select(digest RevisionDigest) RevisionData {
	want := make(map[string]map[string]struct{}, len(digest.Data))
	for _, entry := range digest.Data {
		set, ok := want[entry.DataID]
		if !ok {
			set = make(map[string]struct{}, len(entry.RevisionIDs))
			want[entry.DataID] = set
		}
		for _, id := range entry.RevisionIDs {
			set[id] = struct{}{}
		}
	}
	wantBlobs := make(map[string]struct{}, len(digest.Blobs))
	for _, id := range digest.Blobs {
		wantBlobs[id] = struct{}{}
	}

	out := RevisionData{Data: []DataRevisions{}, Blobs: []Blob{}}
	for _, entry := range r.Data {
		set := want[entry.DataID]
		var keep []Revision
		for _, rev := range entry.Revisions {
			if _, ok := set[rev.Squuid]; ok {
				keep = append(keep, rev)
			}
		}
		if len(keep) > 0 {
			out.Data = append(out.Data, DataRevisions{DataID: entry.DataID, Revisions: keep})
		}
	}
	for _, blob := range r.Blobs {
		if _, ok := wantBlobs[blob.Sha512]; ok {
			out.Blobs = append(out.Blobs, blob)
		}
	}
	return out
}

// Missing returns the part of d that local does not hold. Order follows d and
// data ids with nothing missing are left out.
func (d RevisionDigest) Missing(local RevisionDigest) RevisionDigest {
	have := make(map[string]map[string]struct{}, len(local.Data))
	for _, entry := range local.Data {
		set, ok := have[entry.DataID]
		if !ok {
			set = make(map[string]struct{}, len(entry.RevisionIDs))
			have[entry.DataID] = set
		}
		for _, id := range entry.RevisionIDs {
			set[id] = struct{}{}
		}
	}
	haveBlobs := make(map[string]struct{}, len(local.Blobs))
	for _, id := range local.Blobs {
		haveBlobs[id] = struct{}{}
	}

	out := RevisionDigest{Data: []DataRevisionIDs{}, Blobs: []string{}}
	for _, entry := range d.Data {
		set := have[entry.DataID]
		var missing []string
		for _, id := range entry.RevisionIDs {
			if _, ok := set[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			out.Data = append(out.Data, DataRevisionIDs{DataID: entry.DataID, RevisionIDs: missing})
		}
	}
	for _, id := range d.Blobs {
		if _, ok := haveBlobs[id]; !ok {
			out.Blobs = append(out.Blobs, id)
		}
	}
	return out
}

// Empty reports whether the digest names no revisions and no blobs.
func (d RevisionDigest) Empty() bool {
	for _, entry := range d.Data {
		if len(entry.RevisionIDs) > 0 {
			return false
		}
	}
	return len(d.Blobs) == 0
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
