// Package hive binds the humm_hc_data zome functions to Go types.
package hive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"honeyworks/hive-client/internal/conductor"
	"honeyworks/hive-client/internal/holohash"
)

const (
	ZomeName = "humm_hc_data"

	FnGetRevisionDigest = "get_revision_digest"
	FnGetRevisionData   = "get_revision_data"
	FnSetRevisionData   = "set_revision_data"
)

var ErrEmptyHiveID = errors.New("hive: empty hive id")

// Caller is satisfied by *conductor.Conn.
type Caller interface {
	CallZome(ctx context.Context, call conductor.ZomeCall) (*conductor.Result, error)
}

// Client calls the zome on one cell with the cell agent as provenance.
type Client struct {
	caller Caller
	cell   holohash.CellID
	cap    conductor.CapSecret
}

func NewClient(caller Caller, cell holohash.CellID, capSecret conductor.CapSecret) *Client {
	return &Client{caller: caller, cell: cell, cap: capSecret}
}

func (c *Client) Cell() holohash.CellID { return c.cell }

func (c *Client) GetRevisionDigest(ctx context.Context, hiveID string) (RevisionDigest, error) {
	var out RevisionDigest
	if err := c.call(ctx, FnGetRevisionDigest, hiveID, hiveID, &out); err != nil {
		return RevisionDigest{}, err
	}
	return out, nil
}

// GetRevisionData fetches the revisions and blobs named by digest.
func (c *Client) GetRevisionData(ctx context.Context, hiveID string, digest RevisionDigest) (RevisionData, error) {
	var out RevisionData
	if err := c.call(ctx, FnGetRevisionData, hiveID, []any{hiveID, digest}, &out); err != nil {
		return RevisionData{}, err
	}
	return out, nil
}

func (c *Client) SetRevisionData(ctx context.Context, hiveID string, data RevisionData) error {
	return c.call(ctx, FnSetRevisionData, hiveID, []any{hiveID, data}, nil)
}

func (c *Client) call(ctx context.Context, fn, hiveID string, payload any, out any) error {
	if strings.TrimSpace(hiveID) == "" {
		return ErrEmptyHiveID
	}
	res, err := c.caller.CallZome(ctx, conductor.ZomeCall{
		CellID:     c.cell,
		ZomeName:   ZomeName,
		FnName:     fn,
		Cap:        c.cap,
		Provenance: c.cell.AgentPubKey,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("hive %s: %w", fn, err)
	}
	if out == nil {
		return nil
	}
	if err := res.Decode(out); err != nil {
		return fmt.Errorf("hive %s: %w", fn, err)
	}
	return nil
}
