package conductor

import (
	"context"
	"fmt"
	"time"

	"honeyworks/hive-client/internal/conductor/wire"
)

// AppInfo fetches metadata for an installed app. Unknown ids yield *NotFoundError.
func (c *Conn) AppInfo(ctx context.Context, appID string) (info *AppInfo, err error) {
	started := time.Now()
	defer func() { c.observer.ObserveRequest(opAppInfo, started, err) }()

	env, err := c.request(ctx, opAppInfo, wire.Envelope{
		Type: wire.KindAppInfo,
		Data: wire.AppInfoRequest{InstalledAppID: appID},
	})
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case wire.KindAppInfo:
	case wire.KindError:
		return nil, remoteError(opAppInfo, env)
	default:
		return nil, &DecodeError{What: "app_info response", Err: fmt.Errorf("unexpected type %q", env.Type)}
	}
	if wire.IsNil(env.Data) {
		return nil, &NotFoundError{AppID: appID}
	}

	var out AppInfo
	if err := wire.Unmarshal(env.Data, &out); err != nil {
		return nil, &DecodeError{What: "app_info response", Err: err}
	}
	for i, cell := range out.CellData {
		if err := cell.CellID.Validate(); err != nil {
			return nil, &DecodeError{What: fmt.Sprintf("app_info cell %d", i), Err: err}
		}
	}
	return &out, nil
}

// CallZome invokes a zome function and waits for its result.
func (c *Conn) CallZome(ctx context.Context, call ZomeCall) (res *Result, err error) {
	started := time.Now()
	defer func() { c.observer.ObserveRequest(opZomeCall, started, err) }()

	inv, err := call.invocation()
	if err != nil {
		return nil, fmt.Errorf("conductor: encode payload for %s/%s: %w", call.ZomeName, call.FnName, err)
	}
	env, err := c.request(ctx, opZomeCall, wire.Envelope{Type: wire.KindZomeCall, Data: inv})
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case wire.KindZomeCall:
	case wire.KindError:
		return nil, remoteError(opZomeCall, env)
	default:
		return nil, &DecodeError{What: "zome call response", Err: fmt.Errorf("unexpected type %q", env.Type)}
	}

	var raw []byte
	if err := wire.Unmarshal(env.Data, &raw); err != nil {
		return nil, &DecodeError{What: "zome call response", Err: err}
	}
	out := &Result{Raw: raw}
	if len(raw) > 0 {
		if err := wire.Unmarshal(raw, &out.Value); err != nil {
			return nil, &DecodeError{What: "zome call result", Err: err}
		}
	}
	return out, nil
}
