package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/itchyny/gojq"
)

// Sentinel and status literals used by the NGBS portal.
const (
	NoReading        = "-"
	OverheatInactive = "inaktív"
)

// Value is the literal text of a scalar reading as sent by the portal.
// The portal mixes JSON strings ("21.5", "-") and JSON numbers (21.5);
// both keep their text so samples are rendered exactly as received.
type Value string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
	case '{', '[':
		return fmt.Errorf("expected a scalar, got %s", b)
	default:
		*v = Value(b)
	}
	return nil
}

// IsReading reports whether v carries a reading rather than the "-" sentinel.
func (v Value) IsReading() bool {
	return v != NoReading
}

// isOne reports whether v is numerically equal to 1.
func (v Value) isOne() bool {
	f, err := strconv.ParseFloat(string(v), 64)
	return err == nil && f == 1
}

// RoomRecord is a single thermostatic zone of a device.
type RoomRecord struct {
	Title              string
	CurrentTemperature Value
	TargetTemperature  Value
	PumpOutput         Value
}

// PumpActive reports whether the room's pump output is switched on.
func (r RoomRecord) PumpActive() bool {
	return r.PumpOutput.isOne()
}

// DeviceRecord is the telemetry of one NGBS controller.
type DeviceRecord struct {
	Name                string
	WaterTemperature    Value
	ExternalTemperature Value
	OverheatState       string
	Rooms               []RoomRecord
}

// Overheating reports whether the overheat status is anything but "inaktív".
func (d DeviceRecord) Overheating() bool {
	return d.OverheatState != OverheatInactive
}

// MalformedRecordError reports a device document that lacks a field the
// renderer depends on, or carries it in an unusable shape.
type MalformedRecordError struct {
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed device record: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed device record: missing field %s", e.Field)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

type wireRoom struct {
	Title *string `json:"title"`
	Temp  *Value  `json:"TEMP"`
	Req   *Value  `json:"REQ"`
	Out   *Value  `json:"OUT"`
}

type wireDevice struct {
	Name     *string            `json:"NAME"`
	WTemp    *Value             `json:"WTEMP"`
	ETemp    *Value             `json:"ETEMP"`
	Overheat *string            `json:"OVERHEAT"`
	Rooms    *[]json.RawMessage `json:"DP"`
}

func missing(field string) error {
	return &MalformedRecordError{Field: field}
}

// decodeError names the offending field of a json decoding error; fallback
// is used when the decoder does not know it.
func decodeError(err error, prefix, fallback string) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &MalformedRecordError{Field: prefix + typeErr.Field, Err: err}
	}
	return &MalformedRecordError{Field: fallback, Err: err}
}

func (w wireDevice) record() (DeviceRecord, error) {
	switch {
	case w.Name == nil:
		return DeviceRecord{}, missing("NAME")
	case w.WTemp == nil:
		return DeviceRecord{}, missing("WTEMP")
	case w.ETemp == nil:
		return DeviceRecord{}, missing("ETEMP")
	case w.Overheat == nil:
		return DeviceRecord{}, missing("OVERHEAT")
	case w.Rooms == nil:
		return DeviceRecord{}, missing("DP")
	}

	d := DeviceRecord{
		Name:                *w.Name,
		WaterTemperature:    *w.WTemp,
		ExternalTemperature: *w.ETemp,
		OverheatState:       *w.Overheat,
		Rooms:               make([]RoomRecord, 0, len(*w.Rooms)),
	}
	for i, raw := range *w.Rooms {
		room := fmt.Sprintf("DP[%d]", i)
		var r wireRoom
		if err := json.Unmarshal(raw, &r); err != nil {
			return DeviceRecord{}, decodeError(err, room+".", room)
		}
		switch {
		case r.Title == nil:
			return DeviceRecord{}, missing(room + ".title")
		case r.Temp == nil:
			return DeviceRecord{}, missing(room + ".TEMP")
		case r.Req == nil:
			return DeviceRecord{}, missing(room + ".REQ")
		case r.Out == nil:
			return DeviceRecord{}, missing(room + ".OUT")
		}
		d.Rooms = append(d.Rooms, RoomRecord{
			Title:              *r.Title,
			CurrentTemperature: *r.Temp,
			TargetTemperature:  *r.Req,
			PumpOutput:         *r.Out,
		})
	}
	return d, nil
}

// lookup follows a jq path through the raw document without decoding the
// scalars on the way, so numbers keep their upstream text.
func lookup(raw json.RawMessage, path []any) (json.RawMessage, bool) {
	for _, step := range path {
		switch key := step.(type) {
		case string:
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, false
			}
			next, ok := obj[key]
			if !ok {
				return nil, false
			}
			raw = next
		case int:
			var arr []json.RawMessage
			if err := json.Unmarshal(raw, &arr); err != nil {
				return nil, false
			}
			if key < 0 {
				key += len(arr)
			}
			if key < 0 || key >= len(arr) {
				return nil, false
			}
			raw = arr[key]
		case float64:
			if key != float64(int(key)) {
				return nil, false
			}
			return lookup(raw, append([]any{int(key)}, path[1:]...))
		default:
			return nil, false
		}
		path = path[1:]
	}
	return raw, true
}

// pathQuery turns a device query into the jq query yielding its path.
func pathQuery(query *gojq.Query) (*gojq.Query, error) {
	q, err := gojq.Parse("path(" + query.String() + ")")
	if err != nil {
		return nil, &MalformedRecordError{Field: query.String(), Err: err}
	}
	return q, nil
}

// DecodeDevice builds a DeviceRecord from one upstream device document.
// The query locates the device object inside the document (".ICON" for the
// iconByID response); its first result must be a JSON object reachable as a
// path, so readings are taken verbatim from the body.
func DecodeDevice(ctx context.Context, query *gojq.Query, body []byte) (DeviceRecord, error) {
	locate, err := pathQuery(query)
	if err != nil {
		return DeviceRecord{}, err
	}
	return decodeDevice(ctx, query.String(), locate, body)
}

func decodeDevice(ctx context.Context, field string, locate *gojq.Query, body []byte) (DeviceRecord, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return DeviceRecord{}, &MalformedRecordError{Field: ".", Err: err}
	}

	iter := locate.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok {
		return DeviceRecord{}, &MalformedRecordError{Field: field, Err: errors.New("query yielded no result")}
	}
	if err, ok := v.(error); ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return DeviceRecord{}, ctxErr
		}
		return DeviceRecord{}, &MalformedRecordError{Field: field, Err: err}
	}
	path, ok := v.([]any)
	if !ok {
		return DeviceRecord{}, &MalformedRecordError{Field: field, Err: fmt.Errorf("unexpected path %v", v)}
	}
	raw, ok := lookup(body, path)
	if raw = bytes.TrimSpace(raw); !ok || len(raw) == 0 || raw[0] != '{' {
		return DeviceRecord{}, missing(field)
	}

	var w wireDevice
	if err := json.Unmarshal(raw, &w); err != nil {
		return DeviceRecord{}, decodeError(err, "", field)
	}
	return w.record()
}

// DecodeDevices decodes every document in order and stops at the first
// malformed one; a metrics document is either complete or absent.
func DecodeDevices(ctx context.Context, query *gojq.Query, docs []json.RawMessage) ([]DeviceRecord, error) {
	locate, err := pathQuery(query)
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceRecord, 0, len(docs))
	for i, doc := range docs {
		d, err := decodeDevice(ctx, query.String(), locate, doc)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}
