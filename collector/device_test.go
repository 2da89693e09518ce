package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/require"
	gta "gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func mustParseQuery(t *testing.T, q string) *gojq.Query {
	t.Helper()
	query, err := gojq.Parse(q)
	require.NoError(t, err)
	return query
}

func TestDecodeDevice(t *testing.T) {
	tT := map[string]struct {
		body          string
		query         string
		wantDevice    DeviceRecord
		wantErrString string
		wantField     string
	}{
		"strings and numbers keep their text": {
			body: `{"ICON": {"NAME": "Örmező A12", "WTEMP": "41.5", "ETEMP": -3.25, "OVERHEAT": "inaktív",
				"DP": [{"title": "Nappali", "TEMP": "21.5", "REQ": 22.5, "OUT": 1}]}}`,
			query: ".ICON",
			wantDevice: DeviceRecord{
				Name:                "Örmező A12",
				WaterTemperature:    "41.5",
				ExternalTemperature: "-3.25",
				OverheatState:       "inaktív",
				Rooms: []RoomRecord{
					{Title: "Nappali", CurrentTemperature: "21.5", TargetTemperature: "22.5", PumpOutput: "1"},
				},
			},
		},
		"number text is kept verbatim": {
			body: `{"ICON": {"NAME": "x", "WTEMP": 41.50, "ETEMP": 12345678901234567890, "OVERHEAT": "inaktív",
				"DP": [{"title": "a", "TEMP": 21.0, "REQ": 22.50, "OUT": 1e0}]}}`,
			query: ".ICON",
			wantDevice: DeviceRecord{
				Name:                "x",
				WaterTemperature:    "41.50",
				ExternalTemperature: "12345678901234567890",
				OverheatState:       "inaktív",
				Rooms: []RoomRecord{
					{Title: "a", CurrentTemperature: "21.0", TargetTemperature: "22.50", PumpOutput: "1e0"},
				},
			},
		},
		"device inside an array": {
			body:  `{"ICONS": [{"NAME": "skip"}, {"NAME": "y", "WTEMP": 1.10, "ETEMP": "-", "OVERHEAT": "aktív", "DP": []}]}`,
			query: ".ICONS[-1]",
			wantDevice: DeviceRecord{
				Name:                "y",
				WaterTemperature:    "1.10",
				ExternalTemperature: "-",
				OverheatState:       "aktív",
				Rooms:               []RoomRecord{},
			},
		},
		"sentinel readings and no rooms": {
			body:  `{"ICON": {"NAME": "Random House", "WTEMP": "-", "ETEMP": "-", "OVERHEAT": "aktív", "DP": []}}`,
			query: ".ICON",
			wantDevice: DeviceRecord{
				Name:                "Random House",
				WaterTemperature:    "-",
				ExternalTemperature: "-",
				OverheatState:       "aktív",
				Rooms:               []RoomRecord{},
			},
		},
		"custom query": {
			body:  `{"data": {"device": {"NAME": "x", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}}`,
			query: ".data.device",
			wantDevice: DeviceRecord{
				Name:                "x",
				WaterTemperature:    "1",
				ExternalTemperature: "2",
				OverheatState:       "inaktív",
				Rooms:               []RoomRecord{},
			},
		},
		"missing device field": {
			body:          `{"ICON": {"NAME": "x", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}`,
			query:         ".ICON",
			wantErrString: "malformed device record: missing field WTEMP",
			wantField:     "WTEMP",
		},
		"null counts as missing": {
			body:          `{"ICON": {"NAME": "x", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": null, "DP": []}}`,
			query:         ".ICON",
			wantErrString: "missing field OVERHEAT",
			wantField:     "OVERHEAT",
		},
		"missing room field": {
			body: `{"ICON": {"NAME": "x", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív",
				"DP": [{"title": "a", "TEMP": 1, "REQ": 2, "OUT": 0}, {"title": "b", "TEMP": 1, "REQ": 2}]}}`,
			query:         ".ICON",
			wantErrString: "missing field DP[1].OUT",
			wantField:     "DP[1].OUT",
		},
		"device object not found": {
			body:          `{"ERROR": "session expired"}`,
			query:         ".ICON",
			wantErrString: "missing field .ICON",
			wantField:     ".ICON",
		},
		"wrong type": {
			body:          `{"ICON": {"NAME": 12, "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}`,
			query:         ".ICON",
			wantErrString: "cannot unmarshal number",
			wantField:     "NAME",
		},
		"wrong room field type": {
			body: `{"ICON": {"NAME": "x", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív",
				"DP": [{"title": "a", "TEMP": 1, "REQ": 2, "OUT": 0}, {"title": 7, "TEMP": 1, "REQ": 2, "OUT": 0}]}}`,
			query:         ".ICON",
			wantErrString: "malformed device record: field DP[1].title",
			wantField:     "DP[1].title",
		},
		"room is not an object": {
			body:          `{"ICON": {"NAME": "x", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": ["a"]}}`,
			query:         ".ICON",
			wantErrString: "cannot unmarshal string",
			wantField:     "DP[0]",
		},
		"non scalar reading": {
			body:          `{"ICON": {"NAME": "x", "WTEMP": {"v": 1}, "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}`,
			query:         ".ICON",
			wantErrString: "expected a scalar",
			wantField:     ".ICON",
		},
		"not json": {
			body:          `<html>login</html>`,
			query:         ".ICON",
			wantErrString: "malformed device record: field .",
			wantField:     ".",
		},
	}
	for tName, test := range tT {
		t.Run(tName, func(t *testing.T) {
			got, err := DecodeDevice(context.Background(), mustParseQuery(t, test.query), []byte(test.body))
			if test.wantErrString != "" {
				gta.Assert(t, cmp.ErrorContains(err, test.wantErrString))
				var malformed *MalformedRecordError
				gta.Assert(t, errors.As(err, &malformed))
				gta.Equal(t, test.wantField, malformed.Field)
				return
			}
			gta.NilError(t, err)
			gta.DeepEqual(t, test.wantDevice, got)
		})
	}
}

func TestDecodeDevicesStopsAtFirstMalformed(t *testing.T) {
	docs := []json.RawMessage{
		json.RawMessage(`{"ICON": {"NAME": "a", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}`),
		json.RawMessage(`{"ICON": {"NAME": "b"}}`),
		json.RawMessage(`{"ICON": {"NAME": "c", "WTEMP": "1", "ETEMP": "2", "OVERHEAT": "inaktív", "DP": []}}`),
	}

	devices, err := DecodeDevices(context.Background(), mustParseQuery(t, ".ICON"), docs)
	require.Nil(t, devices)
	require.EqualError(t, err, "device 1: malformed device record: missing field WTEMP")
}

func TestRoomPumpActive(t *testing.T) {
	for value, want := range map[Value]bool{
		"1":   true,
		"1.0": true,
		"0":   false,
		"2":   false,
		"-":   false,
		"":    false,
	} {
		gta.Equal(t, want, RoomRecord{PumpOutput: value}.PumpActive(), "OUT=%q", value)
	}
}

func TestDeviceOverheating(t *testing.T) {
	gta.Assert(t, !DeviceRecord{OverheatState: "inaktív"}.Overheating())
	gta.Assert(t, DeviceRecord{OverheatState: "aktív"}.Overheating())
	gta.Assert(t, DeviceRecord{OverheatState: "Inaktív"}.Overheating())
	gta.Assert(t, DeviceRecord{OverheatState: ""}.Overheating())
}
