package datastore

import (
	"encoding/json"
	"testing"

	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"
)

func TestNullString_UnmarshalJSON(t *testing.T) {
	type tcExpected struct {
		valid bool
		value string
		err   bool
	}

	type testCase struct {
		name  string
		given string
		exp   tcExpected
	}

	tests := []testCase{
		{
			name:  "string",
			given: `"gcash ref 4481"`,
			exp:   tcExpected{valid: true, value: "gcash ref 4481"},
		},

		{
			name:  "empty_string",
			given: `""`,
			exp:   tcExpected{valid: true, value: ""},
		},

		{
			name:  "null",
			given: `null`,
			exp:   tcExpected{valid: false, value: ""},
		},

		{
			name:  "not_a_string",
			given: `42`,
			exp:   tcExpected{err: true},
		},
	}

	for i := range tests {
		tc := tests[i]

		t.Run(tc.name, func(t *testing.T) {
			var ns NullString
			err := json.Unmarshal([]byte(tc.given), &ns)

			if tc.exp.err {
				should.Error(t, err)
				return
			}

			must.NoError(t, err)
			should.Equal(t, tc.exp.valid, ns.Valid)
			should.Equal(t, tc.exp.value, ns.String)
		})
	}
}

func TestNullString_MarshalJSON(t *testing.T) {
	type fields struct {
		Method NullString `json:"method"`
	}

	var set fields
	set.Method.String, set.Method.Valid = "meetup", true

	b, err := json.Marshal(&set)
	must.NoError(t, err)
	should.Equal(t, `{"method":"meetup"}`, string(b))

	var unset fields
	b, err = json.Marshal(&unset)
	must.NoError(t, err)
	should.Equal(t, `{"method":null}`, string(b))
}

func TestNullString_RoundTrip(t *testing.T) {
	type fields struct {
		Location NullString `json:"location"`
	}

	for _, raw := range []string{`{"location":"SM Megamall"}`, `{"location":null}`} {
		var in fields
		must.NoError(t, json.Unmarshal([]byte(raw), &in))

		b, err := json.Marshal(&in)
		must.NoError(t, err)
		should.Equal(t, raw, string(b))
	}
}

func TestMetadata_ScanValue(t *testing.T) {
	src := Metadata{"notes": "blurry screenshot", "attempt": float64(2)}

	v, err := src.Value()
	must.NoError(t, err)

	b, ok := v.([]byte)
	must.True(t, ok)

	var dst Metadata
	must.NoError(t, dst.Scan(b))
	should.Equal(t, src, dst)

	var empty Metadata
	must.NoError(t, empty.Scan(nil))
	should.Nil(t, empty)

	should.Error(t, dst.Scan("not bytes"))
}
