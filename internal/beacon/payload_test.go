package beacon

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestBuildPayload_Welcome(t *testing.T) {
	got := BuildPayload(FormatWelcome, CompanyWelcome, WelcomeIdentity())
	want := []byte{
		0xAA, 0xAA, 0x01,
		0x3A, 0x91, 0xF4, 0x27, 0x8C, 0x56, 0x4E, 0xA3,
		0xB2, 0x19, 0x7D, 0xC4, 0x5A, 0x8F, 0x33, 0xE1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("BuildPayload() = % X, want % X", got, want)
	}
}

func TestBuildPayload_UUIDVerbatim(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
	}{
		{name: "zero", id: Identity{}},
		{name: "welcome", id: WelcomeIdentity()},
		{name: "extremes", id: Identity{UUID: uuid.MustParse("ffffffff-0000-ffff-0000-ffffffffffff"), Major: 255, Minor: 0, TxPower: -127}},
		{name: "random", id: Identity{UUID: uuid.MustParse("0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"), Major: 7, Minor: 9, TxPower: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, company := range []uint16{CompanyWelcome, CompanyNordic, 0} {
				p := BuildPayload(FormatWelcome, company, tt.id)
				if len(p) != WelcomePayloadLen {
					t.Fatalf("len = %d, want %d", len(p), WelcomePayloadLen)
				}
				if !bytes.Equal(p[3:19], tt.id.UUID[:]) {
					t.Errorf("payload UUID = % X, want % X", p[3:19], tt.id.UUID[:])
				}
				if p[0] != byte(company) || p[1] != byte(company>>8) {
					t.Errorf("company bytes = % X, want %04X little-endian", p[0:2], company)
				}
			}
		})
	}
}

func TestBuildPayload_IBeacon(t *testing.T) {
	id := Identity{UUID: WelcomeUUID, Major: 1, Minor: 2, TxPower: 8}
	p := BuildPayload(FormatIBeacon, CompanyNordic, id)

	if len(p) != IBeaconPayloadLen {
		t.Fatalf("len = %d, want %d", len(p), IBeaconPayloadLen)
	}
	if want := []byte{0x59, 0x00, 0x02, 0x15}; !bytes.Equal(p[0:4], want) {
		t.Errorf("header = % X, want % X", p[0:4], want)
	}
	if !bytes.Equal(p[4:20], WelcomeUUID[:]) {
		t.Errorf("uuid = % X", p[4:20])
	}
	if want := []byte{0x00, 0x01, 0x00, 0x02}; !bytes.Equal(p[20:24], want) {
		t.Errorf("major/minor = % X, want % X", p[20:24], want)
	}
	if int8(p[24]) != -54 {
		t.Errorf("measured power = %d, want -54", int8(p[24]))
	}
}

func TestParseManufacturerData_RoundTrip(t *testing.T) {
	id := Identity{UUID: WelcomeUUID, Major: 3, Minor: 4}
	for _, f := range []Format{FormatWelcome, FormatIBeacon} {
		t.Run(f.String(), func(t *testing.T) {
			p := BuildPayload(f, CompanyWelcome, id)
			adv, err := ParseManufacturerData(CompanyWelcome, p[2:])
			if err != nil {
				t.Fatalf("ParseManufacturerData() error = %v", err)
			}
			if adv.Format != f || adv.UUID != id.UUID || adv.CompanyID != CompanyWelcome {
				t.Errorf("ParseManufacturerData() = %+v", adv)
			}
			if f == FormatIBeacon && (adv.Major != 3 || adv.Minor != 4 || adv.MeasuredPower != -54) {
				t.Errorf("iBeacon fields = %d/%d/%d", adv.Major, adv.Minor, adv.MeasuredPower)
			}
		})
	}
}

func TestParseManufacturerData_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte{0x01, 0x02}},
		{name: "wrong type", data: append([]byte{0x07}, WelcomeUUID[:]...)},
		{name: "ibeacon wrong length byte", data: append(append([]byte{0x02, 0x16}, WelcomeUUID[:]...), 0, 1, 0, 1, 0xCA)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManufacturerData(CompanyWelcome, tt.data)
			if !errors.Is(err, ErrPayload) {
				t.Errorf("error = %v, want ErrPayload", err)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{FormatWelcome, FormatIBeacon} {
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFormat("eddystone"); err == nil {
		t.Errorf("ParseFormat(eddystone) error = nil")
	}
}
