package printers

import (
	"testing"

	"github.com/openfroyo/managedmac/pkg/document"
)

func TestDescriptorFromNode(t *testing.T) {
	n, err := document.Decode([]byte(`
Model: HP LaserJet
DeviceURI: lpd://x
Location: Rm1
PPDURL: drv:///hp/hpcups.drv/hp-laserjet.ppd
LastUpdate: "3"
PPDOptions:
  Duplex: DuplexNoTumble
  Copies: 2
`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	d, err := DescriptorFromNode("hp1", n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Description != "hp1" {
		t.Errorf("description should default to the name, got %q", d.Description)
	}
	if d.LastUpdate != 3 {
		t.Errorf("expected LastUpdate 3, got %d", d.LastUpdate)
	}
	if d.PPDOptions["Copies"] != "2" || d.PPDOptions["Duplex"] != "DuplexNoTumble" {
		t.Errorf("unexpected options %v", d.PPDOptions)
	}
	if !d.IsDriverReference() {
		t.Error("drv: URL should be a driver reference")
	}
}

func TestDescriptorValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not a mapping", `[a, b]`},
		{"missing stamp", `{Model: m, DeviceURI: u, PPDURL: p}`},
		{"non-integer stamp", `{Model: m, DeviceURI: u, PPDURL: p, LastUpdate: soon}`},
		{"negative stamp", `{Model: m, DeviceURI: u, PPDURL: p, LastUpdate: -4}`},
		{"missing model", `{DeviceURI: u, PPDURL: p, LastUpdate: 1}`},
		{"missing uri", `{Model: m, PPDURL: p, LastUpdate: 1}`},
		{"missing ppd", `{Model: m, DeviceURI: u, LastUpdate: 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := document.Decode([]byte(tt.doc))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if _, err := DescriptorFromNode("hp1", n); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

const samplePPD = `*PPD-Adobe: "4.3"
*FormatVersion: "4.3"
*Manufacturer: "HP"
*ModelName: "LaserJet 4250"
*NickName: "HP LaserJet 4250, hpcups 3.21"
*DefaultDuplex: None
`

func TestParsePPD(t *testing.T) {
	info := ParsePPD([]byte(samplePPD))

	if info.Manufacturer != "HP" {
		t.Errorf("unexpected manufacturer %q", info.Manufacturer)
	}
	if info.ModelName != "HP LaserJet 4250" {
		t.Errorf("manufacturer should be prefixed, got %q", info.ModelName)
	}
	if info.NickName != "HP LaserJet 4250, hpcups 3.21" {
		t.Errorf("nickname already prefixed, got %q", info.NickName)
	}
	if !info.Matches("HP LaserJet 4250") {
		t.Error("expected model match")
	}
}

func TestParsePPDMissingFields(t *testing.T) {
	info := ParsePPD([]byte("*NickName: \"Generic PostScript\"\n"))
	if info.ModelName != "" || info.Manufacturer != "" {
		t.Errorf("unexpected fields %+v", info)
	}
	if info.NickName != "Generic PostScript" {
		t.Errorf("nickname must not be prefixed without a model name, got %q", info.NickName)
	}
}
