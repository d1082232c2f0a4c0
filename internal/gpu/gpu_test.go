package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeAdrenoTiers(t *testing.T) {
	cases := []struct {
		name string
		info Info
		tier Tier
	}{
		{"330", Info{Name: "QUALCOMM Adreno(TM) 330", Vendor: "QUALCOMM"}, Adreno3xx},
		{"430", Info{Name: "QUALCOMM Adreno(TM) 430", Vendor: "QUALCOMM"}, Adreno4xx},
		{"540", Info{Name: "QUALCOMM Adreno(TM)", Vendor: "QUALCOMM", Version: "OpenCL 2.0 Adreno(TM) 540"}, Adreno5xx},
		{"630 spaced", Info{Name: "Adreno (TM) 630"}, Adreno6xx},
		{"no model", Info{Name: "QUALCOMM Adreno(TM)", Vendor: "QUALCOMM"}, UnknownTier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Probe(tc.info)
			assert.True(t, d.IsAdreno())
			assert.Equal(t, tc.tier, d.Tier())
		})
	}
}

func TestProbeOtherVendors(t *testing.T) {
	cases := []struct {
		info   Info
		vendor Vendor
	}{
		{Info{Name: "Mali-G76", Vendor: "ARM"}, Mali},
		{Info{Name: "PowerVR Rogue GE8320", Vendor: "Imagination Technologies"}, PowerVR},
		{Info{Name: "GeForce RTX 3080", Vendor: "NVIDIA Corporation"}, Nvidia},
		{Info{Name: "gfx1030", Vendor: "Advanced Micro Devices, Inc."}, AMD},
		{Info{Name: "Iris Xe", Vendor: "Intel(R) Corporation"}, Intel},
		{Info{Name: "mystery"}, UnknownVendor},
	}
	for _, tc := range cases {
		d := Probe(tc.info)
		assert.Equal(t, tc.vendor, d.Vendor(), tc.info.Name)
		assert.False(t, d.IsAdreno())
		assert.False(t, d.IsAdreno3xx())
		assert.False(t, d.IsAdreno4xx())
		assert.Equal(t, UnknownTier, d.Tier())
	}
}

func TestHalfSIMD(t *testing.T) {
	d := Probe(Info{Name: "Mali-G76", Extensions: []string{"cl_khr_fp16", " cl_khr_3d_image_writes"}})
	assert.True(t, d.SupportsHalfSIMD())
	assert.True(t, d.SupportsExtension("cl_khr_3d_image_writes"))

	d = Probe(Info{Name: "Mali-T604"})
	assert.False(t, d.SupportsHalfSIMD())
}
