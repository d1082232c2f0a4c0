// Package gpu answers capability questions about a target OpenCL device.
// Answers come from fixed tables keyed by the reported vendor and device
// names; an unrecognized device answers false to every vendor question.
package gpu

import (
	"strconv"
	"strings"
)

type Vendor int

const (
	UnknownVendor Vendor = iota
	Adreno
	Mali
	PowerVR
	Nvidia
	AMD
	Intel
)

var VendorStrings = []string{
	UnknownVendor: "unknown",
	Adreno:        "Adreno",
	Mali:          "Mali",
	PowerVR:       "PowerVR",
	Nvidia:        "NVIDIA",
	AMD:           "AMD",
	Intel:         "Intel",
}

func (v Vendor) String() string {
	return VendorStrings[v]
}

// Tier is the sub-generation within a vendor family. Only Adreno tiers
// change code generation today.
type Tier int

const (
	UnknownTier Tier = iota
	Adreno3xx
	Adreno4xx
	Adreno5xx
	Adreno6xx
	Adreno7xx
)

var TierStrings = []string{
	UnknownTier: "unknown",
	Adreno3xx:   "Adreno3xx",
	Adreno4xx:   "Adreno4xx",
	Adreno5xx:   "Adreno5xx",
	Adreno6xx:   "Adreno6xx",
	Adreno7xx:   "Adreno7xx",
}

func (t Tier) String() string {
	return TierStrings[t]
}

// Info is what the platform layer reports about a device.
type Info struct {
	Name              string   `json:"name"`
	Vendor            string   `json:"vendor"`
	Version           string   `json:"version"`
	Extensions        []string `json:"extensions"`
	MaxWorkGroupSize  [3]int   `json:"max_work_group_size"`
	MaxWorkGroupTotal int      `json:"max_work_group_total"`
	ComputeUnits      int      `json:"compute_units"`
	MaxImage2DWidth   int      `json:"max_image2d_width"`
	MaxImage2DHeight  int      `json:"max_image2d_height"`
}

const fp16Extension = "cl_khr_fp16"

var vendorKeys = [...]struct {
	key    string
	vendor Vendor
}{
	{"adreno", Adreno},
	{"qualcomm", Adreno},
	{"mali", Mali},
	{"arm", Mali},
	{"powervr", PowerVR},
	{"imagination", PowerVR},
	{"nvidia", Nvidia},
	{"advanced micro devices", AMD},
	{"amd", AMD},
	{"intel", Intel},
}

var adrenoTiers = [...]struct {
	lo, hi int
	tier   Tier
}{
	{300, 399, Adreno3xx},
	{400, 499, Adreno4xx},
	{500, 599, Adreno5xx},
	{600, 699, Adreno6xx},
	{700, 799, Adreno7xx},
}

type Device struct {
	info   Info
	vendor Vendor
	tier   Tier
	model  int
	exts   map[string]bool
}

func Probe(info Info) *Device {
	d := &Device{
		info: info,
		exts: make(map[string]bool, len(info.Extensions)),
	}
	for _, ext := range info.Extensions {
		d.exts[strings.TrimSpace(ext)] = true
	}
	d.vendor = vendorOf(info)
	if d.vendor == Adreno {
		d.model = adrenoModel(info.Name)
		if d.model == 0 {
			d.model = adrenoModel(info.Version)
		}
		for _, row := range &adrenoTiers {
			if d.model >= row.lo && d.model <= row.hi {
				d.tier = row.tier
				break
			}
		}
	}
	return d
}

func vendorOf(info Info) Vendor {
	hay := [...]string{
		strings.ToLower(info.Name),
		strings.ToLower(info.Vendor),
	}
	for _, row := range &vendorKeys {
		for _, s := range &hay {
			if strings.Contains(s, row.key) {
				return row.vendor
			}
		}
	}
	return UnknownVendor
}

// adrenoModel extracts the model number that follows "adreno", as in
// "QUALCOMM Adreno(TM) 430" or "Adreno (TM) 630".
func adrenoModel(s string) int {
	lower := strings.ToLower(s)
	i := strings.Index(lower, "adreno")
	if i < 0 {
		return 0
	}
	rest := lower[i+len("adreno"):]
	j := strings.IndexFunc(rest, isDigit)
	if j < 0 {
		return 0
	}
	rest = rest[j:]
	k := strings.IndexFunc(rest, func(r rune) bool { return !isDigit(r) })
	if k >= 0 {
		rest = rest[:k]
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return n
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func (d *Device) Info() Info     { return d.info }
func (d *Device) Vendor() Vendor { return d.vendor }
func (d *Device) Tier() Tier     { return d.tier }

func (d *Device) IsAdreno() bool    { return d.vendor == Adreno }
func (d *Device) IsAdreno3xx() bool { return d.tier == Adreno3xx }
func (d *Device) IsAdreno4xx() bool { return d.tier == Adreno4xx }

func (d *Device) SupportsExtension(name string) bool {
	return d.exts[name]
}

// SupportsHalfSIMD reports whether half precision arithmetic is
// available to kernels.
func (d *Device) SupportsHalfSIMD() bool {
	return d.exts[fp16Extension]
}

func (d *Device) MaxWorkGroupSize() [3]int {
	return d.info.MaxWorkGroupSize
}

func (d *Device) MaxWorkGroupTotal() int {
	return d.info.MaxWorkGroupTotal
}
