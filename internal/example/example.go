// Package example holds canned operation descriptors, one per kernel
// variant worth looking at.
package example

const adreno630 = `Device:
  Name: QUALCOMM Adreno(TM) 630
  Vendor: QUALCOMM
  Version: OpenCL 2.0 Adreno(TM) 630
Op:
  Precision: F16
  SrcStorage: TEXTURE_2D
  DstStorage: TEXTURE_2D
Input:
  Height: 56
  Width: 56
  Channels: 64
Conv:
  ToChannels: 64
  FilterH: 3
  FilterW: 3
Tune:
  Mode: fast
`

const adreno430 = `Device:
  Name: QUALCOMM Adreno(TM) 430
  Vendor: QUALCOMM
  Version: OpenCL 2.0 Adreno(TM) 430
Op:
  Precision: F16
  SrcStorage: TEXTURE_ARRAY
  DstStorage: TEXTURE_ARRAY
Input:
  Height: 28
  Width: 28
  Channels: 32
Conv:
  ToChannels: 32
  PaddingH: 0
  PaddingW: 0
`

const adreno330 = `Device:
  Name: QUALCOMM Adreno(TM) 330
  Vendor: QUALCOMM
  Version: OpenCL 1.2 Adreno(TM) 330
  MaxWorkGroupX: 256
  MaxWorkGroupY: 256
  MaxWorkGroupTotal: 256
  MaxImage2DWidth: 8192
  MaxImage2DHeight: 8192
Op:
  Precision: F16
Input:
  Height: 14
  Width: 14
  Channels: 128
Conv:
  ToChannels: 128
  FilterH: 1
  FilterW: 1
  PaddingH: 0
  PaddingW: 0
`

const mali = `Device:
  Name: Mali-G78
  Vendor: ARM
  Version: OpenCL 3.0 v1.r32p1
  MaxWorkGroupX: 512
  MaxWorkGroupY: 512
  MaxWorkGroupZ: 512
  MaxWorkGroupTotal: 512
  ComputeUnits: 20
  MaxImage2DWidth: 65536
  MaxImage2DHeight: 65536
Op:
  Precision: F32
  SrcStorage: BUFFER
  DstStorage: BUFFER
Input:
  Height: 20
  Width: 20
  Channels: 96
Conv:
  ToChannels: 24
  FilterH: 1
  FilterW: 1
  PaddingH: 0
  PaddingW: 0
Tune:
  Mode: exhaustive
Linked:
  - ReLU:
      Clip: 6
`

const batched = `Device:
  Name: Intel(R) Iris(R) Xe Graphics
  Vendor: Intel(R) Corporation
  Version: OpenCL 3.0 NEO
  MaxWorkGroupX: 512
  MaxWorkGroupY: 512
  MaxWorkGroupZ: 512
  MaxWorkGroupTotal: 512
  ComputeUnits: 96
Op:
  Precision: F32_F16
  SrcStorage: IMAGE_BUFFER
  DstStorage: IMAGE_BUFFER
  BatchSupport: true
Input:
  Batch: 4
  Height: 32
  Width: 32
  Channels: 24
Conv:
  ToChannels: 48
  StrideH: 2
  StrideW: 2
Tune:
  Mode: fast
`

const residual = `Device:
  Name: QUALCOMM Adreno(TM) 640
  Vendor: QUALCOMM
  Version: OpenCL 2.0 Adreno(TM) 640
Op:
  Precision: F16
  SrcStorage: TEXTURE_ARRAY
  DstStorage: TEXTURE_ARRAY
Input:
  Height: 28
  Width: 28
  Channels: 128
Conv:
  ToChannels: 128
  DilationH: 2
  DilationW: 2
  PaddingH: 2
  PaddingW: 2
Linked:
  - Scalar:
      Kind: Mul
      Value: 0.5
  - Add:
      Storage: TEXTURE_ARRAY
  - ReLU:
`

var menu = [...]struct {
	name string
	text string
}{
	{"Adreno630_3x3_F16", adreno630},
	{"Adreno430_TextureArray", adreno430},
	{"Adreno330_1x1_SIMD", adreno330},
	{"MaliG78_1x1_ReLU6", mali},
	{"Batch4_Stride2_F32F16", batched},
	{"Adreno640_Dilated_Residual", residual},
}

func Names() []string {
	names := make([]string, len(menu))
	for i := range &menu {
		names[i] = menu[i].name
	}
	return names
}

func Generate(name string) []byte {
	for i := range &menu {
		if menu[i].name == name {
			return []byte(menu[i].text)
		}
	}
	return nil
}
