//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// Raw COM vtable calling over syscall. Interfaces are held as bare uintptr
// and every method is invoked by fixed vtable index; the indices are part of
// the COM ABI and must be exact.

// comCall invokes a COM vtable method at the given index.
// obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, vtableIdx), allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, 2), obj)
	}
}

// --- DLL procs ---

var (
	ole32DLL    = syscall.NewLazyDLL("ole32.dll")
	mmdevapiDLL = syscall.NewLazyDLL("mmdevapi.dll")

	procCoInitializeEx   = ole32DLL.NewProc("CoInitializeEx")
	procCoCreateInstance = ole32DLL.NewProc("CoCreateInstance")

	procActivateAudioInterfaceAsync = mmdevapiDLL.NewProc("ActivateAudioInterfaceAsync")
)

// --- GUIDs ---

var (
	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioCaptureClient  = ole.NewGUID("{C8ADBD64-E71E-48A0-A4DE-185C395CD317}")

	iidIActivateAudioInterfaceCompletionHandler = ole.NewGUID("{41D949AB-9862-444A-80F6-C261334DA5EB}")
	iidIAgileObject                             = ole.NewGUID("{94EA2B94-E9CC-49E0-C0FF-EE64CA8F5B90}")

	ksDataFormatSubtypeIEEEFloat = ole.NewGUID("{00000003-0000-0010-8000-00AA00389B71}")
)

// --- COM constants ---

const (
	clsctxAll = 0x1 | 0x2 | 0x4 | 0x10

	eRender  = 0
	eConsole = 0

	audclntShareModeShared = 0
	audclntStreamLoopback  = 0x00020000

	waveFormatIEEEFloat  = 0x0003
	waveFormatExtensible = 0xFFFE

	// AUDIOCLIENT_ACTIVATION_TYPE / PROCESS_LOOPBACK_MODE
	activationTypeProcessLoopback = 1
	loopbackModeIncludeTree       = 0
	loopbackModeExcludeTree       = 1

	vtBlob = 0x41 // PROPVARIANT VT_BLOB

	// HRESULT codes
	hrBufferSizeNotAligned = 0x88890019 // AUDCLNT_E_BUFFER_SIZE_NOT_ALIGNED
	hrUnsupportedFormat    = 0x88890008 // AUDCLNT_E_UNSUPPORTED_FORMAT
	hrDeviceInvalidated    = 0x88890004 // AUDCLNT_E_DEVICE_INVALIDATED
	hrENoInterface         = 0x80004002 // E_NOINTERFACE

	// AUDCLNT_BUFFERFLAGS
	bufferFlagSilent = 0x2

	// COM vtable indices (IUnknown = 0,1,2; interface methods start at 3)
	mmdeGetDefaultAudioEndpoint = 4  // IMMDeviceEnumerator::GetDefaultAudioEndpoint
	mmDeviceActivate            = 3  // IMMDevice::Activate
	audioClientInitialize       = 3  // IAudioClient::Initialize
	audioClientGetMixFormat     = 8  // IAudioClient::GetMixFormat
	audioClientStart            = 10 // IAudioClient::Start
	audioClientStop             = 11 // IAudioClient::Stop
	audioClientGetService       = 14 // IAudioClient::GetService
	capClientGetBuffer          = 3  // IAudioCaptureClient::GetBuffer
	capClientReleaseBuffer      = 4  // IAudioCaptureClient::ReleaseBuffer
	asyncOpGetActivateResult    = 3  // IActivateAudioInterfaceAsyncOperation::GetActivateResult
)

// waveFormatEx matches WAVEFORMATEX.
type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// waveFormatExtensibleStruct matches WAVEFORMATEXTENSIBLE.
type waveFormatExtensibleStruct struct {
	Format      waveFormatEx
	Samples     uint16 // wValidBitsPerSample
	ChannelMask uint32
	SubFormat   ole.GUID
}

// audioClientActivationParams matches AUDIOCLIENT_ACTIVATION_PARAMS with the
// process-loopback union member.
type audioClientActivationParams struct {
	ActivationType      uint32
	TargetProcessID     uint32
	ProcessLoopbackMode uint32
}

// propVariantBlob is a PROPVARIANT carrying a VT_BLOB payload (64-bit
// layout: 8-byte header, then ULONG cbSize, padding, BYTE* pBlobData).
type propVariantBlob struct {
	Vt       uint16
	reserved [3]uint16
	BlobSize uint32
	_        uint32
	BlobData unsafe.Pointer
}
