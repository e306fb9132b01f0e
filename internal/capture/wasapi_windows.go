//go:build windows

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/echosub/echosub/internal/audio"
	"github.com/echosub/echosub/internal/logging"
)

// virtualLoopbackDevice is the device path ActivateAudioInterfaceAsync
// resolves to the process-scoped loopback endpoint.
const virtualLoopbackDevice = `VAD\Process_Loopback`

const (
	activationTimeout   = 5 * time.Second
	bufferDuration100ns = 200 * 10_000 // 200 ms in 100-ns units
)

// NewOpener returns the WASAPI process-loopback opener.
func NewOpener() Opener {
	return &wasapiOpener{log: logging.L("wasapi")}
}

type wasapiOpener struct {
	log *slog.Logger
}

type wasapiStream struct {
	log      *slog.Logger
	format   audio.Format
	threadID uint32

	audioClient   uintptr
	captureClient uintptr

	started bool
	stopped bool
}

func (o *wasapiOpener) Open(ctx context.Context, target Target) (Stream, error) {
	// S_FALSE just means this thread already joined the MTA.
	if hr, _, _ := procCoInitializeEx.Call(0, 0); int32(hr) < 0 {
		return nil, &ActivationError{Op: "CoInitializeEx", Code: uint32(hr)}
	}

	format, wfx := o.negotiateFormat()

	audioClient, err := o.activate(ctx, target)
	if err != nil {
		return nil, err
	}

	s := &wasapiStream{
		log:         o.log.With(logging.KeyTargetPID, target.PID),
		format:      format,
		threadID:    windows.GetCurrentThreadId(),
		audioClient: audioClient,
	}

	if err := s.initialize(&wfx); err != nil {
		comRelease(audioClient)
		return nil, err
	}

	var captureClient uintptr
	if _, err := comCall(audioClient, audioClientGetService,
		uintptr(unsafe.Pointer(iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&captureClient)),
	); err != nil {
		comRelease(audioClient)
		return nil, fmt.Errorf("GetService IAudioCaptureClient: %w", err)
	}
	s.captureClient = captureClient

	o.log.Debug("stream activated",
		logging.KeyTargetPID, target.PID, "format", format.String())
	return s, nil
}

// activate runs the async activation handshake against the virtual loopback
// device and returns the raw IAudioClient.
func (o *wasapiOpener) activate(ctx context.Context, target Target) (uintptr, error) {
	params := audioClientActivationParams{
		ActivationType:      activationTypeProcessLoopback,
		TargetProcessID:     target.PID,
		ProcessLoopbackMode: loopbackModeExcludeTree,
	}
	if target.IncludeTree {
		params.ProcessLoopbackMode = loopbackModeIncludeTree
	}
	pv := propVariantBlob{
		Vt:       vtBlob,
		BlobSize: uint32(unsafe.Sizeof(params)),
		BlobData: unsafe.Pointer(&params),
	}

	devicePath, err := windows.UTF16PtrFromString(virtualLoopbackDevice)
	if err != nil {
		return 0, err
	}

	handler := newActivationHandler()
	defer handler.unregister()

	var op uintptr
	hr, _, _ := procActivateAudioInterfaceAsync.Call(
		uintptr(unsafe.Pointer(devicePath)),
		uintptr(unsafe.Pointer(iidIAudioClient)),
		uintptr(unsafe.Pointer(&pv)),
		handler.ptr(),
		uintptr(unsafe.Pointer(&op)),
	)
	runtime.KeepAlive(&params)
	if int32(hr) < 0 {
		return 0, &ActivationError{Op: "ActivateAudioInterfaceAsync", Code: uint32(hr)}
	}
	defer comRelease(op)

	timer := time.NewTimer(activationTimeout)
	defer timer.Stop()
	select {
	case <-handler.done:
	case <-timer.C:
		return 0, ErrActivationTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	var hrActivate uint32
	var audioClient uintptr
	if _, err := comCall(op, asyncOpGetActivateResult,
		uintptr(unsafe.Pointer(&hrActivate)),
		uintptr(unsafe.Pointer(&audioClient)),
	); err != nil {
		return 0, fmt.Errorf("GetActivateResult: %w", err)
	}
	if int32(hrActivate) < 0 || audioClient == 0 {
		return 0, &ActivationError{Op: "activation", Code: hrActivate}
	}
	return audioClient, nil
}

// negotiateFormat asks the default render endpoint for its mix format and
// builds the float wave format the loopback client is initialized with. Any
// failure falls back to 48 kHz stereo float.
func (o *wasapiOpener) negotiateFormat() (audio.Format, waveFormatExtensibleStruct) {
	format := audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Encoding: audio.EncodingFloat}
	if mix, ok := o.queryMixFormat(); ok && plausibleMix(mix) {
		format.SampleRate = int(mix.SamplesPerSec)
		format.Channels = int(mix.Channels)
	} else {
		o.log.Warn("mix format unavailable, using default", "format", format.String())
	}
	return format, floatWaveFormat(format.SampleRate, format.Channels)
}

func plausibleMix(mix waveFormatEx) bool {
	return mix.SamplesPerSec >= 8000 && mix.SamplesPerSec <= 384000 &&
		mix.Channels >= 1 && mix.Channels <= 8
}

func (o *wasapiOpener) queryMixFormat() (waveFormatEx, bool) {
	var enumerator uintptr
	hr, _, _ := procCoCreateInstance.Call(
		uintptr(unsafe.Pointer(clsidMMDeviceEnumerator)),
		0,
		clsctxAll,
		uintptr(unsafe.Pointer(iidIMMDeviceEnumerator)),
		uintptr(unsafe.Pointer(&enumerator)),
	)
	if int32(hr) < 0 {
		return waveFormatEx{}, false
	}
	defer comRelease(enumerator)

	var device uintptr
	if _, err := comCall(enumerator, mmdeGetDefaultAudioEndpoint,
		eRender, eConsole, uintptr(unsafe.Pointer(&device))); err != nil {
		return waveFormatEx{}, false
	}
	defer comRelease(device)

	var client uintptr
	if _, err := comCall(device, mmDeviceActivate,
		uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&client))); err != nil {
		return waveFormatEx{}, false
	}
	defer comRelease(client)

	var mixPtr uintptr
	if _, err := comCall(client, audioClientGetMixFormat,
		uintptr(unsafe.Pointer(&mixPtr))); err != nil || mixPtr == 0 {
		return waveFormatEx{}, false
	}
	mix := *(*waveFormatEx)(unsafe.Pointer(mixPtr))
	ole.CoTaskMemFree(mixPtr)
	return mix, true
}

// floatWaveFormat builds a WAVEFORMATEXTENSIBLE for 32-bit IEEE float PCM.
func floatWaveFormat(rate, channels int) waveFormatExtensibleStruct {
	block := channels * 4
	return waveFormatExtensibleStruct{
		Format: waveFormatEx{
			FormatTag:      waveFormatExtensible,
			Channels:       uint16(channels),
			SamplesPerSec:  uint32(rate),
			AvgBytesPerSec: uint32(rate * block),
			BlockAlign:     uint16(block),
			BitsPerSample:  32,
			CbSize:         22,
		},
		Samples:     32,
		ChannelMask: channelMask(channels),
		SubFormat:   *ksDataFormatSubtypeIEEEFloat,
	}
}

func channelMask(channels int) uint32 {
	switch channels {
	case 1:
		return 0x4 // front center
	case 2:
		return 0x3 // front left | front right
	case 6:
		return 0x3F
	case 8:
		return 0xFF
	default:
		return uint32(1<<channels) - 1
	}
}

func (s *wasapiStream) initialize(wfx *waveFormatExtensibleStruct) error {
	hr, err := comCall(s.audioClient, audioClientInitialize,
		audclntShareModeShared,
		audclntStreamLoopback,
		uintptr(bufferDuration100ns),
		0, // periodicity
		uintptr(unsafe.Pointer(wfx)),
		0, // session GUID
	)
	if err != nil && uint32(hr) == hrBufferSizeNotAligned {
		s.log.Debug("buffer size not aligned, retrying with device default")
		hr, err = comCall(s.audioClient, audioClientInitialize,
			audclntShareModeShared, audclntStreamLoopback, 0, 0,
			uintptr(unsafe.Pointer(wfx)), 0)
	}
	if err != nil {
		if uint32(hr) == hrUnsupportedFormat {
			return fmt.Errorf("%w: 0x%08X", ErrFormatNegotiation, uint32(hr))
		}
		return &ActivationError{Op: "IAudioClient::Initialize", Code: uint32(hr)}
	}
	return nil
}

func (s *wasapiStream) Start() error {
	if tid := windows.GetCurrentThreadId(); tid != s.threadID {
		// Off-thread start does not fail loudly on the native side; it
		// just produces silence. Make it visible.
		s.log.Error("stream started off its activation thread",
			"activationThread", s.threadID, "currentThread", tid)
	}
	if s.started {
		return nil
	}
	if _, err := comCall(s.audioClient, audioClientStart); err != nil {
		return fmt.Errorf("IAudioClient::Start: %w", err)
	}
	s.started = true
	return nil
}

func (s *wasapiStream) Format() audio.Format { return s.format }

func (s *wasapiStream) ReadPacket(pool *BufferPool) (*RawAudioPacket, error) {
	var dataPtr uintptr
	var numFrames, flags uint32
	hr, _, _ := syscall.SyscallN(
		comVtblFn(s.captureClient, capClientGetBuffer),
		s.captureClient,
		uintptr(unsafe.Pointer(&dataPtr)),
		uintptr(unsafe.Pointer(&numFrames)),
		uintptr(unsafe.Pointer(&flags)),
		0, // devicePosition
		0, // qpcPosition
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("GetBuffer: 0x%08X", uint32(hr))
	}
	if numFrames == 0 {
		return nil, nil
	}

	total := int(numFrames) * s.format.BlockAlign()
	buf := pool.Get(total)
	silent := flags&bufferFlagSilent != 0
	if silent || dataPtr == 0 {
		// The silent flag means the data may be garbage; substitute zeros.
		clear(buf)
		silent = true
	} else {
		copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), total))
	}

	relHr, _, _ := syscall.SyscallN(
		comVtblFn(s.captureClient, capClientReleaseBuffer),
		s.captureClient,
		uintptr(numFrames),
	)
	if int32(relHr) < 0 {
		pool.Put(buf)
		return nil, fmt.Errorf("ReleaseBuffer: 0x%08X", uint32(relHr))
	}
	return &RawAudioPacket{Data: buf, Frames: int(numFrames), Silent: silent}, nil
}

// Stop halts capture and releases native handles in reverse acquisition
// order. Idempotent.
func (s *wasapiStream) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.started {
		comCall(s.audioClient, audioClientStop)
	}
	comRelease(s.captureClient)
	comRelease(s.audioClient)
	s.captureClient, s.audioClient = 0, 0
}
