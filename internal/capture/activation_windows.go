//go:build windows

package capture

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// activationHandler is a Go-implemented COM object satisfying
// IActivateAudioInterfaceCompletionHandler. It also answers QueryInterface
// for IAgileObject, which lets the platform deliver the completion on any
// MTA worker thread instead of requiring a pumped apartment.
//
// Native code only ever sees the object as a uintptr; the handler registry
// maps that pointer back to the Go struct inside the exported callbacks.
type activationHandler struct {
	vtbl *activationHandlerVtbl
	refs int32
	done chan struct{}
}

type activationHandlerVtbl struct {
	QueryInterface    uintptr
	AddRef            uintptr
	Release           uintptr
	ActivateCompleted uintptr
}

var (
	activationVtblOnce sync.Once
	activationVtbl     activationHandlerVtbl

	activationHandlers sync.Map // uintptr(this) -> *activationHandler
)

func newActivationHandler() *activationHandler {
	// syscall.NewCallback allocations are process-permanent, so the vtable
	// is built exactly once.
	activationVtblOnce.Do(func() {
		activationVtbl = activationHandlerVtbl{
			QueryInterface:    syscall.NewCallback(handlerQueryInterface),
			AddRef:            syscall.NewCallback(handlerAddRef),
			Release:           syscall.NewCallback(handlerRelease),
			ActivateCompleted: syscall.NewCallback(handlerActivateCompleted),
		}
	})
	h := &activationHandler{vtbl: &activationVtbl, refs: 1, done: make(chan struct{})}
	activationHandlers.Store(h.ptr(), h)
	return h
}

func (h *activationHandler) ptr() uintptr { return uintptr(unsafe.Pointer(h)) }

// unregister detaches the handler once the caller stops waiting. The native
// side may briefly keep calling AddRef/Release; stray calls on an
// unregistered pointer degrade to no-ops.
func (h *activationHandler) unregister() { activationHandlers.Delete(h.ptr()) }

func handlerQueryInterface(this uintptr, riid *ole.GUID, ppv *uintptr) uintptr {
	if riid == nil || ppv == nil {
		return hrENoInterface
	}
	if ole.IsEqualGUID(riid, ole.IID_IUnknown) ||
		ole.IsEqualGUID(riid, iidIActivateAudioInterfaceCompletionHandler) ||
		ole.IsEqualGUID(riid, iidIAgileObject) {
		*ppv = this
		handlerAddRef(this)
		return 0
	}
	*ppv = 0
	return hrENoInterface
}

func handlerAddRef(this uintptr) uintptr {
	if v, ok := activationHandlers.Load(this); ok {
		return uintptr(atomic.AddInt32(&v.(*activationHandler).refs, 1))
	}
	return 1
}

func handlerRelease(this uintptr) uintptr {
	if v, ok := activationHandlers.Load(this); ok {
		n := atomic.AddInt32(&v.(*activationHandler).refs, -1)
		if n < 0 {
			n = 0
		}
		return uintptr(n)
	}
	return 0
}

func handlerActivateCompleted(this, _ uintptr) uintptr {
	if v, ok := activationHandlers.Load(this); ok {
		h := v.(*activationHandler)
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}
	return 0
}
