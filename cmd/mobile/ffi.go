//go:build cgo

// Build as shared library: libdriverq.so (Android) / driverq.framework (iOS)

package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"
)

// result converts a bridge result into a C string, recording err. Failed
// calls return nil; GetLastError explains why.
func result(s string, err error) *C.char {
	setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(s)
}

// Init opens the durable store and creates the offline manager. options is a
// JSON object (data_dir, store_driver, base_url, timeout_ms, online,
// log_level, backoff). Returns 0 on success and -1 on failure.
//
//export Init
func Init(options *C.char) C.int {
	err := initBridge(C.GoString(options))
	setLastError(err)
	if err != nil {
		return -1
	}
	return 0
}

// Cleanup cancels background drains, waits for them and closes the store.
//
//export Cleanup
func Cleanup() {
	setLastError(cleanupBridge())
}

// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
//
//export GetLastError
func GetLastError() *C.char {
	return C.CString(getLastError())
}

// QueueAction queues a JSON action descriptor and returns {"id": ...}.
//
//export QueueAction
func QueueAction(descriptor *C.char) *C.char {
	return result(queueAction(C.GoString(descriptor)))
}

// GetState returns the current offline state snapshot.
//
//export GetState
func GetState() *C.char {
	return result(getState())
}

// SyncPendingActions runs one drain pass and returns its result.
//
//export SyncPendingActions
func SyncPendingActions() *C.char {
	return result(syncPendingActions())
}

// ClearAllActions deletes every queued action.
//
//export ClearAllActions
func ClearAllActions() *C.char {
	return result(clearAllActions())
}

// SetOnline applies the platform connectivity signal. A non-zero value means
// online.
//
//export SetOnline
func SetOnline(online C.int) *C.char {
	return result(setOnline(online != 0))
}

// FreeString frees a string allocated by Go.
//
//export FreeString
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}
