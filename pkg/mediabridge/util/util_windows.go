package util

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
	"github.com/mitchellh/go-ps"
)

// Cooldown between foreground-window queries; snapshot emissions can come in
// bursts and the Win32 calls are not free.
const getCurrentWindowInternalCooldown = time.Millisecond * 350

var (
	lastGetCurrentWindowResult []string
	lastGetCurrentWindowCall   = time.Now()
)

// getCurrentWindowProcessNames retrieves the process names of the currently
// focused window and its child windows, covering UWP apps and processes
// hosted inside container windows.
func getCurrentWindowProcessNames() ([]string, error) {
	now := time.Now()
	if lastGetCurrentWindowCall.Add(getCurrentWindowInternalCooldown).After(now) {
		return lastGetCurrentWindowResult, nil
	}

	lastGetCurrentWindowCall = now

	var result []string

	enumChildWindowsCallback := func(childHWND *uintptr, lParam *uintptr) uintptr {
		ownerPID := (*uint32)(unsafe.Pointer(lParam))

		var childPID uint32
		win.GetWindowThreadProcessId((win.HWND)(unsafe.Pointer(childHWND)), &childPID)

		// Only child windows belonging to a different process are interesting.
		if childPID != *ownerPID {
			processName, err := getProcessNameByPID(childPID)
			if err != nil {
				return 1
			}
			result = append(result, processName)
		}

		return 1
	}

	hwnd := win.GetForegroundWindow()
	var ownerPID uint32
	win.GetWindowThreadProcessId(hwnd, &ownerPID)

	// PID 0 is the system idle process; nothing meaningful is focused.
	if ownerPID == 0 {
		return nil, nil
	}

	processName, err := getProcessNameByPID(ownerPID)
	if err != nil {
		return nil, fmt.Errorf("get parent process for PID %d: %w", ownerPID, err)
	}
	result = append(result, processName)

	win.EnumChildWindows(hwnd, syscall.NewCallback(enumChildWindowsCallback), (uintptr)(unsafe.Pointer(&ownerPID)))

	lastGetCurrentWindowResult = result
	return result, nil
}

func getProcessNameByPID(pid uint32) (string, error) {
	process, err := ps.FindProcess(int(pid))
	if err != nil {
		return "", fmt.Errorf("find process for PID %d: %w", pid, err)
	}
	return process.Executable(), nil
}
