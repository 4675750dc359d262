//go:build darwin

package main

/*
#include <mach/mach.h>
*/
import "C"

import (
	"github.com/pkg/errors"

	"github.com/appsworld/minicore"
)

func taskForPID(pid int) (minicore.Task, error) {
	var task C.mach_port_t
	if kr := C.task_for_pid(C.mach_task_self_, C.int(pid), &task); kr != C.KERN_SUCCESS {
		return 0, errors.Errorf("task_for_pid(%d) failed: kr=%d (are you running as root / is SIP configured to allow this?)", pid, int(kr))
	}
	return minicore.Task(task), nil
}

func writeCoreForPID(task minicore.Task, path string) error {
	return minicore.WriteCoreToPath(task, path, nil)
}
