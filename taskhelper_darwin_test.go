//go:build darwin && (amd64 || arm64)

package minicore_test

/*
#include <mach/mach.h>
*/
import "C"

import (
	"github.com/pkg/errors"

	"github.com/appsworld/minicore"
)

func taskForPIDForTest(pid int) (minicore.Task, error) {
	var task C.mach_port_t
	if kr := C.task_for_pid(C.mach_task_self_, C.int(pid), &task); kr != C.KERN_SUCCESS {
		return 0, errors.Errorf("task_for_pid failed: kr=%d", int(kr))
	}
	return minicore.Task(task), nil
}
