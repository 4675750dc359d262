//go:build !darwin

package main

import (
	"github.com/pkg/errors"

	"github.com/appsworld/minicore"
)

func taskForPID(pid int) (minicore.Task, error) {
	return 0, errors.New("minicore: core dumping is only supported on Darwin")
}

func writeCoreForPID(task minicore.Task, path string) error {
	return errors.New("minicore: core dumping is only supported on Darwin")
}
