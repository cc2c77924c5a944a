package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded          = errors.New("co-simulation is not loaded")
	ErrNotInitialized     = errors.New("co-simulation is not initialized")
	ErrAlreadyInitialized = errors.New("co-simulation is already initialized")
	ErrStepInFlight       = errors.New("another step is in flight")
	ErrStepOutOfOrder     = errors.New("step index is behind the current step")
)

// StepExecutionError 单步中引擎侧的错误
// 说明：步数已经推进到Step，不会回退
type StepExecutionError struct {
	Step  int64
	Stage string // metrics.Stage*
	Err   error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d: %s: %v", e.Step, e.Stage, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// ListenerError 单个监听器在某一步的错误（包括panic）
type ListenerError struct {
	Step  int64
	Index int // 注册顺序
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("step %d: listener #%d: %v", e.Step, e.Index, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}
