package task

import "fmt"

// StepListener 单步完成的观察者
// 说明：在ExecuteStep中同步调用，实现不能无限阻塞
type StepListener interface {
	OnStep(step int64) error
}

// StepListenerFunc 函数形式的StepListener
type StepListenerFunc func(step int64) error

func (f StepListenerFunc) OnStep(step int64) error {
	return f(step)
}

// callListener 调用监听器，panic转换为错误
func callListener(l StepListener, step int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.OnStep(step)
}
