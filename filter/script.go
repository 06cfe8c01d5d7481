// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptTimeout = 100 * time.Millisecond

// ErrScriptTimeout is returned when a script runs past its time limit.
var ErrScriptTimeout = errors.New("filter script timed out")

type scriptVM struct {
	rt *goja.Runtime
	fn goja.Callable
}

// scriptFilter runs a compiled program on pooled runtimes. A goja.Runtime
// is not safe for concurrent use, so each Test borrows one.
type scriptFilter[V any] struct {
	spec    Spec
	program *goja.Program
	timeout time.Duration
	vms     chan *scriptVM
}

func newScript[V any](spec Spec) (Filter[V], error) {
	source := strings.TrimSpace(spec.Params["source"])
	if source == "" {
		return nil, fmt.Errorf("%w: script source required", ErrInvalidSpec)
	}

	timeout := defaultScriptTimeout
	if raw, ok := spec.Params["timeout"]; ok {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid script timeout %q", ErrInvalidSpec, raw)
		}
		timeout = d
	}

	program, err := goja.Compile("filter", "("+source+")", true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	f := &scriptFilter[V]{
		spec:    spec,
		program: program,
		timeout: timeout,
		vms:     make(chan *scriptVM, runtime.GOMAXPROCS(0)),
	}

	// Fail on specs whose source is not a function.
	vm, err := f.newVM()
	if err != nil {
		return nil, err
	}
	f.release(vm)

	return f, nil
}

func (f *scriptFilter[V]) Spec() Spec {
	return f.spec
}

func (f *scriptFilter[V]) Test(payload V, headers map[string]string) (bool, error) {
	vm, err := f.acquire()
	if err != nil {
		return false, err
	}

	timer := time.AfterFunc(f.timeout, func() {
		vm.rt.Interrupt(ErrScriptTimeout)
	})

	if headers == nil {
		headers = map[string]string{}
	}
	res, err := vm.fn(goja.Undefined(), vm.rt.ToValue(payload), vm.rt.ToValue(headers))

	// A fired timer may interrupt the runtime at any later point, so the
	// runtime is only reused when the timer was stopped in time.
	if timer.Stop() {
		f.release(vm)
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && interrupted.Value() == ErrScriptTimeout {
			return false, ErrScriptTimeout
		}
		return false, err
	}

	return res.ToBoolean(), nil
}

func (f *scriptFilter[V]) acquire() (*scriptVM, error) {
	select {
	case vm := <-f.vms:
		return vm, nil
	default:
		return f.newVM()
	}
}

func (f *scriptFilter[V]) release(vm *scriptVM) {
	select {
	case f.vms <- vm:
	default:
	}
}

func (f *scriptFilter[V]) newVM() (*scriptVM, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	value, err := rt.RunProgram(f.program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("%w: script source must be a function expression", ErrInvalidSpec)
	}

	return &scriptVM{rt: rt, fn: fn}, nil
}
