// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package errkind names the error taxonomy of §7: a small set of
// sentinel kinds wrapped with fmt.Errorf so that components can recover
// the kind with errors.Is while the message keeps component-specific
// context, the same way the teacher's packages wrap and log errors
// without custom exception types.
package errkind

import "errors"

var (
	Configuration = errors.New("configuration error")
	Source        = errors.New("source error")
	Schema        = errors.New("schema error")
	Transform     = errors.New("transform error")
	Join          = errors.New("join error")
	Write         = errors.New("write error")
	Transfer      = errors.New("transfer error")
	State         = errors.New("state error")
	Resource      = errors.New("resource error")
)

// Wrap annotates err with a kind so that errors.Is(err, kind) succeeds
// while %w still chains to the original cause.
func Wrap(kind error, component string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, component: component, err: err}
}

type kindError struct {
	kind      error
	component string
	err       error
}

func (e *kindError) Error() string {
	return e.component + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}
