// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-hpc-etl.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// SignalStatus is one state of the Signal Directory (C1, §4.1) state
// machine: unknown -> ready -> processing -> (complete|failed);
// complete -> transferred; any -> failed.
type SignalStatus string

const (
	SignalUnknown        SignalStatus = "unknown"
	SignalReady          SignalStatus = "ready"
	SignalProcessing     SignalStatus = "processing"
	SignalComplete       SignalStatus = "complete"
	SignalFailed         SignalStatus = "failed"
	SignalTransferred    SignalStatus = "transferred"
	SignalTransferFailed SignalStatus = "transfer_failed"
)

// SignalFile is one <key>.<status> coordination file.
type SignalFile struct {
	Key     string
	Status  SignalStatus
	Message string
	Mtime   time.Time
}
