/*
Copyright © 2026 the tpm2seal authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package error classifies every failure the sealing engine can produce
// into the fixed taxonomy callers need to react to: a bad PIN is not the
// same problem as a TPM in dictionary-attack lockout, and a CLI wrapping
// this package needs a stable exit code per Kind.
package error

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies a TPMError by the reaction a caller should take.
type Kind int

const (
	// KindUnrecoverable is the default for any TPM return code not mapped
	// to a more specific Kind below.
	KindUnrecoverable Kind = iota
	KindBadArgument
	KindUnavailableTransport
	KindUnsupported
	KindNotFound
	KindDenied
	KindLockout
	KindPcrRace
)

func (k Kind) String() string {
	switch k {
	case KindBadArgument:
		return "bad-argument"
	case KindUnavailableTransport:
		return "unavailable-transport"
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not-found"
	case KindDenied:
		return "denied"
	case KindLockout:
		return "lockout"
	case KindPcrRace:
		return "pcr-race"
	default:
		return "unrecoverable"
	}
}

// ExitCode maps a Kind to the process exit status the CLI boundary
// reports, the way ElementalError carried an exit code alongside its
// message. Codes are chosen to not collide with the shell's reserved
// 126/127 and to leave room for future Kinds.
func (k Kind) ExitCode() int {
	switch k {
	case KindBadArgument:
		return 2
	case KindUnavailableTransport:
		return 3
	case KindUnsupported:
		return 4
	case KindNotFound:
		return 5
	case KindDenied:
		return 6
	case KindLockout:
		return 7
	case KindPcrRace:
		return 8
	default:
		return 1
	}
}

// Error is the engine's error type. It carries a Kind for programmatic
// dispatch, a human message, and an optional wrapped cause (the raw TPM
// error, a parse failure, ...).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode lets Error double as the same contract ElementalError exposed:
// CLI entry points can switch on it without importing this package's Kind.
func (e *Error) ExitCode() int {
	return e.Kind.ExitCode()
}

// New builds an Error of the given Kind with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given Kind around an existing error,
// enriching it with one layer of %w-chained context via xerrors so the
// resulting message still reads correctly through fmt.Sprintf("%v") even
// though Unwrap is handled by Error itself rather than xerrors's frame.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := xerrors.Errorf(format, args...).Error()
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
